package address

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKC, folding full-width digits and letters common
// in CJK documents, and collapses whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// QueryText is the form of s that is embedded for search.
func QueryText(s string) string {
	return strings.ToLower(Normalize(s))
}
