package material

import (
	"regexp"
	"strings"
	"unicode"
)

// codePattern matches hyphenated codes and runs with at least three
// digits, such as 68-041-002000 or HSP9601.
var codePattern = regexp.MustCompile(`\b(?:[A-Z0-9]+-[A-Z0-9]+|[A-Z]*[0-9]{3,}[A-Z0-9]*)\b`)

// codeNeighbor reports whether r may border a code: whitespace, word
// characters and hyphens. Codes touching other punctuation, such as
// "$410/CA", are rejected.
func codeNeighbor(r rune) bool {
	return unicode.IsSpace(r) || r == '_' || r == '-' || r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

// ExtractCodes returns candidate material codes in text, in order.
func ExtractCodes(text string) []string {
	var out []string
	for _, loc := range codePattern.FindAllStringIndex(text, -1) {
		if loc[0] > 0 {
			r := lastRune(text[:loc[0]])
			if !codeNeighbor(r) {
				continue
			}
		}
		if loc[1] < len(text) {
			r := []rune(text[loc[1]:])[0]
			if !codeNeighbor(r) {
				continue
			}
		}
		out = append(out, text[loc[0]:loc[1]])
	}
	return out
}

func lastRune(s string) rune {
	r := []rune(s)
	return r[len(r)-1]
}

var (
	vendorPrefixed = regexp.MustCompile(`(?i)bio[-\s]?rad\s*(\d+)`)
	standalone     = regexp.MustCompile(`\b\d{6,8}\b`)
	prefixed       = regexp.MustCompile(`\b[A-Z]{1,3}\d{3,8}[A-Z]?\b`)
	compound       = regexp.MustCompile(`\b[A-Z0-9]+[/-][A-Z0-9]+\b`)
)

// ExtractFromDescription finds material ids written into a free-text
// description, deduplicated in discovery order.
func ExtractFromDescription(description string) []string {
	if strings.TrimSpace(description) == "" {
		return nil
	}
	var ids []string
	for _, m := range vendorPrefixed.FindAllStringSubmatch(description, -1) {
		ids = append(ids, m[1])
	}
	ids = append(ids, standalone.FindAllString(description, -1)...)
	ids = append(ids, prefixed.FindAllString(description, -1)...)
	ids = append(ids, compound.FindAllString(description, -1)...)
	return dedupe(ids)
}

var digitRuns = regexp.MustCompile(`\d+`)

// Variations returns the lookup keys tried for code: the code itself,
// each embedded digit run, and the part before the first hyphen.
func Variations(code string) []string {
	out := []string{code}
	for _, run := range digitRuns.FindAllString(code, -1) {
		out = append(out, run)
	}
	if i := strings.Index(code, "-"); i >= 0 {
		out = append(out, strings.TrimSpace(code[:i]))
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
