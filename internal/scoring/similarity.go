// Package scoring ranks address candidates by name similarity, vector
// relevance and international-cluster membership.
package scoring

import (
	"math"
	"strings"

	"github.com/xrash/smetrics"
)

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0,1],
// compared case-insensitively.
func JaroWinkler(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return smetrics.JaroWinkler(a, b, 0.7, 4)
}

// NameSimilarity is the better of the extracted and translated names
// against a catalog name, rounded to three decimals.
func NameSimilarity(name, translatedName, catalogName string) float64 {
	sim := math.Max(JaroWinkler(name, catalogName), JaroWinkler(translatedName, catalogName))
	return Round(sim, 3)
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
