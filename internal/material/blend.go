package material

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/fyrsmithlabs/ordermatch/internal/scoring"
)

// Blend scores how well two product texts agree: 0.3 normalized
// Levenshtein, 0.4 token Jaccard and 0.3 Jaro-Winkler over sorted
// tokens.
func Blend(a, b string) float64 {
	s1 := strings.ToLower(strings.TrimSpace(a))
	s2 := strings.ToLower(strings.TrimSpace(b))

	maxLen := utf8.RuneCountInString(s1)
	if n := utf8.RuneCountInString(s2); n > maxLen {
		maxLen = n
	}
	lev := 1.0
	if maxLen > 0 {
		lev = 1 - float64(levenshtein.ComputeDistance(s1, s2))/float64(maxLen)
	}

	t1, t2 := strings.Fields(s1), strings.Fields(s2)
	return lev*0.3 + jaccard(t1, t2)*0.4 + scoring.JaroWinkler(sortedJoin(t1), sortedJoin(t2))*0.3
}

func jaccard(a, b []string) float64 {
	set := make(map[string]int, len(a)+len(b))
	for _, t := range a {
		set[t] |= 1
	}
	for _, t := range b {
		set[t] |= 2
	}
	if len(set) == 0 {
		return 0
	}
	inter := 0
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

func sortedJoin(tokens []string) string {
	cp := append([]string(nil), tokens...)
	sort.Strings(cp)
	return strings.Join(cp, " ")
}
