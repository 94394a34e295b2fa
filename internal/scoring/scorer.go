package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/mozillazg/go-unidecode"

	"github.com/fyrsmithlabs/ordermatch/internal/vectorstore"
)

const (
	// MaxSimilarity is the scaled similarity of identical names.
	MaxSimilarity = 1000
	// Threshold is the scaled similarity a candidate needs to displace
	// the vector-ranked list.
	Threshold = 800
	// InternationalBonus is added to rows in a cluster that contains an
	// international record.
	InternationalBonus = 50
)

// DefaultVendorNames are the spellings of the document issuer's own
// name, which appear on invoices but must never resolve as a partner.
var DefaultVendorNames = []string{"bio-rad", "bio rad", "biorad", "bio - rad"}

// Candidate is a vector match with the name similarity computed during
// search, in [0,1]. Similarity is zero when search had no name to
// compare.
type Candidate struct {
	vectorstore.Match
	Similarity float64
}

func (c Candidate) name() string     { return c.Metadata.String("name1") }
func (c Candidate) customer() string { return c.Metadata.String("customer") }

// Scored is a ranked candidate as presented to the finalizer.
type Scored struct {
	Name          string  `json:"name"`
	Score         float64 `json:"score"`
	Customer      string  `json:"customer"`
	International bool    `json:"international"`
	Address       string  `json:"address"`
	House         string  `json:"house"`
	Similarity    float64 `json:"similarity"`
}

// Scorer filters and ranks candidates.
type Scorer struct {
	vendors []string
}

// NewScorer returns a scorer excluding names that contain any of
// vendorNames. An empty list uses DefaultVendorNames.
func NewScorer(vendorNames []string) *Scorer {
	if len(vendorNames) == 0 {
		vendorNames = DefaultVendorNames
	}
	vendors := make([]string, 0, len(vendorNames))
	for _, v := range vendorNames {
		if v = fold(v); v != "" {
			vendors = append(vendors, v)
		}
	}
	return &Scorer{vendors: vendors}
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(unidecode.Unidecode(s)))
}

// IsVendor reports whether name contains one of the vendor names.
func (s *Scorer) IsVendor(name string) bool {
	folded := fold(name)
	for _, v := range s.vendors {
		if strings.Contains(folded, v) {
			return true
		}
	}
	return false
}

// Rank scores candidates against the extracted name and its
// translation. When any candidate reaches Threshold only those are
// returned, best first; otherwise every eligible candidate is returned
// in vector order.
func (s *Scorer) Rank(cands []Candidate, name, translatedName string) []Scored {
	eligible := make([]Candidate, 0, len(cands))
	presimilar := false
	for _, c := range cands {
		if strings.TrimSpace(c.name()) == "" || s.IsVendor(c.name()) {
			continue
		}
		if c.Similarity > 0 {
			presimilar = true
		}
		eligible = append(eligible, c)
	}
	if !presimilar {
		sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].Score > eligible[j].Score })
	}

	out := make([]Scored, len(eligible))
	for i, c := range eligible {
		sim := 0.0
		if name != "" || translatedName != "" {
			sim = math.Round(NameSimilarity(name, translatedName, c.name()) * MaxSimilarity)
		}
		out[i] = Scored{
			Name:          c.name(),
			Score:         c.Score,
			Customer:      c.customer(),
			International: c.Metadata.Bool("international"),
			Address:       c.Metadata.String("oneLineAddress"),
			House:         c.Metadata.String("houseNumber"),
			Similarity:    sim,
		}
	}
	applyInternationalBonus(out)

	var strong []Scored
	for _, c := range out {
		if c.Similarity >= Threshold {
			strong = append(strong, c)
		}
	}
	if len(strong) == 0 {
		return out
	}
	sort.SliceStable(strong, func(i, j int) bool { return strong[i].Similarity > strong[j].Similarity })
	return strong
}

// applyInternationalBonus boosts clusters of rows sharing a customer
// number when the cluster contains an international record. The first
// row of such a cluster is boosted, then only its domestic rows, so no
// row is boosted twice.
func applyInternationalBonus(rows []Scored) {
	international := map[string]bool{}
	for _, r := range rows {
		if r.International && r.Customer != "" {
			international[r.Customer] = true
		}
	}
	started := map[string]bool{}
	for i := range rows {
		r := &rows[i]
		if !international[r.Customer] {
			continue
		}
		if !started[r.Customer] {
			started[r.Customer] = true
			r.Similarity += InternationalBonus
		} else if !r.International {
			r.Similarity += InternationalBonus
		}
		if r.Similarity > MaxSimilarity {
			r.Similarity = MaxSimilarity
		}
	}
}
