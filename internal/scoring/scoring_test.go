package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ordermatch/internal/vectorstore"
)

func cand(id string, score float64, md vectorstore.Metadata) Candidate {
	return Candidate{Match: vectorstore.Match{ID: id, Score: score, Metadata: md}}
}

func TestJaroWinkler(t *testing.T) {
	assert.Equal(t, 1.0, JaroWinkler("Acme GmbH", "acme gmbh"))
	assert.Equal(t, 0.0, JaroWinkler("", "acme"))
	assert.InDelta(t, 0.961, JaroWinkler("MARTHA", "MARHTA"), 0.001)
	assert.Less(t, JaroWinkler("acme", "zeta industries"), 0.6)
}

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, NameSimilarity("Müller AG", "", "müller ag"))
	assert.Equal(t, 1.0, NameSimilarity("株式会社ABC", "ABC Corporation", "abc corporation"))
	assert.Equal(t, 0.961, NameSimilarity("martha", "", "marhta"))
}

func TestScorer_IdenticalNameScores1000(t *testing.T) {
	s := NewScorer(nil)
	out := s.Rank([]Candidate{
		cand("a", 0.9, vectorstore.Metadata{"name1": "Acme Labs", "customer": 1000001.0}),
	}, "ACME LABS", "")
	require.Len(t, out, 1)
	assert.Equal(t, 1000.0, out[0].Similarity)
	assert.Equal(t, "1000001", out[0].Customer)
}

func TestScorer_ExcludesVendorAndEmptyNames(t *testing.T) {
	s := NewScorer(nil)
	out := s.Rank([]Candidate{
		cand("v1", 0.99, vectorstore.Metadata{"name1": "Bio-Rad Laboratories GmbH"}),
		cand("v2", 0.98, vectorstore.Metadata{"name1": "BIORAD France"}),
		cand("v3", 0.97, vectorstore.Metadata{"name1": "Bio - Rad"}),
		cand("e", 0.96, vectorstore.Metadata{"name1": "  "}),
		cand("ok", 0.5, vectorstore.Metadata{"name1": "Charité Berlin"}),
	}, "", "")
	require.Len(t, out, 1)
	assert.Equal(t, "Charité Berlin", out[0].Name)

	custom := NewScorer([]string{"Acme"})
	assert.True(t, custom.IsVendor("ÁCME Corp"))
	assert.False(t, custom.IsVendor("Bio-Rad"))
}

func TestScorer_SortsByScoreWithoutPriorSimilarity(t *testing.T) {
	s := NewScorer(nil)
	out := s.Rank([]Candidate{
		cand("low", 0.2, vectorstore.Metadata{"name1": "Low"}),
		cand("high", 0.8, vectorstore.Metadata{"name1": "High"}),
		cand("mid", 0.5, vectorstore.Metadata{"name1": "Mid"}),
	}, "", "")
	require.Len(t, out, 3)
	assert.Equal(t, []string{"High", "Mid", "Low"}, []string{out[0].Name, out[1].Name, out[2].Name})
	for _, o := range out {
		assert.Zero(t, o.Similarity)
	}
}

func TestScorer_KeepsOrderWhenSearchRanked(t *testing.T) {
	s := NewScorer(nil)
	low := cand("low", 0.2, vectorstore.Metadata{"name1": "Low"})
	low.Similarity = 0.9
	high := cand("high", 0.8, vectorstore.Metadata{"name1": "High"})
	high.Similarity = 0.5
	out := s.Rank([]Candidate{low, high}, "", "")
	require.Len(t, out, 2)
	assert.Equal(t, "Low", out[0].Name)
}

func TestScorer_ThresholdFiltersAndSorts(t *testing.T) {
	s := NewScorer(nil)
	out := s.Rank([]Candidate{
		cand("a", 0.9, vectorstore.Metadata{"name1": "Totally Different Inc"}),
		cand("b", 0.8, vectorstore.Metadata{"name1": "Marhta Supplies"}),
		cand("c", 0.7, vectorstore.Metadata{"name1": "Martha Supplies"}),
	}, "Martha Supplies", "")
	require.Len(t, out, 2)
	assert.Equal(t, "Martha Supplies", out[0].Name)
	assert.Equal(t, 1000.0, out[0].Similarity)
	assert.Equal(t, "Marhta Supplies", out[1].Name)
	assert.GreaterOrEqual(t, out[1].Similarity, float64(Threshold))
}

func TestScorer_BelowThresholdKeepsScoreOrder(t *testing.T) {
	s := NewScorer(nil)
	out := s.Rank([]Candidate{
		cand("a", 0.4, vectorstore.Metadata{"name1": "Zeta"}),
		cand("b", 0.9, vectorstore.Metadata{"name1": "Omega"}),
	}, "Acme", "")
	require.Len(t, out, 2)
	assert.Equal(t, "Omega", out[0].Name)
}

func TestApplyInternationalBonus(t *testing.T) {
	rows := []Scored{
		{Customer: "2000001", International: true, Similarity: 700},
		{Customer: "2000001", International: false, Similarity: 700},
		{Customer: "2000001", International: true, Similarity: 700},
		{Customer: "2000002", International: false, Similarity: 700},
		{Customer: "2000003", International: false, Similarity: 700},
		{Customer: "2000003", International: true, Similarity: 980},
	}
	applyInternationalBonus(rows)

	assert.Equal(t, 750.0, rows[0].Similarity, "first row of cluster")
	assert.Equal(t, 750.0, rows[1].Similarity, "domestic sibling")
	assert.Equal(t, 700.0, rows[2].Similarity, "second international row")
	assert.Equal(t, 700.0, rows[3].Similarity, "cluster without international record")
	assert.Equal(t, 750.0, rows[4].Similarity, "domestic row first in cluster")
	assert.Equal(t, 980.0, rows[5].Similarity, "international row after cluster start")
}

func TestApplyInternationalBonus_Clamped(t *testing.T) {
	rows := []Scored{{Customer: "1", International: true, Similarity: 990}}
	applyInternationalBonus(rows)
	assert.Equal(t, 1000.0, rows[0].Similarity)
}
