package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedChromem(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{}, nil)
	require.NoError(t, err)
	err = store.Upsert(context.Background(), "addresses", []Record{
		{ID: "a1", Vector: []float32{1, 0, 0}, Metadata: Metadata{"customer": 1000001, "country": "hk", "name1": "Alpha HK", "international": false}},
		{ID: "a2", Vector: []float32{0.9, 0.1, 0}, Metadata: Metadata{"customer": 2000002, "country": "HK", "name1": "Alpha Ship", "international": false}},
		{ID: "a3", Vector: []float32{0, 1, 0}, Metadata: Metadata{"customer": 2000002, "country": "cn", "name1": "Alpha Intl", "international": true}},
		{ID: "a4", Vector: []float32{0, 0, 1}, Metadata: Metadata{"customer": 2000004, "country": "de", "name1": "Delta"}},
	})
	require.NoError(t, err)
	return store
}

func TestChromemStore_QueryRanksBySimilarity(t *testing.T) {
	store := seedChromem(t)
	matches, err := store.Query(context.Background(), QueryRequest{Index: "addresses", Vector: []float32{1, 0, 0}, TopK: 2})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a1", matches[0].ID)
	assert.Equal(t, "a2", matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestChromemStore_SeriesAndCountryFilter(t *testing.T) {
	store := seedChromem(t)
	matches, err := store.Query(context.Background(), QueryRequest{
		Index:  "addresses",
		Vector: []float32{1, 0, 0},
		TopK:   3,
		Filter: Filter{In("country", "hk", "HK"), Gte("customer", 2000000), Lt("customer", 3000000)},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a2", matches[0].ID)
}

func TestChromemStore_ZeroVectorLookup(t *testing.T) {
	store := seedChromem(t)
	matches, err := store.Query(context.Background(), QueryRequest{
		Index:  "addresses",
		Vector: ZeroVector(3),
		TopK:   1,
		Filter: Filter{Eq("customer", 2000002), Eq("international", true)},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a3", matches[0].ID)
	assert.Zero(t, matches[0].Score)
	assert.True(t, matches[0].Metadata.Bool("international"))
}

func TestChromemStore_NoMatch(t *testing.T) {
	store := seedChromem(t)
	matches, err := store.Query(context.Background(), QueryRequest{
		Index:  "addresses",
		Vector: []float32{1, 0, 0},
		TopK:   3,
		Filter: Filter{Eq("country", "fr")},
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemStore_MissingCollection(t *testing.T) {
	store, err := NewChromemStore(ChromemConfig{}, nil)
	require.NoError(t, err)
	_, err = store.Query(context.Background(), QueryRequest{Index: "nope", Vector: []float32{1}, TopK: 1})
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestChromemStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), "materials", []Record{
		{ID: "m1", Vector: []float32{1, 0}, Metadata: Metadata{"material": "12345"}},
	}))

	reopened, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	matches, err := reopened.Query(context.Background(), QueryRequest{
		Index: "materials", Vector: ZeroVector(2), TopK: 1, Filter: Filter{Eq("material", "12345")},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "m1", matches[0].ID)
}

func TestCatalog_Lookup(t *testing.T) {
	store := seedChromem(t)
	cat := &Catalog{index: store, name: "addresses", dims: 3}
	assert.Equal(t, "addresses", cat.Name())

	matches, err := cat.Lookup(context.Background(), 5, Filter{Eq("customer", 2000002)})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}
