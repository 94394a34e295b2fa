package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinecone struct {
	*httptest.Server
	describes atomic.Int32
	lastQuery pineconeQuery
}

func newFakePinecone(t *testing.T) *fakePinecone {
	t.Helper()
	f := &fakePinecone{}
	mux := http.NewServeMux()
	mux.HandleFunc("/indexes/addresses", func(w http.ResponseWriter, r *http.Request) {
		f.describes.Add(1)
		if r.Header.Get("Api-Key") != "pc-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"host": f.URL})
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Key") != "pc-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&f.lastQuery); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"matches": []map[string]interface{}{
				{"id": "c1", "score": 0.91, "metadata": map[string]interface{}{"customer": 2000001, "name1": "ACME Ltd", "international": false}},
				{"id": "c2", "score": 0.87, "metadata": map[string]interface{}{"customer": 2000002, "name1": "Beta"}},
			},
		})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func TestPineconeStore_Query(t *testing.T) {
	srv := newFakePinecone(t)
	store, err := NewPineconeStore(PineconeConfig{APIKey: "pc-key", ControllerURL: srv.URL}, nil)
	require.NoError(t, err)

	req := QueryRequest{
		Index:     "addresses",
		Namespace: "customers",
		Vector:    []float32{0.1, 0.2},
		TopK:      3,
		Filter:    Filter{In("country", "de", "DE"), Gte("customer", 2000000), Lt("customer", 3000000)},
	}
	matches, err := store.Query(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "c1", matches[0].ID)
	assert.InDelta(t, 0.91, matches[0].Score, 1e-9)
	assert.Equal(t, "2000001", matches[0].Metadata.String("customer"))

	assert.Equal(t, 3, srv.lastQuery.TopK)
	assert.Equal(t, "customers", srv.lastQuery.Namespace)
	assert.True(t, srv.lastQuery.IncludeMetadata)
	assert.Contains(t, srv.lastQuery.Filter, "country")

	// host is resolved once
	_, err = store.Query(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.describes.Load())
}

func TestPineconeStore_ZeroVectorScoresZero(t *testing.T) {
	srv := newFakePinecone(t)
	store, err := NewPineconeStore(PineconeConfig{APIKey: "pc-key", ControllerURL: srv.URL}, nil)
	require.NoError(t, err)

	matches, err := store.Query(context.Background(), QueryRequest{
		Index:  "addresses",
		Vector: ZeroVector(2),
		TopK:   1,
		Filter: Filter{Eq("customer", 2000001), Eq("international", true)},
	})
	require.NoError(t, err)
	for _, m := range matches {
		assert.Zero(t, m.Score)
	}
}

func TestPineconeStore_Errors(t *testing.T) {
	_, err := NewPineconeStore(PineconeConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	srv := newFakePinecone(t)
	store, err := NewPineconeStore(PineconeConfig{APIKey: "wrong", ControllerURL: srv.URL}, nil)
	require.NoError(t, err)
	_, err = store.Query(context.Background(), QueryRequest{Index: "addresses", Vector: []float32{1}, TopK: 1})
	assert.ErrorIs(t, err, ErrConnectionFailed)

	_, err = store.Query(context.Background(), QueryRequest{Index: "missing", Vector: []float32{1}, TopK: 1})
	assert.Error(t, err)

	_, err = store.Query(context.Background(), QueryRequest{Index: "addresses", Vector: []float32{1}, TopK: 0})
	assert.ErrorIs(t, err, ErrQueryFailed)
}

func TestPineconeStore_PinnedHost(t *testing.T) {
	srv := newFakePinecone(t)
	store, err := NewPineconeStore(PineconeConfig{
		APIKey:        "pc-key",
		ControllerURL: "http://127.0.0.1:1",
		Hosts:         map[string]string{"addresses": srv.URL},
	}, nil)
	require.NoError(t, err)

	_, err = store.Query(context.Background(), QueryRequest{Index: "addresses", Vector: []float32{1}, TopK: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 0, srv.describes.Load())
}
