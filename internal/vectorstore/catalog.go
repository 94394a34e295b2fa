package vectorstore

import (
	"context"

	"github.com/fyrsmithlabs/ordermatch/internal/config"
)

// Catalog binds an Index to one configured index and namespace.
type Catalog struct {
	index     Index
	name      string
	namespace string
	dims      int
}

// NewCatalog returns a catalog over idx. dims sizes zero-vector lookups.
func NewCatalog(idx Index, cfg config.IndexConfig, dims int) *Catalog {
	return &Catalog{index: idx, name: cfg.Index, namespace: cfg.Namespace, dims: dims}
}

// Name returns the underlying index name.
func (c *Catalog) Name() string {
	return c.name
}

// Search returns the topK nearest points to vec that satisfy filter.
func (c *Catalog) Search(ctx context.Context, vec []float32, topK int, filter Filter) ([]Match, error) {
	return c.index.Query(ctx, QueryRequest{
		Index:     c.name,
		Namespace: c.namespace,
		Vector:    vec,
		TopK:      topK,
		Filter:    filter,
	})
}

// Lookup returns up to topK points selected by filter alone. Scores
// are 0.
func (c *Catalog) Lookup(ctx context.Context, topK int, filter Filter) ([]Match, error) {
	return c.Search(ctx, ZeroVector(c.dims), topK, filter)
}
