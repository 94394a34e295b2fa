package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
)

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty keeps the
	// database in memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// Record is a catalog point to store.
type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// ChromemStore implements Index on chromem-go. chromem matches metadata
// by string equality only, so range and set conditions are evaluated
// after the similarity scan.
type ChromemStore struct {
	db     *chromem.DB
	logger *logging.Logger
}

// NewChromemStore opens or creates the database.
func NewChromemStore(config ChromemConfig, logger *logging.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("chromem")

	if config.Path == "" {
		return &ChromemStore{db: chromem.NewDB(), logger: logger}, nil
	}

	path, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}
	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info(context.Background(), "chromem store initialized",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
	)
	return &ChromemStore{db: db, logger: logger}, nil
}

func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

var errNoEmbeddingFunc = errors.New("chromem catalog stores precomputed vectors only")

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Upsert stores records in collection, creating it on first use.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	c, err := s.db.GetOrCreateCollection(collection, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("getting/creating collection %s: %w", collection, err)
	}
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record[%d] has empty id", ErrInvalidConfig, i)
		}
		md := make(map[string]string, len(r.Metadata))
		for k := range r.Metadata {
			md[k] = r.Metadata.String(k)
		}
		err := c.AddDocument(ctx, chromem.Document{
			ID:        r.ID,
			Metadata:  md,
			Embedding: r.Vector,
			Content:   r.ID,
		})
		if err != nil {
			return fmt.Errorf("adding %s to %s: %w", r.ID, collection, err)
		}
	}
	return nil
}

// Query runs a similarity query. A zero vector lists filter matches
// with score 0.
func (s *ChromemStore) Query(ctx context.Context, req QueryRequest) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", req.Index),
		attribute.Int("top_k", req.TopK),
		attribute.String("filter", req.Filter.String()),
	)

	start := time.Now()
	defer func() {
		observeQuery("chromem", req.Index, start, len(matches), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}

	collection := s.db.GetCollection(req.Index, noEmbedding)
	if collection == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, req.Index)
	}
	count := collection.Count()
	if count == 0 {
		return []Match{}, nil
	}

	where := map[string]string{}
	postFilter := false
	for _, c := range req.Filter {
		switch v := c.Value.(type) {
		case string:
			if c.Op == OpEq {
				where[c.Field] = v
				continue
			}
		case bool:
			if c.Op == OpEq {
				where[c.Field] = fmt.Sprintf("%t", v)
				continue
			}
		}
		postFilter = true
	}

	zero := IsZero(req.Vector)
	vector := req.Vector
	if zero {
		// Cosine similarity is undefined for the zero vector.
		vector = make([]float32, len(req.Vector))
		vector[0] = 1
	}

	n := req.TopK
	if postFilter || n > count {
		n = count
	}
	if len(where) == 0 {
		where = nil
	}

	results, err := collection.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", ErrQueryFailed, req.Index, err)
	}

	matches = make([]Match, 0, req.TopK)
	for _, r := range results {
		md := make(Metadata, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		if !req.Filter.Matches(md) {
			continue
		}
		score := float64(r.Similarity)
		if zero {
			score = 0
		}
		matches = append(matches, Match{ID: r.ID, Score: score, Metadata: md})
		if len(matches) == req.TopK {
			break
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	s.logger.Trace(ctx, "queried chromem collection",
		zap.String("collection", req.Index),
		zap.Int("top_k", req.TopK),
		zap.Int("results", len(matches)),
	)
	return matches, nil
}

// Close is a no-op; persistent collections are written on every add.
func (s *ChromemStore) Close() error {
	return nil
}

var _ Index = (*ChromemStore)(nil)
