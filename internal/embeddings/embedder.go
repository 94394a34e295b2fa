package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ordermatch/internal/config"
	"github.com/fyrsmithlabs/ordermatch/internal/logging"
	"github.com/fyrsmithlabs/ordermatch/internal/provider"
)

var (
	// ErrEmptyInput indicates empty input text.
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder produces a vector for one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Source hands out the Embedder used by one resolution session.
type Source interface {
	ForSession(winner *provider.WinnerCache) Embedder
}

// RaceSource embeds through the session's raced provider client.
type RaceSource struct {
	racer *provider.Racer
}

// NewRaceSource returns a Source backed by racer.
func NewRaceSource(racer *provider.Racer) *RaceSource {
	return &RaceSource{racer: racer}
}

// ForSession binds the racer to the session's winner.
func (s *RaceSource) ForSession(winner *provider.WinnerCache) Embedder {
	return s.racer.Bind(winner)
}

// StaticSource returns the same Embedder for every session.
type StaticSource struct {
	Embedder Embedder
}

func (s StaticSource) ForSession(*provider.WinnerCache) Embedder {
	return s.Embedder
}

// NewSource builds the configured Source. A non-empty cache address
// wraps it with a Redis cache; Close releases the cache client.
func NewSource(cfg config.Config, racer *provider.Racer, logger *logging.Logger) (Source, func() error, error) {
	var (
		src   Source
		model string
	)
	switch cfg.Embeddings.Backend {
	case "race", "":
		if racer == nil {
			return nil, nil, fmt.Errorf("%w: race backend needs provider endpoints", ErrInvalidConfig)
		}
		src = NewRaceSource(racer)
		model = cfg.Providers.EmbeddingModel
	case "tei":
		tei, err := NewTEI(TEIConfig{BaseURL: cfg.Embeddings.TEIURL, Model: cfg.Embeddings.TEIModel})
		if err != nil {
			return nil, nil, err
		}
		src = StaticSource{Embedder: tei}
		model = cfg.Embeddings.TEIModel
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Embeddings.Backend)
	}

	if cfg.Embeddings.Cache.Addr == "" {
		return src, func() error { return nil }, nil
	}
	cache := NewRedisCache(CacheConfig{
		Addr:     cfg.Embeddings.Cache.Addr,
		Password: cfg.Embeddings.Cache.Password.Value(),
		DB:       cfg.Embeddings.Cache.DB,
		TTL:      cfg.Embeddings.Cache.TTL.Duration(),
		Prefix:   cfg.Embeddings.Cache.Prefix,
		Model:    model,
	}, logger)
	return &CachedSource{Source: src, Cache: cache}, cache.Close, nil
}
