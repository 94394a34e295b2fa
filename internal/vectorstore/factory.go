package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/ordermatch/internal/config"
	"github.com/fyrsmithlabs/ordermatch/internal/logging"
)

// NewIndex creates the Index selected by cfg.Provider:
//   - "pinecone" (default): the managed REST index
//   - "qdrant": a self-hosted Qdrant server
//   - "chromem": the embedded database
func NewIndex(ctx context.Context, cfg config.VectorStoreConfig, logger *logging.Logger) (Index, error) {
	switch cfg.Provider {
	case "pinecone", "":
		store, err := NewPineconeStore(PineconeConfig{
			APIKey:        cfg.Pinecone.APIKey.Value(),
			ControllerURL: cfg.Pinecone.ControllerURL,
			Timeout:       cfg.Pinecone.Timeout.Duration(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "qdrant":
		store, err := NewQdrantStore(ctx, QdrantConfig{
			Host:                    cfg.Qdrant.Host,
			Port:                    cfg.Qdrant.Port,
			UseTLS:                  cfg.Qdrant.UseTLS,
			MaxRetries:              cfg.Qdrant.MaxRetries,
			RetryBackoff:            cfg.Qdrant.RetryBackoff.Duration(),
			CircuitBreakerThreshold: cfg.Qdrant.CircuitBreakerThreshold,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "chromem":
		store, err := NewChromemStore(ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider: %s (supported: pinecone, qdrant, chromem)", ErrInvalidConfig, cfg.Provider)
	}
}
