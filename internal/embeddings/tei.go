package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TEIConfig configures a Text Embeddings Inference client.
type TEIConfig struct {
	// BaseURL is the server root; /embed is appended.
	BaseURL string
	// Model is used only for metric labels.
	Model string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// TEI calls a Text Embeddings Inference server.
type TEI struct {
	config  TEIConfig
	client  *http.Client
	metrics *Metrics
}

// NewTEI creates a TEI embedder.
func NewTEI(cfg TEIConfig) (*TEI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TEI{config: cfg, client: client, metrics: NewMetrics(zap.NewNop())}, nil
}

type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// Embed generates an embedding for text.
func (t *TEI) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := t.call(ctx, "embed", text, 1)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for texts in one request.
func (t *TEI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return t.call(ctx, "embed_batch", texts, len(texts))
}

func (t *TEI) call(ctx context.Context, op string, inputs interface{}, n int) (vectors [][]float32, genErr error) {
	start := time.Now()
	defer func() {
		t.metrics.RecordGeneration(ctx, t.config.Model, op, time.Since(start), n, genErr)
	}()

	if s, ok := inputs.(string); ok && s == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(vectors) != n {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, n, len(vectors))
	}
	return vectors, nil
}
