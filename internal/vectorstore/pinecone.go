package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
)

// PineconeConfig configures the Pinecone REST client.
type PineconeConfig struct {
	APIKey string
	// ControllerURL resolves index hosts. Default: https://api.pinecone.io
	ControllerURL string
	// Hosts pins data-plane hosts per index, skipping resolution.
	Hosts   map[string]string
	Timeout time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// PineconeStore queries Pinecone indexes over REST. Data-plane hosts are
// resolved once per index through the controller API.
type PineconeStore struct {
	cfg    PineconeConfig
	client *http.Client
	logger *logging.Logger

	mu    sync.RWMutex
	hosts map[string]string
}

// NewPineconeStore creates a Pinecone-backed index.
func NewPineconeStore(cfg PineconeConfig, logger *logging.Logger) (*PineconeStore, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: pinecone api_key is required", ErrInvalidConfig)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ControllerURL == "" {
		cfg.ControllerURL = "https://api.pinecone.io"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	hosts := make(map[string]string, len(cfg.Hosts))
	for k, v := range cfg.Hosts {
		hosts[k] = normalizeHost(v)
	}
	return &PineconeStore{
		cfg:    cfg,
		client: client,
		logger: logger.Named("pinecone"),
		hosts:  hosts,
	}, nil
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return strings.TrimRight(host, "/")
}

func (s *PineconeStore) host(ctx context.Context, index string) (string, error) {
	s.mu.RLock()
	h, ok := s.hosts[index]
	s.mu.RUnlock()
	if ok {
		return h, nil
	}

	controller := strings.TrimRight(strings.TrimSpace(s.cfg.ControllerURL), "/")
	endpoint := fmt.Sprintf("%s/indexes/%s", controller, url.PathEscape(index))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: describe index %s: %v", ErrConnectionFailed, index, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrCollectionNotFound, index)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: describe index %s: status=%d body=%s", ErrConnectionFailed, index, resp.StatusCode, string(raw))
	}

	var describe struct {
		Host string `json:"host"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&describe); err != nil {
		return "", fmt.Errorf("decoding describe index: %w", err)
	}
	if strings.TrimSpace(describe.Host) == "" {
		return "", fmt.Errorf("%w: controller returned empty host for index %q", ErrConnectionFailed, index)
	}
	h = normalizeHost(describe.Host)

	s.mu.Lock()
	s.hosts[index] = h
	s.mu.Unlock()
	s.logger.Debug(ctx, "resolved pinecone host", zap.String("index", index), zap.String("host", h))
	return h, nil
}

type pineconeQuery struct {
	Vector          []float32              `json:"vector"`
	TopK            int                    `json:"topK"`
	Namespace       string                 `json:"namespace,omitempty"`
	Filter          map[string]interface{} `json:"filter,omitempty"`
	IncludeMetadata bool                   `json:"includeMetadata"`
	IncludeValues   bool                   `json:"includeValues"`
}

type pineconeResponse struct {
	Matches []struct {
		ID       string                 `json:"id"`
		Score    float64                `json:"score"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	} `json:"matches"`
}

// Query runs one similarity query against req.Index.
func (s *PineconeStore) Query(ctx context.Context, req QueryRequest) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "PineconeStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", req.Index),
		attribute.Int("top_k", req.TopK),
		attribute.String("filter", req.Filter.String()),
	)

	start := time.Now()
	defer func() {
		observeQuery("pinecone", req.Index, start, len(matches), err)
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

	host, err := s.host(ctx, req.Index)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(pineconeQuery{
		Vector:          req.Vector,
		TopK:            req.TopK,
		Namespace:       req.Namespace,
		Filter:          req.Filter.Pinecone(),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling query: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Api-Key", s.cfg.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: index=%s status=%d body=%s", ErrQueryFailed, req.Index, resp.StatusCode, string(raw))
	}

	var out pineconeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrQueryFailed, err)
	}

	zero := IsZero(req.Vector)
	matches = make([]Match, 0, len(out.Matches))
	for _, m := range out.Matches {
		score := m.Score
		if zero {
			score = 0
		}
		matches = append(matches, Match{ID: m.ID, Score: score, Metadata: Metadata(m.Metadata)})
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Close releases idle connections.
func (s *PineconeStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

var _ Index = (*PineconeStore)(nil)
