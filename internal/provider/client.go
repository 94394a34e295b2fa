package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
)

// WinnerCache remembers the endpoint that won the first embedding race
// of a resolution session. The first stored winner is kept.
type WinnerCache struct {
	mu     sync.Mutex
	winner *Endpoint
}

// Winner returns the cached endpoint, or nil before the first race.
func (w *WinnerCache) Winner() *Endpoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.winner
}

func (w *WinnerCache) store(e *Endpoint) *Endpoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.winner == nil {
		w.winner = e
	}
	return w.winner
}

// Racer issues requests against redundant endpoints.
type Racer struct {
	endpoints []*Endpoint
	probe     string
	logger    *logging.Logger
	metrics   *Metrics
}

// NewRacer creates a racer over endpoints. probe is the input used for
// the lightweight embedding race.
func NewRacer(endpoints []*Endpoint, probe string, logger *logging.Logger, metrics *Metrics) (*Racer, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Racer{endpoints: endpoints, probe: probe, logger: logger.Named("provider"), metrics: metrics}, nil
}

// Endpoints returns the configured endpoints in order.
func (r *Racer) Endpoints() []*Endpoint {
	return r.endpoints
}

// Bind returns a client whose winner is scoped to cache.
func (r *Racer) Bind(cache *WinnerCache) *Client {
	return &Client{racer: r, cache: cache}
}

func (r *Racer) embedAll(ctx context.Context, op, input string) (*Endpoint, []float32, error) {
	idx, vec, err := First(ctx, len(r.endpoints), func(ctx context.Context, i int) ([]float32, error) {
		return r.embedOne(ctx, r.endpoints[i], op, input)
	})
	if err != nil {
		return nil, nil, err
	}
	r.metrics.recordWin(ctx, r.endpoints[idx].Name, op)
	return r.endpoints[idx], vec, nil
}

func (r *Racer) embedOne(ctx context.Context, e *Endpoint, op, input string) ([]float32, error) {
	start := time.Now()
	vec, err := e.Embed(ctx, input)
	r.metrics.recordCall(ctx, e.Name, op, time.Since(start), err)
	return vec, err
}

func (r *Racer) completeOne(ctx context.Context, e *Endpoint, req ChatRequest) (string, error) {
	start := time.Now()
	out, err := e.Complete(ctx, req)
	r.metrics.recordCall(ctx, e.Name, "chat", time.Since(start), err)
	return out, err
}

// Client is a Racer bound to one session's winner cache.
type Client struct {
	racer *Racer
	cache *WinnerCache
}

// RaceEmbedding returns the session winner, racing the probe input
// across all endpoints when no winner is cached yet.
func (c *Client) RaceEmbedding(ctx context.Context) (*Endpoint, error) {
	if w := c.cache.Winner(); w != nil {
		return w, nil
	}
	winner, _, err := c.racer.embedAll(ctx, "race", c.racer.probe)
	if err != nil {
		c.racer.logger.Error(ctx, "embedding race failed on every endpoint", zap.Error(err))
		return nil, err
	}
	winner = c.cache.store(winner)
	c.racer.logger.Info(ctx, "embedding race won", zap.String("endpoint", winner.Name))
	return winner, nil
}

// Embed embeds text on the session winner. If the winner fails, the
// call is raced across all endpoints; the cached winner is unchanged.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	winner, err := c.RaceEmbedding(ctx)
	if err != nil {
		return nil, err
	}
	vec, err := c.racer.embedOne(ctx, winner, "embed", text)
	if err == nil {
		return vec, nil
	}
	c.racer.logger.Warn(ctx, "winner failed to embed, racing all endpoints",
		zap.String("endpoint", winner.Name), zap.Error(err))
	_, vec, err = c.racer.embedAll(ctx, "embed", text)
	return vec, err
}

// Chat sends req to the session winner using its model mapping. With no
// winner, or when the winner fails, the request is raced across all
// endpoints for this call only.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if w := c.cache.Winner(); w != nil {
		out, err := c.racer.completeOne(ctx, w, req)
		if err == nil {
			return out, nil
		}
		c.racer.logger.Warn(ctx, "winner failed chat completion, racing all endpoints",
			zap.String("endpoint", w.Name), zap.String("model", req.Model), zap.Error(err))
	}

	idx, out, err := First(ctx, len(c.racer.endpoints), func(ctx context.Context, i int) (string, error) {
		return c.racer.completeOne(ctx, c.racer.endpoints[i], req)
	})
	if err != nil {
		return "", err
	}
	c.racer.metrics.recordWin(ctx, c.racer.endpoints[idx].Name, "chat")
	return out, nil
}

// ChatJSON runs Chat in JSON mode and decodes the content into out.
// Content that is not valid JSON yields ErrMalformedResponse.
func (c *Client) ChatJSON(ctx context.Context, req ChatRequest, out interface{}) error {
	req.JSON = true
	content, err := c.Chat(ctx, req)
	if err != nil {
		return err
	}
	if err := DecodeJSON(content, out); err != nil {
		c.racer.logger.Warn(ctx, "model returned malformed JSON",
			zap.String("model", req.Model), zap.Int("length", len(content)), zap.Error(err))
		return err
	}
	return nil
}

// DecodeJSON decodes model output into out, tolerating a surrounding
// markdown code fence.
func DecodeJSON(content string, out interface{}) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if s == "" {
		return fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}
