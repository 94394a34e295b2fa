// Package events publishes document processing outcomes to NATS.
//
// Subjects follow the pattern:
//
//	{prefix}.document.completed
//	{prefix}.document.failed
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/config"
	"github.com/fyrsmithlabs/ordermatch/internal/logging"
)

// DefaultSubjectPrefix is used when the configured prefix is empty.
const DefaultSubjectPrefix = "ordermatch"

// Status is the terminal state of a document.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotConnected is returned when publishing on a closed publisher.
var ErrNotConnected = errors.New("events: not connected")

// Event describes one processed document.
type Event struct {
	SessionID  string    `json:"session_id"`
	DocumentID string    `json:"document_id"`
	Status     Status    `json:"status"`
	Confidence float64   `json:"confidence"`
	Items      int       `json:"items"`
	Resolved   int       `json:"resolved_roles"`
	Error      string    `json:"error,omitempty"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher sends events on a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *logging.Logger
}

// Connect dials the configured NATS server.
func Connect(cfg config.EventsConfig, logger *logging.Logger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("ordermatch"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	p := NewPublisher(nc, cfg.SubjectPrefix, logger)
	p.owned = true
	return p, nil
}

// NewPublisher wraps an existing connection. The caller keeps
// ownership of nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger.Named("events")}
}

// Subject returns the subject an event with status s is published on.
func (p *Publisher) Subject(s Status) string {
	return fmt.Sprintf("%s.document.%s", p.prefix, s)
}

// Publish sends ev. A zero timestamp is set to now.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.nc == nil || p.nc.IsClosed() {
		return ErrNotConnected
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(ev.Status)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug(ctx, "event published", zap.String("subject", subject))
	return nil
}

// Close drains the connection if the publisher dialed it.
func (p *Publisher) Close() error {
	if p == nil || p.nc == nil || !p.owned {
		return nil
	}
	return p.nc.Drain()
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
