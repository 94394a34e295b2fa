// Package session scopes per-document resolution state: the provider
// race winner and the accumulated candidate names used by the
// finalizer prompt.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
	"github.com/fyrsmithlabs/ordermatch/internal/provider"
)

// Session is the state shared by all calls made while resolving one
// document. It is safe for concurrent use.
type Session struct {
	ID         string
	DocumentID string
	Started    time.Time
	Winner     *provider.WinnerCache

	mu    sync.Mutex
	names []string
	seen  map[string]struct{}
}

// New starts a session for documentID.
func New(documentID string) *Session {
	return &Session{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Started:    time.Now(),
		Winner:     &provider.WinnerCache{},
		seen:       make(map[string]struct{}),
	}
}

// AddName records a candidate name. Empty and repeated names are ignored.
func (s *Session) AddName(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[name]; ok {
		return
	}
	s.seen[name] = struct{}{}
	s.names = append(s.names, name)
}

// Names returns the accumulated names in insertion order.
func (s *Session) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// Elapsed reports time since the session started.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.Started)
}

// Context attaches the session and document ids for logging.
func (s *Session) Context(ctx context.Context) context.Context {
	ctx = logging.WithSessionID(ctx, s.ID)
	if s.DocumentID != "" {
		ctx = logging.WithDocumentID(ctx, s.DocumentID)
	}
	return ctx
}
