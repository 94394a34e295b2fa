// Package partners serves the customer partner-function table: for a
// customer, the customers registered as its partners. The table is a
// JSON file that can be reloaded while the service runs.
package partners

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
)

var (
	// ErrInvalidTable indicates the table file could not be decoded.
	ErrInvalidTable = errors.New("invalid partner table")

	// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
	ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")
)

type entry struct {
	Customer json.Number `json:"customer"`
}

// Table maps a customer number to its partners. It is safe for
// concurrent use.
type Table struct {
	path   string
	logger *logging.Logger

	mu       sync.RWMutex
	partners map[string][]string
}

// Load reads the table at path.
func Load(path string, logger *logging.Logger) (*Table, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	t := &Table{path: path, logger: logger.Named("partners")}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// FromMap builds an in-memory table.
func FromMap(m map[string][]string) *Table {
	cp := make(map[string][]string, len(m))
	for k, v := range m {
		cp[k] = append([]string(nil), v...)
	}
	return &Table{partners: cp, logger: logging.NewNop()}
}

// Partners returns the partner customer numbers for customer.
func (t *Table) Partners(customer string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.partners[customer]...)
}

// Len returns the number of customers in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.partners)
}

// Reload re-reads the table file. On error the current table is kept.
func (t *Table) Reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("reading partner table: %w", err)
	}
	var raw map[string][]entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	partners := make(map[string][]string, len(raw))
	for customer, list := range raw {
		for _, e := range list {
			if e.Customer != "" {
				partners[customer] = append(partners[customer], e.Customer.String())
			}
		}
	}

	t.mu.Lock()
	t.partners = partners
	t.mu.Unlock()
	return nil
}

// Watch reloads the table whenever its file is written or replaced,
// until ctx is cancelled. The parent directory is watched so editors
// that rename over the file are seen.
func (t *Table) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(t.path), err)
	}

	go func() {
		defer watcher.Close()
		name := filepath.Clean(t.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if err := t.Reload(); err != nil {
					t.logger.Warn(ctx, "partner table reload failed, keeping previous table", zap.Error(err))
					continue
				}
				t.logger.Info(ctx, "partner table reloaded", zap.Int("customers", t.Len()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.Warn(ctx, "partner table watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
