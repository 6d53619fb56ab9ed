// Package registry hands out one shared write batch manager per database identity.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/mevdschee/tqbatch/store"
	"github.com/mevdschee/tqbatch/writebatch"
)

// ErrClosed is returned by Get after Close
var ErrClosed = errors.New("registry is closed")

// Settings configures the manager created for one identity
type Settings struct {
	Name          string // Label for metrics and logs
	Driver        string // sqlite3 when empty
	WriteAheadLog bool
	Batch         writebatch.Config
}

// DefaultSettings returns the settings used for identities that were never configured
func DefaultSettings() Settings {
	return Settings{
		Driver: "sqlite3",
		Batch:  writebatch.DefaultConfig(),
	}
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger passed to every manager
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = logger
	}
}

// Registry maps an identity, the data source name, to its manager
type Registry struct {
	managers *xsync.MapOf[string, *writebatch.Manager]
	settings *xsync.MapOf[string, Settings]
	log      zerolog.Logger

	mu     sync.RWMutex // held for reading by Get, for writing when closing
	closed bool
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		managers: xsync.NewMapOf[string, *writebatch.Manager](),
		settings: xsync.NewMapOf[string, Settings](),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure stores settings for identity. They only apply when the manager for
// identity has not been created yet.
func (r *Registry) Configure(identity string, s Settings) {
	r.settings.Store(identity, s)
}

// Get returns the manager for identity, creating it on first use. Concurrent
// callers for the same identity receive the same manager.
func (r *Registry) Get(identity string) (*writebatch.Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	if m, ok := r.managers.Load(identity); ok {
		return m, nil
	}

	var openErr error
	m, ok := r.managers.Compute(identity, func(existing *writebatch.Manager, loaded bool) (*writebatch.Manager, bool) {
		if loaded {
			return existing, false
		}
		m, err := r.open(identity)
		if err != nil {
			openErr = err
			return nil, true
		}
		return m, false
	})
	if openErr != nil {
		return nil, openErr
	}
	if !ok {
		return nil, fmt.Errorf("no manager for %q", identity)
	}
	return m, nil
}

func (r *Registry) open(identity string) (*writebatch.Manager, error) {
	s, ok := r.settings.Load(identity)
	if !ok {
		s = DefaultSettings()
	}

	w, err := store.Open(context.Background(), store.Options{
		Driver:        s.Driver,
		DSN:           identity,
		WriteAheadLog: s.WriteAheadLog,
	})
	if err != nil {
		return nil, err
	}

	m, err := writebatch.New(w, s.Batch,
		writebatch.WithName(s.Name),
		writebatch.WithLogger(r.log),
	)
	if err != nil {
		w.Close()
		return nil, err
	}

	r.log.Info().Str("database", s.Name).Str("driver", w.Dialect().Driver).
		Int("max_batch_size", s.Batch.MaxBatchSize).Int("flush_interval_ms", s.Batch.FlushIntervalMs).
		Msg("write batch manager started")
	return m, nil
}

// Close closes every manager created so far. Later calls to Get fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	var errs []error
	r.managers.Range(func(identity string, m *writebatch.Manager) bool {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", identity, err))
		}
		r.managers.Delete(identity)
		return true
	})
	return errors.Join(errs...)
}
