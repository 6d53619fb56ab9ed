package writebatch

import (
	"context"
	"sync"
)

// Manager batches write statements from concurrent callers onto one writer
// connection. It owns the store and closes it on Close.
type Manager struct {
	queue *Queue
	store Store

	closeOnce sync.Once
	closeErr  error
}

// New creates a new write batch manager on store
func New(store Store, config Config, opts ...Option) (*Manager, error) {
	queue, err := NewQueue(store, config, opts...)
	if err != nil {
		return nil, err
	}
	return &Manager{
		queue: queue,
		store: store,
	}, nil
}

// Submit queues a write and returns its command without waiting. Wait on the
// command for the outcome. With wantChanges the result carries the number of
// rows the statement changed.
func (m *Manager) Submit(query string, params []interface{}, wantChanges bool) (*Command, error) {
	cmd := NewCommand(query, params, wantChanges)
	if err := m.queue.Enqueue(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Exec queues a write and waits for its result
func (m *Manager) Exec(ctx context.Context, query string, params ...interface{}) WriteResult {
	return m.exec(ctx, query, params, false)
}

// ExecChanges queues a write and waits for its result including the number of
// changed rows
func (m *Manager) ExecChanges(ctx context.Context, query string, params ...interface{}) WriteResult {
	return m.exec(ctx, query, params, true)
}

func (m *Manager) exec(ctx context.Context, query string, params []interface{}, wantChanges bool) WriteResult {
	cmd, err := m.Submit(query, params, wantChanges)
	if err != nil {
		return WriteResult{Error: err}
	}
	return cmd.Wait(ctx)
}

// Pending returns the number of queued commands
func (m *Manager) Pending() int {
	return m.queue.Len()
}

// Close flushes every queued command and then closes the store
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.queue.Close()
		m.closeErr = m.store.Close()
	})
	return m.closeErr
}
