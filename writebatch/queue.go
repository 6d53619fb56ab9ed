package writebatch

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mevdschee/tqbatch/metrics"
)

// Flush triggers, used as metric and log labels
const (
	triggerTimer    = "timer"
	triggerSize     = "size"
	triggerShutdown = "shutdown"
)

// Store is the single writer connection a Queue executes its transactions on
type Store interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	Changes(ctx context.Context, tx *sql.Tx, res sql.Result) (int64, error)
	Close() error
}

// Queue collects commands and flushes them in shared transactions, either
// periodically or when the queue grows past MaxBatchSize
type Queue struct {
	mu       sync.Mutex // guards commands and closed, held for the whole flush
	commands []*Command
	closed   bool

	store  Store
	config Config
	name   string
	log    zerolog.Logger

	cancel    context.CancelFunc
	ticker    sync.WaitGroup
	closeOnce sync.Once
}

// NewQueue creates a queue on store and starts its flush ticker
func NewQueue(store Store, config Config, opts ...Option) (*Queue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		commands: make([]*Command, 0, config.MaxBatchSize),
		store:    store,
		config:   config,
		name:     o.name,
		log:      o.logger.With().Str("database", o.name).Logger(),
		cancel:   cancel,
	}

	q.ticker.Add(1)
	go q.run(ctx)
	return q, nil
}

// run flushes the queue every FlushInterval until ctx is done
func (q *Queue) run(ctx context.Context) {
	defer q.ticker.Done()
	ticker := time.NewTicker(q.config.FlushInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Flush()
		}
	}
}

// Enqueue appends commands to the queue. When the queue would grow past
// MaxBatchSize the queued commands are flushed synchronously first. The new
// commands always wait for a later flush, even when they alone exceed
// MaxBatchSize.
func (q *Queue) Enqueue(commands ...*Command) error {
	if len(commands) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrManagerClosed
	}

	if len(q.commands)+len(commands) > q.config.MaxBatchSize {
		q.flushLocked(triggerSize)
	}
	q.commands = append(q.commands, commands...)

	metrics.WriteQueueDepth.WithLabelValues(q.name).Set(float64(len(q.commands)))
	return nil
}

// Flush executes all queued commands. It is a no-op on an empty queue.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked(triggerTimer)
}

// Len returns the number of queued commands
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Close rejects further commands, stops the ticker and flushes until every
// queued command is completed. Commands that cannot be executed at all get
// ErrNotFlushed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		q.cancel()
		q.ticker.Wait()

		q.mu.Lock()
		defer q.mu.Unlock()

		for len(q.commands) > 0 {
			before := len(q.commands)
			q.flushLocked(triggerShutdown)
			if len(q.commands) == before {
				break
			}
		}

		if len(q.commands) > 0 {
			q.log.Error().Int("commands", len(q.commands)).Msg("closing with unflushed commands")
		}
		for _, cmd := range q.commands {
			q.settle(cmd, WriteResult{Error: ErrNotFlushed})
		}
		clear(q.commands)
		q.commands = q.commands[:0]
		metrics.WriteQueueDepth.WithLabelValues(q.name).Set(0)
	})
}
