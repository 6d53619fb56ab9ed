package writebatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mevdschee/tqbatch/parser"
)

// Command represents a single write operation waiting in the queue
type Command struct {
	Query       string
	Params      []interface{}
	WantChanges bool // read the change counter after executing
	EnqueuedAt  time.Time

	parsed *parser.ParsedQuery // statement type, table and source hint
	once   sync.Once
	done   chan struct{}
	result WriteResult
}

// WriteResult contains the result of a write operation
type WriteResult struct {
	AffectedRows int64 // only set when Counted is true
	Counted      bool
	Error        error
}

// NewCommand creates a pending command for query with params
func NewCommand(query string, params []interface{}, wantChanges bool) *Command {
	return &Command{
		Query:       query,
		Params:      params,
		WantChanges: wantChanges,
		EnqueuedAt:  time.Now(),
		parsed:      parser.Parse(query),
		done:        make(chan struct{}),
	}
}

// statement returns the parsed statement. Commands built without NewCommand
// are parsed on first use, under the queue lock.
func (c *Command) statement() *parser.ParsedQuery {
	if c.parsed == nil {
		c.parsed = parser.Parse(c.Query)
	}
	return c.parsed
}

// complete stores the result and releases waiters. Only the first call has effect.
func (c *Command) complete(result WriteResult) bool {
	completed := false
	c.once.Do(func() {
		c.result = result
		close(c.done)
		completed = true
	})
	return completed
}

// Completed reports whether the command has a result
func (c *Command) Completed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the command is completed
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome. It must only be read after Done is closed.
func (c *Command) Result() WriteResult {
	<-c.done
	return c.result
}

// Wait blocks until the command is completed or ctx is done. A canceled wait
// does not remove the command from the queue.
func (c *Command) Wait(ctx context.Context) WriteResult {
	select {
	case <-c.done:
		return c.result
	case <-ctx.Done():
		return WriteResult{Error: ctx.Err()}
	}
}

// Config holds configuration for the write batch queue
type Config struct {
	FlushIntervalMs int // Period of the flush ticker (50ms default, at least 1)
	MaxBatchSize    int // Queue length that triggers a flush (5000 default, at least 2)
	MaxAttempts     int // Transactions per flush before giving up on the rest (100 default)
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		FlushIntervalMs: 50,
		MaxBatchSize:    5000,
		MaxAttempts:     100,
	}
}

// Validate checks the configuration bounds
func (c Config) Validate() error {
	if c.FlushIntervalMs < 1 {
		return fmt.Errorf("%w: flush interval must be at least 1ms, got %d", ErrInvalidConfig, c.FlushIntervalMs)
	}
	if c.MaxBatchSize < 2 {
		return fmt.Errorf("%w: max batch size must be at least 2, got %d", ErrInvalidConfig, c.MaxBatchSize)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	return nil
}

// FlushInterval returns the ticker period
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}
