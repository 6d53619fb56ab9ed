package writebatch

import (
	"errors"
	"fmt"
)

var (
	// ErrManagerClosed is returned when operations are attempted on a closed manager
	ErrManagerClosed = errors.New("write batch manager is closed")

	// ErrNotFlushed is delivered to commands the final flush on close could not execute
	ErrNotFlushed = errors.New("write batch command was not flushed before close")

	// ErrInvalidConfig is returned when configuration values are out of range
	ErrInvalidConfig = errors.New("invalid write batch configuration")
)

// StatementError is delivered to a command whose statement was rejected by the store.
// Other commands of the same batch are not affected.
type StatementError struct {
	Query string
	Table string // target table, empty if unknown
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %q: %v", truncateQuery(e.Query, 50), e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}
