package writebatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mevdschee/tqbatch/metrics"
)

// flushLocked executes the queued commands in one transaction. A failing
// statement completes only its own command; the transaction is rolled back
// and the remaining commands are retried in a fresh one, up to MaxAttempts
// transactions. Commands not settled by then stay queued. Callers hold q.mu.
func (q *Queue) flushLocked(trigger string) {
	if len(q.commands) == 0 {
		return
	}

	start := time.Now()
	log := q.log.With().Str("batch", uuid.NewString()).Str("trigger", trigger).Logger()
	metrics.WriteBatchSize.WithLabelValues(q.name).Observe(float64(len(q.commands)))

	ctx := context.Background()
	pending := q.commands
	attempts := 0
	for attempts < q.config.MaxAttempts && len(pending) > 0 {
		if attempts > 0 {
			metrics.WriteRetriesTotal.WithLabelValues(q.name).Inc()
		}
		attempts++

		err := q.executeBatch(ctx, log, pending)
		pending = removeCompleted(pending)
		if err != nil {
			log.Error().Err(err).Int("pending", len(pending)).Msg("flush aborted")
			break
		}
	}

	if len(pending) > 0 && attempts >= q.config.MaxAttempts {
		log.Warn().Int("attempts", attempts).Int("pending", len(pending)).Msg("retry limit reached, keeping commands queued")
	}

	q.commands = pending
	metrics.WriteQueueDepth.WithLabelValues(q.name).Set(float64(len(pending)))
	metrics.WriteFlushLatency.WithLabelValues(q.name, trigger).Observe(time.Since(start).Seconds())
	log.Debug().Int("attempts", attempts).Int("pending", len(pending)).Dur("took", time.Since(start)).Msg("flush done")
}

// executeBatch runs one transaction over commands. A statement error completes
// that command and returns nil so the caller retries the rest. A returned error
// means no command could be executed.
func (q *Queue) executeBatch(ctx context.Context, log zerolog.Logger, commands []*Command) error {
	tx, err := q.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	results := make([]WriteResult, len(commands))

	for i, cmd := range commands {
		result, err := tx.ExecContext(ctx, cmd.Query, cmd.Params...)
		if err == nil && cmd.WantChanges {
			var changes int64
			changes, err = q.store.Changes(ctx, tx, result)
			results[i] = WriteResult{AffectedRows: changes, Counted: true}
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Warn().Err(rbErr).Msg("rollback failed")
			}
			stmt := cmd.statement()
			event := log.Debug().Err(err).Int("index", i).Str("table", stmt.Table)
			if stmt.File != "" {
				event = event.Str("file", stmt.File).Int("line", stmt.Line)
			}
			event.Msg("statement failed, retrying remaining commands")
			q.settle(cmd, WriteResult{Error: &StatementError{Query: cmd.Query, Table: stmt.Table, Err: err}})
			return nil
		}
	}

	if err := tx.Commit(); err != nil {
		// The transaction did not commit, so none of its commands took effect
		err = fmt.Errorf("commit transaction: %w", err)
		log.Error().Err(err).Int("commands", len(commands)).Msg("commit failed")
		for _, cmd := range commands {
			q.settle(cmd, WriteResult{Error: err})
		}
		return nil
	}

	for i, cmd := range commands {
		q.settle(cmd, results[i])
	}
	return nil
}

// settle completes cmd and records its metrics
func (q *Queue) settle(cmd *Command, result WriteResult) {
	if !cmd.complete(result) {
		return
	}
	status := "ok"
	if result.Error != nil {
		status = "error"
	}
	metrics.WriteCommandsTotal.WithLabelValues(q.name, cmd.statement().Type.String(), status).Inc()
	metrics.WriteCommandDelay.WithLabelValues(q.name).Observe(time.Since(cmd.EnqueuedAt).Seconds())
}

// removeCompleted filters commands in place, keeping submission order
func removeCompleted(commands []*Command) []*Command {
	kept := commands[:0]
	for _, cmd := range commands {
		if !cmd.Completed() {
			kept = append(kept, cmd)
		}
	}
	clear(commands[len(kept):])
	return kept
}

// truncateQuery truncates a query for use in error messages
func truncateQuery(query string, maxLen int) string {
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
