package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mevdschee/tqbatch/writebatch"
)

var (
	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Benchmark batched inserts",
		Long: `Runs concurrent inserts through the write batch manager, with a share
of statements that fail, and reports throughput and row counts.`,
		Args: cobra.NoArgs,
		RunE: runBench,
	}

	benchCount     int
	benchErrorsPct int
	benchTable     string
)

func init() {
	benchCmd.Flags().IntVar(&benchCount, "count", 10000, "Number of inserts")
	benchCmd.Flags().IntVar(&benchErrorsPct, "errors", 0, "Percentage of failing statements (0-100)")
	benchCmd.Flags().StringVar(&benchTable, "table", "tqbatch_bench", "Table to insert into")
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchErrorsPct < 0 || benchErrorsPct > 100 {
		return fmt.Errorf("--errors must be between 0 and 100, got %d", benchErrorsPct)
	}

	m, closeFn, err := openManager()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (data TEXT NOT NULL, value INTEGER)", benchTable)
	if r := m.Exec(ctx, create); r.Error != nil {
		return fmt.Errorf("create table: %w", r.Error)
	}

	insert := fmt.Sprintf("INSERT INTO %s (data, value) VALUES (?, ?)", benchTable)
	// NULL violates the NOT NULL constraint
	failing := fmt.Sprintf("INSERT INTO %s (data, value) VALUES (NULL, ?)", benchTable)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ok     int
		failed int
		rows   int64
	)

	start := time.Now()
	for i := 0; i < benchCount; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var r writebatch.WriteResult
			if n%100 < benchErrorsPct {
				r = m.ExecChanges(ctx, failing, n)
			} else {
				r = m.ExecChanges(ctx, insert, fmt.Sprintf("row%d", n), n)
			}
			mu.Lock()
			defer mu.Unlock()
			if r.Error != nil {
				failed++
				return
			}
			ok++
			rows += r.AffectedRows
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	log.Info().Int("count", benchCount).Int("errors_pct", benchErrorsPct).
		Dur("elapsed", elapsed).Msg("benchmark finished")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "statements: %d ok, %d failed\n", ok, failed)
	fmt.Fprintf(out, "rows inserted: %d\n", rows)
	fmt.Fprintf(out, "elapsed: %s (%.0f statements/s)\n", elapsed.Round(time.Millisecond), float64(benchCount)/elapsed.Seconds())
	return nil
}
