package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mevdschee/tqbatch/writebatch"
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Execute write statements read from stdin",
	Long: `Reads one statement per line from stdin and submits all of them
concurrently. Prints one result line per statement in input order.`,
	Args: cobra.NoArgs,
	RunE: runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	var statements []string
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		statements = append(statements, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read statements: %w", err)
	}

	m, closeFn, err := openManager()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	results := make([]writebatch.WriteResult, len(statements))
	var wg sync.WaitGroup
	for i, stmt := range statements {
		wg.Add(1)
		go func(idx int, query string) {
			defer wg.Done()
			results[idx] = m.ExecChanges(ctx, query)
		}(i, stmt)
	}
	wg.Wait()

	out := cmd.OutOrStdout()
	failed := 0
	for i, r := range results {
		if r.Error != nil {
			failed++
			fmt.Fprintf(out, "%d\terror\t%v\n", i+1, r.Error)
			continue
		}
		fmt.Fprintf(out, "%d\tok\t%d\n", i+1, r.AffectedRows)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d statements failed\n", failed, len(statements))
	}
	return nil
}
