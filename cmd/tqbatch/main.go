package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mevdschee/tqbatch/config"
	"github.com/mevdschee/tqbatch/logging"
	"github.com/mevdschee/tqbatch/metrics"
	"github.com/mevdschee/tqbatch/registry"
	"github.com/mevdschee/tqbatch/writebatch"
)

var (
	rootCmd = &cobra.Command{
		Use:   "tqbatch",
		Short: "batch concurrent writes onto a single writer connection",
		Long: `tqbatch queues write statements from concurrent callers and flushes
them in shared transactions on one writer connection.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	flagConfig   string
	flagLogLevel string
	flagMetrics  string
	flagDSN      string
	flagDB       string

	cfg *config.Config
	log zerolog.Logger
)

func init() {
	// load .env files before flags are evaluated
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagMetrics, "metrics", "", "Metrics endpoint address, e.g. :9090")
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "", "Data source name, overrides the configured one")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "main", "Name of the configured database")

	rootCmd.AddCommand(execCmd, benchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	cfg = &config.Config{LogLevel: "info", Databases: map[string]config.DatabaseConfig{}}
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	var err error
	log, err = logging.New(level, os.Stderr)
	if err != nil {
		return err
	}

	metrics.Init()

	listen := cfg.MetricsListen
	if flagMetrics != "" {
		listen = flagMetrics
	}
	if listen != "" {
		startMetricsServer(cmd.Context(), listen)
	}
	return nil
}

func startMetricsServer(ctx context.Context, addr string) {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Msgf("Metrics endpoint at http://localhost%s/metrics", addr)
		log.Info().Msgf("Pprof endpoints at http://localhost%s/debug/pprof/", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

// openManager returns the manager for the selected database and a function that
// flushes and closes it
func openManager() (*writebatch.Manager, func(), error) {
	db, ok := cfg.Databases[flagDB]
	if !ok {
		if flagDSN == "" {
			return nil, nil, fmt.Errorf("database %q is not configured (configured: %s) and no --dsn given",
				flagDB, strings.Join(cfg.Names(), ", "))
		}
		defaults := writebatch.DefaultConfig()
		db = config.DatabaseConfig{
			Name:            flagDB,
			Driver:          "sqlite3",
			WriteAheadLog:   true,
			FlushIntervalMs: defaults.FlushIntervalMs,
			MaxBatchSize:    defaults.MaxBatchSize,
			MaxAttempts:     defaults.MaxAttempts,
		}
	}
	if flagDSN != "" {
		db.DSN = flagDSN
	}

	reg := registry.New(registry.WithLogger(log))
	reg.Configure(db.DSN, db.Settings())

	m, err := reg.Get(db.DSN)
	if err != nil {
		reg.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := reg.Close(); err != nil {
			log.Error().Err(err).Msg("close failed")
		}
	}
	return m, closeFn, nil
}
