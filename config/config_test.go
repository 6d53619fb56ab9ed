package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mevdschee/tqbatch/writebatch"
)

const sampleConfig = `
[log]
level = debug

[metrics]
listen = :9090

[database.main]
dsn = file:main.db
wal = true
flush_interval_ms = 10
max_batch_size = 200

[database.audit]
driver = sqlite3
dsn = file:audit.db
max_attempts = 5
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.MetricsListen != ":9090" {
		t.Errorf("MetricsListen = %q, want :9090", cfg.MetricsListen)
	}

	names := cfg.Names()
	if len(names) != 2 || names[0] != "audit" || names[1] != "main" {
		t.Fatalf("Names() = %v, want [audit main]", names)
	}

	main := cfg.Databases["main"]
	if main.DSN != "file:main.db" || !main.WriteAheadLog {
		t.Errorf("Unexpected main database config: %+v", main)
	}
	if main.FlushIntervalMs != 10 || main.MaxBatchSize != 200 {
		t.Errorf("Unexpected main batch config: %+v", main.BatchConfig())
	}
	if main.MaxAttempts != writebatch.DefaultConfig().MaxAttempts {
		t.Errorf("MaxAttempts = %d, want default", main.MaxAttempts)
	}

	audit := cfg.Databases["audit"]
	if audit.WriteAheadLog {
		t.Error("WriteAheadLog should default to false")
	}
	if audit.FlushIntervalMs != writebatch.DefaultConfig().FlushIntervalMs {
		t.Errorf("FlushIntervalMs = %d, want default", audit.FlushIntervalMs)
	}
	if audit.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", audit.MaxAttempts)
	}

	s := audit.Settings()
	if s.Name != "audit" || s.Driver != "sqlite3" || s.Batch.MaxAttempts != 5 {
		t.Errorf("Unexpected registry settings: %+v", s)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadBytes([]byte("[database.main]\ndsn = file:x.db\n"))
	if err != nil {
		t.Fatalf("LoadBytes() error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.MetricsListen != "" {
		t.Errorf("MetricsListen = %q, want empty", cfg.MetricsListen)
	}
	if cfg.Databases["main"].Driver != "sqlite3" {
		t.Errorf("Driver = %q, want sqlite3", cfg.Databases["main"].Driver)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TQBATCH_LOG_LEVEL", "warn")
	t.Setenv("TQBATCH_METRICS_LISTEN", ":9191")
	t.Setenv("TQBATCH_MAIN_DSN", "file:override.db")

	cfg, err := LoadBytes([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("LoadBytes() error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.MetricsListen != ":9191" {
		t.Errorf("MetricsListen = %q, want :9191", cfg.MetricsListen)
	}
	if cfg.Databases["main"].DSN != "file:override.db" {
		t.Errorf("DSN = %q, want file:override.db", cfg.Databases["main"].DSN)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing dsn", "[database.main]\nwal = true\n"},
		{"interval too small", "[database.main]\ndsn = file:x.db\nflush_interval_ms = 0\n"},
		{"batch too small", "[database.main]\ndsn = file:x.db\nmax_batch_size = 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadBytes([]byte(tt.data)); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}

	_, err := LoadBytes([]byte("[database.main]\ndsn = file:x.db\nmax_batch_size = 1\n"))
	if !errors.Is(err, writebatch.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.ini")); err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}
