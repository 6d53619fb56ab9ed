package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/mevdschee/tqbatch/registry"
	"github.com/mevdschee/tqbatch/writebatch"
)

const databasePrefix = "database."

// Config holds the application configuration
type Config struct {
	LogLevel      string
	MetricsListen string
	Databases     map[string]DatabaseConfig
}

// DatabaseConfig holds configuration for a single batched database
type DatabaseConfig struct {
	Name            string
	Driver          string
	DSN             string
	WriteAheadLog   bool
	FlushIntervalMs int
	MaxBatchSize    int
	MaxAttempts     int
}

// Load reads configuration from an INI file with environment variable overrides
func Load(path string) (*Config, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	return parse(cfg)
}

// LoadBytes reads configuration from INI data
func LoadBytes(data []byte) (*Config, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return nil, err
	}
	return parse(cfg)
}

func parse(cfg *ini.File) (*Config, error) {
	config := &Config{
		LogLevel:      cfg.Section("log").Key("level").MustString("info"),
		MetricsListen: cfg.Section("metrics").Key("listen").MustString(""),
		Databases:     make(map[string]DatabaseConfig),
	}

	for _, sec := range cfg.Sections() {
		if !strings.HasPrefix(sec.Name(), databasePrefix) {
			continue
		}
		db, err := loadDatabaseConfig(sec)
		if err != nil {
			return nil, err
		}
		config.Databases[db.Name] = db
	}

	// Environment variable overrides
	if v := os.Getenv("TQBATCH_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("TQBATCH_METRICS_LISTEN"); v != "" {
		config.MetricsListen = v
	}

	return config, nil
}

func loadDatabaseConfig(sec *ini.Section) (DatabaseConfig, error) {
	defaults := writebatch.DefaultConfig()
	name := strings.TrimPrefix(sec.Name(), databasePrefix)

	db := DatabaseConfig{
		Name:            name,
		Driver:          sec.Key("driver").MustString("sqlite3"),
		DSN:             sec.Key("dsn").String(),
		WriteAheadLog:   sec.Key("wal").MustBool(false),
		FlushIntervalMs: sec.Key("flush_interval_ms").MustInt(defaults.FlushIntervalMs),
		MaxBatchSize:    sec.Key("max_batch_size").MustInt(defaults.MaxBatchSize),
		MaxAttempts:     sec.Key("max_attempts").MustInt(defaults.MaxAttempts),
	}

	// TQBATCH_<NAME>_DSN overrides the file, e.g. TQBATCH_MAIN_DSN
	if v := os.Getenv("TQBATCH_" + strings.ToUpper(name) + "_DSN"); v != "" {
		db.DSN = v
	}

	if db.DSN == "" {
		return db, fmt.Errorf("database %q: dsn is required", name)
	}
	if err := db.BatchConfig().Validate(); err != nil {
		return db, fmt.Errorf("database %q: %w", name, err)
	}
	return db, nil
}

// BatchConfig returns the write batch configuration of the database
func (d DatabaseConfig) BatchConfig() writebatch.Config {
	return writebatch.Config{
		FlushIntervalMs: d.FlushIntervalMs,
		MaxBatchSize:    d.MaxBatchSize,
		MaxAttempts:     d.MaxAttempts,
	}
}

// Settings returns the registry settings of the database
func (d DatabaseConfig) Settings() registry.Settings {
	return registry.Settings{
		Name:          d.Name,
		Driver:        d.Driver,
		WriteAheadLog: d.WriteAheadLog,
		Batch:         d.BatchConfig(),
	}
}

// Names returns the configured database names in sorted order
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Databases))
	for name := range c.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
