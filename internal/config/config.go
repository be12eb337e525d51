// Package config loads the application configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Lending   LendingConfig   `yaml:"lending"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

type SchedulerConfig struct {
	// PollInterval is the payment runner's sweep cadence.
	PollInterval time.Duration `yaml:"poll_interval"`

	// DisableRunner leaves due payments to external automation callers.
	DisableRunner bool `yaml:"disable_runner"`
}

type OracleConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`

	// StaticPrice quotes collateral at a fixed price per BTC when no
	// endpoint is set, in smallest ledger units.
	StaticPrice int64 `yaml:"static_price"`
}

type LendingConfig struct {
	LiquidationSink string `yaml:"liquidation_sink"`
}

// DefaultStaticPrice quotes one BTC at 1e8 smallest ledger units so the
// daemon runs without an oracle endpoint. Deployments with real lending
// traffic are expected to configure an endpoint or their own price.
const DefaultStaticPrice int64 = 100_000_000

// Default returns the configuration used when no file and no overrides are
// present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Scheduler: SchedulerConfig{PollInterval: 15 * time.Second},
		Oracle:    OracleConfig{StaticPrice: DefaultStaticPrice},
	}
}

// Load reads BANK_CONFIG_PATH (or config/bank.yaml) when present and applies
// environment overrides on top.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("BANK_CONFIG_PATH")
	if path == "" {
		path = "config/bank.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "BANK_SERVER_HOST")
	setInt(&cfg.Server.Port, "BANK_SERVER_PORT")

	setString(&cfg.Database.Driver, "BANK_DB_DRIVER")
	setString(&cfg.Database.DSN, "BANK_DB_DSN")
	setInt(&cfg.Database.MaxOpenConns, "BANK_DB_MAX_OPEN_CONNS")
	setInt(&cfg.Database.MaxIdleConns, "BANK_DB_MAX_IDLE_CONNS")
	setInt(&cfg.Database.ConnMaxLifetime, "BANK_DB_CONN_MAX_LIFETIME")

	setString(&cfg.Logging.Level, "BANK_LOG_LEVEL")
	setString(&cfg.Logging.Format, "BANK_LOG_FORMAT")
	setString(&cfg.Logging.Output, "BANK_LOG_OUTPUT")

	if raw := os.Getenv("BANK_SCHEDULER_POLL_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.Scheduler.PollInterval = d
		}
	}
	if raw := os.Getenv("BANK_SCHEDULER_DISABLE_RUNNER"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Scheduler.DisableRunner = v
		}
	}

	setString(&cfg.Oracle.Endpoint, "BANK_ORACLE_ENDPOINT")
	setString(&cfg.Oracle.APIKey, "BANK_ORACLE_API_KEY")
	if raw := os.Getenv("BANK_ORACLE_STATIC_PRICE"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Oracle.StaticPrice = v
		}
	}

	setString(&cfg.Lending.LiquidationSink, "BANK_LIQUIDATION_SINK")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			*dst = v
		}
	}
}
