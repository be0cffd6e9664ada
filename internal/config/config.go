package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ahmethakanbesel/candle-backfill/internal/importer"
	"github.com/ahmethakanbesel/candle-backfill/internal/provider/coinbase"
	"github.com/ahmethakanbesel/candle-backfill/internal/scheduler"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port        string   `yaml:"port"`
	DBDriver    string   `yaml:"db_driver"`
	DBPath      string   `yaml:"db_path"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	Coinbase    Coinbase `yaml:"coinbase"`
	Limiter     Limiter  `yaml:"limiter"`
	Retry       Retry    `yaml:"retry"`
	Logging     Logging  `yaml:"logging"`
}

type Coinbase struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// Limiter mirrors scheduler.Config.
type Limiter struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	MinSpacing     time.Duration `yaml:"min_spacing"`
	Reservoir      int           `yaml:"reservoir"`
	MaxSlots       int           `yaml:"max_slots"`
	RefillAmount   int           `yaml:"refill_amount"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

type Retry struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	sc := scheduler.DefaultConfig()
	return Config{
		Port:     "8080",
		DBDriver: DriverSQLite,
		DBPath:   "candles.db",
		Coinbase: Coinbase{
			BaseURL: coinbase.DefaultBaseURL,
			Timeout: 30 * time.Second,
		},
		Limiter: Limiter{
			MaxConcurrent:  sc.MaxConcurrent,
			MinSpacing:     sc.MinSpacing,
			Reservoir:      sc.Reservoir,
			MaxSlots:       sc.MaxSlots,
			RefillAmount:   sc.RefillAmount,
			RefillInterval: sc.RefillInterval,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and environment variables, in increasing precedence. A .env
// file in the working directory (or ENV_FILE) is loaded first and never
// overrides variables that are already set.
func Load() (Config, error) {
	loadDotenv()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}
	path := getEnv("ENV_FILE", ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", cfg.DBDriver))
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.Coinbase.BaseURL = getEnv("COINBASE_API_URL", cfg.Coinbase.BaseURL)
	cfg.Coinbase.Timeout = getEnvDuration("COINBASE_TIMEOUT", cfg.Coinbase.Timeout)
	cfg.Coinbase.UserAgent = getEnv("COINBASE_USER_AGENT", cfg.Coinbase.UserAgent)

	cfg.Limiter.MaxConcurrent = getEnvInt("LIMITER_MAX_CONCURRENT", cfg.Limiter.MaxConcurrent)
	cfg.Limiter.MinSpacing = getEnvDuration("LIMITER_MIN_SPACING", cfg.Limiter.MinSpacing)
	cfg.Limiter.Reservoir = getEnvInt("LIMITER_RESERVOIR", cfg.Limiter.Reservoir)
	cfg.Limiter.MaxSlots = getEnvInt("LIMITER_MAX_SLOTS", cfg.Limiter.MaxSlots)
	cfg.Limiter.RefillAmount = getEnvInt("LIMITER_REFILL_AMOUNT", cfg.Limiter.RefillAmount)
	cfg.Limiter.RefillInterval = getEnvDuration("LIMITER_REFILL_INTERVAL", cfg.Limiter.RefillInterval)

	cfg.Retry.MaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.InitialInterval = getEnvDuration("RETRY_INITIAL_INTERVAL", cfg.Retry.InitialInterval)
	cfg.Retry.MaxInterval = getEnvDuration("RETRY_MAX_INTERVAL", cfg.Retry.MaxInterval)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)
}

// Validate rejects settings the program cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver))
	}
	if err := c.Scheduler().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("limiter: %w", err))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry max attempts cannot be negative"))
	}
	if c.Retry.InitialInterval < 0 || c.Retry.MaxInterval < 0 {
		errs = append(errs, errors.New("retry intervals cannot be negative"))
	}
	return errors.Join(errs...)
}

// Scheduler returns the rate limits for an import run.
func (c Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		MaxConcurrent:  c.Limiter.MaxConcurrent,
		MinSpacing:     c.Limiter.MinSpacing,
		Reservoir:      c.Limiter.Reservoir,
		MaxSlots:       c.Limiter.MaxSlots,
		RefillAmount:   c.Limiter.RefillAmount,
		RefillInterval: c.Limiter.RefillInterval,
	}
}

// RetryPolicy returns how transient fetch failures are retried.
func (c Config) RetryPolicy() importer.RetryPolicy {
	return importer.RetryPolicy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
