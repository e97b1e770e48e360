package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverLevelDB  = "leveldb"
	DriverPostgres = "postgres"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName            string        `envconfig:"APP_NAME" default:"AssetLedger"`
	AppEnv             string        `envconfig:"APP_ENV" default:"development"`
	Port               string        `envconfig:"PORT" default:"8080"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat          string        `envconfig:"LOG_FORMAT" default:"json"`
	StoreDriver        string        `envconfig:"STORE_DRIVER" default:"memory"`
	DatabaseURL        string        `envconfig:"DATABASE_URL"`
	LevelDBPath        string        `envconfig:"LEVELDB_PATH" default:"data/ledger"`
	RedisURL           string        `envconfig:"REDIS_URL"`
	EventStream        string        `envconfig:"EVENT_STREAM" default:"ledger:events"`
	AMQPURL            string        `envconfig:"AMQP_URL"`
	AMQPExchange       string        `envconfig:"AMQP_EXCHANGE" default:"ledger_events"`
	JWTSecret          string        `envconfig:"JWT_SECRET" required:"true"`
	ShutdownPeriod     time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	IdempotencyTTL     time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
}

// Load reads an optional .env file, then populates a Config from the
// environment and validates it. Variables already set in the environment
// win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverLevelDB:
		if c.LevelDBPath == "" {
			return fmt.Errorf("LEVELDB_PATH must be set when STORE_DRIVER=%s", c.StoreDriver)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_DRIVER=%s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.ShutdownPeriod <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}

	// Outside development the shared stores are mandatory.
	if !c.IsDev() {
		if c.StoreDriver == DriverMemory {
			return fmt.Errorf("STORE_DRIVER=%s is only allowed in development", DriverMemory)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	return nil
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
