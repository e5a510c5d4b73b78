// Package config loads flowstated settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every variable name below.
const Prefix = "FLOWSTATE_"

// Backend names accepted by FLOWSTATE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

var (
	// ErrParsingConfig is returned when environment variables cannot be parsed into Config.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")

	// ErrInvalidConfig is returned when parsed values are inconsistent.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the full process configuration.
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	Backend string `env:"BACKEND" envDefault:"memory"`

	SQLiteDSN   string `env:"SQLITE_DSN" envDefault:"file:flowstate.db?_pragma=busy_timeout(5000)"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"flowstate:"`
	MongoURI    string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB     string `env:"MONGO_DATABASE" envDefault:"flowstate"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// OTLPEndpoint enables trace export when set (host:port).
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`

	// Background action worker. Zero concurrency disables the worker and
	// the enqueue endpoint.
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"1"`
	WorkerMaxAttempts int           `env:"WORKER_MAX_ATTEMPTS" envDefault:"5"`
	WorkerBackoff     time.Duration `env:"WORKER_BACKOFF" envDefault:"200ms"`

	// DefinitionsFile is a YAML or JSON file of definitions registered at
	// startup.
	DefinitionsFile string `env:"DEFINITIONS_FILE"`
}

// Load reads the given .env files (or ./.env when none are given), then
// parses the process environment into a Config. A missing default .env
// file is not an error; a missing explicitly named file is.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}

	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: Prefix})
	if err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite, BackendRedis, BackendMongo:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: %sPOSTGRES_DSN is required for the postgres backend", ErrInvalidConfig, Prefix)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.WorkerConcurrency < 0 {
		return fmt.Errorf("%w: worker concurrency must not be negative", ErrInvalidConfig)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
