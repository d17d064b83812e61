package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Integration Hub server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	AMQP       AMQPConfig
	Engine     EngineConfig
	Connectors ConnectorsConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

// RedisConfig is optional; an empty URL disables the status cache and rate limiting.
type RedisConfig struct {
	URL string
}

// AMQPConfig is optional; an empty URL disables execution events.
type AMQPConfig struct {
	URL      string
	Exchange string
}

type EngineConfig struct {
	MaxConcurrency  int
	StatusCacheTTL  time.Duration
	ShutdownTimeout time.Duration
}

type ConnectorsConfig struct {
	SpaceXBaseURL  string
	DefaultTimeout time.Duration
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var validDrivers = map[string]bool{
	DriverPostgres: true,
	DriverMemory:   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("HUB_PORT", 8080),
			Env:                envString("HUB_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			Driver:          envString("STORE_DRIVER", DriverPostgres),
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AMQP: AMQPConfig{
			URL:      os.Getenv("AMQP_URL"),
			Exchange: envString("AMQP_EXCHANGE", "integrationhub.events"),
		},
		Engine: EngineConfig{
			MaxConcurrency:  envInt("ENGINE_MAX_CONCURRENCY", 16),
			StatusCacheTTL:  envDuration("JOB_STATUS_CACHE_TTL", 30*time.Minute),
			ShutdownTimeout: envDuration("ENGINE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Connectors: ConnectorsConfig{
			SpaceXBaseURL:  envString("SPACEX_API_URL", "https://api.spacexdata.com"),
			DefaultTimeout: envDurationSecs("CONNECTOR_DEFAULT_TIMEOUT_SECS", 10*time.Second),
		},
		Log: LogConfig{
			Level:  envLogLevel("LOG_LEVEL", slog.LevelInfo),
			Format: envString("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("STORE_DRIVER must be one of postgres, memory; got %q", c.Database.Driver)
	}
	if c.Database.Driver == DriverPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
	}

	if c.Redis.URL != "" && !hasScheme(c.Redis.URL, "redis://", "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.AMQP.URL != "" && !hasScheme(c.AMQP.URL, "amqp://", "amqps://") {
		return fmt.Errorf("AMQP_URL must start with amqp:// or amqps://, got %q", c.AMQP.URL)
	}

	if !hasScheme(c.Connectors.SpaceXBaseURL, "http://", "https://") {
		return fmt.Errorf("SPACEX_API_URL must start with http:// or https://, got %q", c.Connectors.SpaceXBaseURL)
	}

	if c.Engine.MaxConcurrency < 1 {
		return fmt.Errorf("ENGINE_MAX_CONCURRENCY must be at least 1, got %d", c.Engine.MaxConcurrency)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	return nil
}

func hasScheme(u string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(u, s) {
			return true
		}
	}
	return false
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envLogLevel(key string, defaultVal slog.Level) slog.Level {
	switch strings.ToUpper(os.Getenv(key)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return defaultVal
	}
}
