package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config holds all configuration for the application
type Config struct {
	Host         string        `env:"HOST" envDefault:"0.0.0.0"`
	Port         string        `env:"PORT" envDefault:"8080"`
	StoreBackend string        `env:"STORE_BACKEND" envDefault:"memory"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"1h"`
	Debug        bool          `env:"DEBUG" envDefault:"false"`
	ServerURL    string        `env:"SERVER_URL" envDefault:"http://localhost:8080"`
	// AllowedOrigins lists browser origins, besides the server's own, that
	// may open the snapshot websocket. "*" allows any origin.
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`

	Redis     RedisConfig
	Cassandra CassandraConfig
	SQLite    SQLiteConfig
	Ramp      RampConfig
	Telemetry TelemetryConfig
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// CassandraConfig holds Cassandra-specific configuration for the archive
type CassandraConfig struct {
	Enabled     bool          `env:"ARCHIVE_ENABLED" envDefault:"false"`
	Hosts       []string      `env:"CASSANDRA_HOSTS" envDefault:"localhost:9042" envSeparator:","`
	Keyspace    string        `env:"CASSANDRA_KEYSPACE" envDefault:"lifesync"`
	Username    string        `env:"CASSANDRA_USERNAME"`
	Password    string        `env:"CASSANDRA_PASSWORD"`
	Consistency string        `env:"CASSANDRA_CONSISTENCY" envDefault:"QUORUM"`
	Timeout     time.Duration `env:"CASSANDRA_TIMEOUT" envDefault:"5s"`
}

type SQLiteConfig struct {
	Path string `env:"SQLITE_PATH" envDefault:"lifesync.db"`
}

// RampConfig holds press-and-hold step sizes and timings
type RampConfig struct {
	CoarseStep int           `env:"RAMP_COARSE_STEP" envDefault:"10"`
	FineStep   int           `env:"RAMP_FINE_STEP" envDefault:"1"`
	Delay      time.Duration `env:"RAMP_DELAY" envDefault:"1s"`
	Interval   time.Duration `env:"RAMP_INTERVAL" envDefault:"1s"`
}

type TelemetryConfig struct {
	Enabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
	Endpoint string `env:"OTEL_ENDPOINT"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	switch cfg.StoreBackend {
	case BackendMemory, BackendRedis, BackendSQLite:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND value %q", cfg.StoreBackend)
	}

	cfg.Cassandra.Hosts = parseHosts(cfg.Cassandra.Hosts)
	cfg.AllowedOrigins = parseOrigins(cfg.AllowedOrigins)

	if cfg.Ramp.FineStep < 0 || cfg.Ramp.CoarseStep < 0 {
		return nil, fmt.Errorf("ramp steps must not be negative")
	}
	if cfg.Ramp.Delay <= 0 || cfg.Ramp.Interval <= 0 {
		return nil, fmt.Errorf("ramp delay and interval must be positive")
	}

	return &cfg, nil
}

// Address returns the full address (host:port)
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// parseHosts trims entries and drops empty ones
func parseHosts(raw []string) []string {
	hosts := make([]string, 0, len(raw))
	for _, part := range raw {
		host := strings.TrimSpace(part)
		if host != "" {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		return []string{"localhost:9042"}
	}
	return hosts
}

// parseOrigins trims entries and drops empty ones
func parseOrigins(raw []string) []string {
	var origins []string
	for _, part := range raw {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
