// Package config loads the service configuration.
//
// Values are layered, later sources winning:
//   - built-in defaults (DefaultConfig)
//   - an optional YAML file named by APM_CONFIG_FILE
//   - environment variables prefixed with APM_
//
// Environment keys use "__" for nesting: APM_SEARCH__DATABASE maps to
// search.database. A `.env` file in the working directory is loaded first.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/deppfellow/apm-transactions/internal/validation"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "APM_"

	// ConfigFileEnvVar names an optional YAML file layered over the defaults.
	ConfigFileEnvVar = "APM_CONFIG_FILE"

	serviceName = "apm-transactions"
)

// Config is the root configuration object.
type Config struct {
	Primary       Primary             `koanf:"primary" validate:"required"`
	Server        ServerConfig        `koanf:"server" validate:"required"`
	Search        SearchConfig        `koanf:"search" validate:"required"`
	RateLimit     RateLimitConfig     `koanf:"rate_limit"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// Primary holds top-level information about the runtime environment.
type Primary struct {
	Env string `koanf:"env" validate:"required,oneof=local development staging production"`
}

// ServerConfig groups settings for the HTTP server runtime.
type ServerConfig struct {
	Port               string        `koanf:"port" validate:"required"`
	ReadTimeout        time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout       time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout        time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSAllowedOrigins []string      `koanf:"cors_allowed_origins"`

	// RequestTimeout bounds the whole route pipeline, backend queries included.
	// Zero disables it.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// SearchConfig configures the ClickHouse cluster holding APM events.
type SearchConfig struct {
	Addr        []string      `koanf:"addr" validate:"required,min=1,dive,hostname_port"`
	Database    string        `koanf:"database" validate:"required"`
	Username    string        `koanf:"username" validate:"required"`
	Password    string        `koanf:"password"`
	DialTimeout time.Duration `koanf:"dial_timeout" validate:"gt=0"`
	Compression bool          `koanf:"compression"`

	// MaxExecutionTime is passed to ClickHouse as max_execution_time (seconds).
	MaxExecutionTime int `koanf:"max_execution_time" validate:"min=1"`

	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gt=0"`

	TransactionsTable string `koanf:"transactions_table" validate:"required"`
	BreakdownTable    string `koanf:"breakdown_table" validate:"required"`

	// AllowAnonymous lets requests without a forwarded user query the
	// backend as "anonymous".
	AllowAnonymous bool `koanf:"allow_anonymous"`

	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig tunes the circuit breaker guarding the search backend.
type BreakerConfig struct {
	MaxRequests  uint32        `koanf:"max_requests" validate:"min=1"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	MinRequests  uint32        `koanf:"min_requests" validate:"min=1"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gt=0,max=1"`
}

// RateLimitConfig configures the in-memory per-client rate limiter.
type RateLimitConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Rate      float64       `koanf:"rate" validate:"min=0"`
	Burst     int           `koanf:"burst" validate:"min=0"`
	ExpiresIn time.Duration `koanf:"expires_in"`
}

// DefaultConfig returns the built-in defaults, suitable for local development.
func DefaultConfig() Config {
	return Config{
		Primary: Primary{Env: "local"},
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  55 * time.Second,
		},
		Search: SearchConfig{
			Addr:              []string{"localhost:9000"},
			Database:          "apm",
			Username:          "default",
			DialTimeout:       10 * time.Second,
			Compression:       true,
			MaxExecutionTime:  60,
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   time.Hour,
			TransactionsTable: "apm_transactions",
			BreakdownTable:    "apm_span_breakdown",
			AllowAnonymous:    true,
			Breaker: BreakerConfig{
				MaxRequests:  3,
				Interval:     time.Minute,
				Timeout:      30 * time.Second,
				MinRequests:  10,
				FailureRatio: 0.6,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			Rate:      20,
			Burst:     40,
			ExpiresIn: 3 * time.Minute,
		},
		Observability: DefaultObservabilityConfig(),
	}
}

// sliceKeys are split on commas when they come from the environment.
var sliceKeys = map[string]bool{
	"server.cors_allowed_origins": true,
	"search.addr":                 true,
}

// envKey maps APM_SEARCH__MAX_OPEN_CONNS to search.max_open_conns.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

func envValue(key, value string) (string, any) {
	k := envKey(key)
	if k == "config_file" {
		return "", nil
	}
	if sliceKeys[k] {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return k, out
	}
	return k, value
}

// LoadConfig loads, validates and returns the configuration.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := os.Getenv(ConfigFileEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Observability.ServiceName = serviceName
	cfg.Observability.Environment = cfg.Primary.Env

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Search.MaxIdleConns > c.Search.MaxOpenConns {
		return fmt.Errorf("config: search.max_idle_conns (%d) exceeds search.max_open_conns (%d)",
			c.Search.MaxIdleConns, c.Search.MaxOpenConns)
	}
	if c.RateLimit.Enabled && c.RateLimit.Rate <= 0 {
		return fmt.Errorf("config: rate_limit.rate must be positive when rate limiting is enabled")
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
