package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEndpoint is used when neither the config file nor the
// environment names an endpoint.
const DefaultEndpoint = "https://jsonplaceholder.ir/graphql"

// EndpointEnvVar overrides the endpoint regardless of other sources.
const EndpointEnvVar = "GRAPHQL_ENDPOINT"

const envPrefix = "GQLINK_"

type Config struct {
	Endpoint   string          `koanf:"endpoint"`
	ServerSide bool            `koanf:"server_side"` // true when rendering without an interactive consumer
	Retry      RetryConfig     `koanf:"retry"`
	Transport  TransportConfig `koanf:"transport"`
	Multipart  MultipartConfig `koanf:"multipart"`
	Cache      CacheConfig     `koanf:"cache"`
	Log        LogConfig       `koanf:"log"`
	Telemetry  TelemetryConfig `koanf:"telemetry"`
	Server     ServerConfig    `koanf:"server"`
}

type RetryConfig struct {
	MaxAttempts        int    `koanf:"max_attempts"`
	RetryGraphQLErrors bool   `koanf:"retry_graphql_errors"`
	Backoff            string `koanf:"backoff"`          // none, constant, exponential
	InitialInterval    string `koanf:"initial_interval"` // Duration string like "200ms"
	MaxInterval        string `koanf:"max_interval"`
}

type TransportConfig struct {
	Timeout      string            `koanf:"timeout"`
	Headers      map[string]string `koanf:"headers"`
	BlockPrivate bool              `koanf:"block_private"` // Reject private/loopback addresses
}

type MultipartConfig struct {
	StripStream bool `koanf:"strip_stream"` // Also strip @stream on the server side
}

type CacheConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite, none
	Size   int          `koanf:"size"`
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var defaults = map[string]any{
	"endpoint":               DefaultEndpoint,
	"retry.max_attempts":     3,
	"retry.backoff":          "none",
	"retry.initial_interval": "100ms",
	"retry.max_interval":     "5s",
	"transport.timeout":      "30s",
	"cache.type":             "memory",
	"cache.size":             512,
	"cache.sqlite.path":      "./data/gqlink-cache.db",
	"log.level":              "info",
	"telemetry.service_name": "gqlink",
	"server.port":            8080,
}

// Load reads configuration from path (skipped when empty or missing),
// then GQLINK_* environment variables, then GRAPHQL_ENDPOINT.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	// Environment variables override the file
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	if v := os.Getenv(EndpointEnvVar); v != "" {
		k.Set("endpoint", v)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for name, value := range cfg.Transport.Headers {
		cfg.Transport.Headers[name] = substituteEnvVars(value)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is supplied.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Only reachable through a broken environment; fall back to literals.
		return &Config{
			Endpoint:  DefaultEndpoint,
			Retry:     RetryConfig{MaxAttempts: 3, Backoff: "none"},
			Transport: TransportConfig{Timeout: "30s"},
			Cache:     CacheConfig{Type: "memory", Size: 512},
			Log:       LogConfig{Level: "info"},
		}
	}
	return cfg
}

// Validate checks values that koanf cannot type-check.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid endpoint %q", c.Endpoint)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	switch c.Retry.Backoff {
	case "", "none", "constant", "exponential":
	default:
		return fmt.Errorf("invalid retry.backoff %q (must be 'none', 'constant' or 'exponential')", c.Retry.Backoff)
	}
	for name, v := range map[string]string{
		"retry.initial_interval": c.Retry.InitialInterval,
		"retry.max_interval":     c.Retry.MaxInterval,
		"transport.timeout":      c.Transport.Timeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	switch c.Cache.Type {
	case "", "memory", "sqlite", "none":
	default:
		return fmt.Errorf("invalid cache.type %q (must be 'memory', 'sqlite' or 'none')", c.Cache.Type)
	}
	return nil
}

// TransportTimeout returns the parsed transport timeout, zero when unset.
func (c *Config) TransportTimeout() time.Duration {
	return parseDuration(c.Transport.Timeout)
}

// InitialIntervalDuration returns the parsed retry.initial_interval.
func (r RetryConfig) InitialIntervalDuration() time.Duration {
	return parseDuration(r.InitialInterval)
}

// MaxIntervalDuration returns the parsed retry.max_interval.
func (r RetryConfig) MaxIntervalDuration() time.Duration {
	return parseDuration(r.MaxInterval)
}

func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
