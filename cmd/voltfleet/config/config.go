// Package config provides configuration parsing and management for voltfleet.
//
// It handles both command-line flags and environment variables, with flags taking
// precedence over environment variables. A .env file (ENV_FILE, default ".env")
// is loaded into the environment first; variables already set are not overridden
// and a missing file is ignored.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. .env file
//  4. Default values
//
// Example usage:
//
//	cfg, err := config.ParseFlags()
//	if err != nil {
//		// invalid configuration
//	}
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/voltfleet/voltfleet/pkg/retry"
)

// Default endpoints of the fleet backend.
const (
	DefaultTelemetryURL   = "https://eoil6qngvr7ptbxkbujirlqhfm0avbsk.lambda-url.us-east-1.on.aws/"
	DefaultPredictionsURL = "https://ljlxmmeoybr3jsr2k45xuzodry0ngftv.lambda-url.us-east-1.on.aws/"
	DefaultConvoyURL      = "https://n2hsl7lzqy62gur6euiuaolf7u0fdrtr.lambda-url.us-east-1.on.aws/"
)

// LegacyTelemetryInterval is the telemetry cadence with LEGACY_POLLING enabled.
const LegacyTelemetryInterval = 5 * time.Second

// Bounds for the per-attempt HTTP timeout.
const (
	MinHTTPTimeout = 10 * time.Second
	MaxHTTPTimeout = 30 * time.Second
)

// Config holds all voltfleet configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string

	TelemetrySource     string
	TelemetryURL        string
	PredictionsURL      string
	ConvoyURL           string
	TelemetryInterval   time.Duration
	LegacyPolling       bool
	PredictionsInterval time.Duration
	HTTPTimeout         time.Duration
	Retry               retry.Policy
	RetainOnFailure     bool

	Mirror        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

// ParseFlags loads the .env file, parses os.Args and validates the result.
func ParseFlags() (*Config, error) {
	return Parse(flag.CommandLine, os.Args[1:])
}

// Parse loads the .env file, registers every setting on flags, parses args and
// validates the result.
func Parse(flags *flag.FlagSet, args []string) (*Config, error) {
	if err := loadEnvFile(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	flags.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	flags.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC health listen address (empty disables)")

	flags.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flags.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flags.StringVar(&cfg.TelemetrySource, "telemetry-source", getEnv("TELEMETRY_SOURCE", "http"), "Telemetry source: http or simulated")
	flags.StringVar(&cfg.TelemetryURL, "telemetry-url", getEnv("TELEMETRY_URL", DefaultTelemetryURL), "Telemetry endpoint URL")
	flags.StringVar(&cfg.PredictionsURL, "predictions-url", getEnv("PREDICTIONS_URL", DefaultPredictionsURL), "Predictions endpoint URL")
	flags.StringVar(&cfg.ConvoyURL, "convoy-url", getEnv("CONVOY_URL", DefaultConvoyURL), "Convoy endpoint URL")
	flags.DurationVar(&cfg.TelemetryInterval, "telemetry-interval", getEnvDuration("TELEMETRY_INTERVAL", 15*time.Second), "Telemetry polling interval")
	flags.BoolVar(&cfg.LegacyPolling, "legacy-polling", getEnvBool("LEGACY_POLLING", false), "Poll telemetry every 5s")
	flags.DurationVar(&cfg.PredictionsInterval, "predictions-interval", getEnvDuration("PREDICTIONS_INTERVAL", 15*time.Second), "Predictions polling interval")
	flags.DurationVar(&cfg.HTTPTimeout, "http-timeout", getEnvDuration("HTTP_TIMEOUT", 15*time.Second), "Per-attempt HTTP timeout (10s-30s)")

	def := retry.DefaultPolicy()
	flags.IntVar(&cfg.Retry.MaxAttempts, "retry-max-attempts", getEnvInt("RETRY_MAX_ATTEMPTS", def.MaxAttempts), "Convoy fetch attempts")
	flags.DurationVar(&cfg.Retry.InitialDelay, "retry-initial-delay", getEnvDuration("RETRY_INITIAL_DELAY", def.InitialDelay), "Delay before the first convoy retry")
	flags.DurationVar(&cfg.Retry.MaxDelay, "retry-max-delay", getEnvDuration("RETRY_MAX_DELAY", def.MaxDelay), "Maximum convoy retry delay")
	flags.Float64Var(&cfg.Retry.Factor, "retry-factor", getEnvFloat("RETRY_FACTOR", def.Factor), "Convoy retry delay multiplier")

	flags.BoolVar(&cfg.RetainOnFailure, "retain-on-failure", getEnvBool("RETAIN_ON_FAILURE", false), "Keep the last fleet snapshot when a telemetry poll fails")

	flags.StringVar(&cfg.Mirror, "mirror", getEnv("MIRROR", "none"), "View mirror: none or redis")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flags.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flags.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flags.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 5*time.Minute), "Mirrored view TTL")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EffectiveTelemetryInterval returns the telemetry cadence after applying
// LEGACY_POLLING.
func (c *Config) EffectiveTelemetryInterval() time.Duration {
	if c.LegacyPolling {
		return LegacyTelemetryInterval
	}
	return c.TelemetryInterval
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address cannot be empty")
	}

	switch c.TelemetrySource {
	case "http":
		if c.TelemetryURL == "" {
			return errors.New("config: telemetry url is required for the http source")
		}
	case "simulated":
	default:
		return fmt.Errorf("config: invalid telemetry source %q (must be http or simulated)", c.TelemetrySource)
	}

	if c.PredictionsURL == "" {
		return errors.New("config: predictions url cannot be empty")
	}
	if c.ConvoyURL == "" {
		return errors.New("config: convoy url cannot be empty")
	}

	if c.TelemetryInterval <= 0 {
		return fmt.Errorf("config: telemetry interval must be > 0, got %v", c.TelemetryInterval)
	}
	if c.PredictionsInterval <= 0 {
		return fmt.Errorf("config: predictions interval must be > 0, got %v", c.PredictionsInterval)
	}

	if c.HTTPTimeout < MinHTTPTimeout || c.HTTPTimeout > MaxHTTPTimeout {
		return fmt.Errorf("config: http timeout must be between %v and %v, got %v", MinHTTPTimeout, MaxHTTPTimeout, c.HTTPTimeout)
	}

	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("config: retry: %w", err)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: invalid log format %q (must be text or json)", c.LogFormat)
	}

	switch c.Mirror {
	case "none", "":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("config: redis address is required for the redis mirror")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("config: redis db must be >= 0, got %d", c.RedisDB)
		}
	default:
		return fmt.Errorf("config: invalid mirror %q (must be none or redis)", c.Mirror)
	}

	return nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
