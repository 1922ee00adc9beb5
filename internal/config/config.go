// Package config provides configuration management for the workflow engine.
// It supports loading configuration from environment variables, files (YAML/JSON),
// and defaults, with a clear precedence order: env > file > defaults.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete workflow engine configuration.
type Config struct {
	Server         ServerConfig         `json:"server" yaml:"server"`
	Engine         EngineConfig         `json:"engine" yaml:"engine"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	Logging        LoggingConfig        `json:"logging" yaml:"logging"`
	Observability  ObservabilityConfig  `json:"observability" yaml:"observability"`
	RateLimit      RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
}

// ServerConfig holds the optional HTTP transport's host/port.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// EngineConfig holds the step execution engine's admission and timeout knobs
// (spec §4.7, §4.8).
type EngineConfig struct {
	MaxActiveWorkflows        int           `json:"max_active_workflows" yaml:"max_active_workflows"`
	DefaultWorkflowTimeout    time.Duration `json:"default_workflow_timeout" yaml:"default_workflow_timeout"`
	DefaultStepTimeout        time.Duration `json:"default_step_timeout" yaml:"default_step_timeout"`
	DefaultInteractionTimeout time.Duration `json:"default_interaction_timeout" yaml:"default_interaction_timeout"`
	RecoveryTimeout           time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	MaxLoopIterations         int           `json:"max_loop_iterations" yaml:"max_loop_iterations"`
}

// CircuitBreakerConfig holds the admission-control breaker's knobs
// (spec §4.8, SPEC_FULL §11.1).
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	Window           time.Duration `json:"window" yaml:"window"`
	CooldownPeriod   time.Duration `json:"cooldown_period" yaml:"cooldown_period"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Sentry  SentryConfig  `json:"sentry" yaml:"sentry"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Endpoint   string  `json:"endpoint" yaml:"endpoint"`
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`
}

// SentryConfig holds Sentry error monitoring configuration.
type SentryConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	DSN         string  `json:"dsn" yaml:"dsn"`
	Environment string  `json:"environment" yaml:"environment"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
	Release     string  `json:"release" yaml:"release"`
}

// RateLimitConfig repurposed as admission-control config for the circuit
// breaker's optional Redis-backed state (SPEC_FULL §11.1).
type RateLimitConfig struct {
	Enabled         bool                 `json:"enabled" yaml:"enabled"`
	Algorithm       string               `json:"algorithm" yaml:"algorithm"`
	Redis           RateLimitRedisConfig `json:"redis" yaml:"redis"`
	BurstMultiplier float64              `json:"burst_multiplier" yaml:"burst_multiplier"`
	CleanupInterval time.Duration        `json:"cleanup_interval" yaml:"cleanup_interval"`
}

// RateLimitRedisConfig holds Redis configuration for cross-process
// circuit-breaker state.
type RateLimitRedisConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// Default values
const (
	DefaultHost                      = "0.0.0.0"
	DefaultPort                      = 8080
	DefaultMaxActiveWorkflows        = 20
	DefaultWorkflowTimeout           = 300 * time.Second
	DefaultStepTimeout               = 30 * time.Second
	DefaultInteractionTimeout        = 300 * time.Second
	DefaultRecoveryTimeout           = 30 * time.Second
	DefaultMaxLoopIterations         = 25
	DefaultCircuitBreakerEnabled     = true
	DefaultCircuitBreakerThreshold   = 5
	DefaultCircuitBreakerWindow      = 60 * time.Second
	DefaultCircuitBreakerCooldown    = 30 * time.Second
	DefaultLogLevel                  = "info"
	DefaultLogFormat                 = "json"
	DefaultMetricsEnabled            = false
	DefaultMetricsPort               = 9091
	DefaultMetricsPath               = "/metrics"
	DefaultTracingEnabled            = false
	DefaultTracingEndpoint           = "http://localhost:4318"
	DefaultSampleRate                = 0.1
	DefaultSentryEnabled             = false
	DefaultSentryDSN                 = ""
	DefaultSentryEnv                 = "development"
	DefaultSentrySampleRate          = 1.0
	DefaultSentryRelease             = "0.1.0-alpha"
	DefaultRateLimitEnabled          = false
	DefaultRateLimitAlgorithm        = "sliding_window"
	DefaultRateLimitBurstMultiplier  = 1.5
	DefaultRateLimitCleanupInterval  = 5 * time.Minute
)

// Valid values for validation
var (
	ValidLogLevels  = []string{"debug", "info", "warn", "error"}
	ValidLogFormats = []string{"json", "text"}
)

// Load loads configuration from environment variables and optional config file.
// Precedence: env vars > config file > defaults.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	if configFile := os.Getenv("WORKFLOWENGINE_CONFIG_FILE"); configFile != "" {
		fileCfg, err := loadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		cfg = merge(cfg, fileCfg)
	}

	cfg = loadEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config with all default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Engine: EngineConfig{
			MaxActiveWorkflows:        DefaultMaxActiveWorkflows,
			DefaultWorkflowTimeout:    DefaultWorkflowTimeout,
			DefaultStepTimeout:        DefaultStepTimeout,
			DefaultInteractionTimeout: DefaultInteractionTimeout,
			RecoveryTimeout:           DefaultRecoveryTimeout,
			MaxLoopIterations:         DefaultMaxLoopIterations,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          DefaultCircuitBreakerEnabled,
			FailureThreshold: DefaultCircuitBreakerThreshold,
			Window:           DefaultCircuitBreakerWindow,
			CooldownPeriod:   DefaultCircuitBreakerCooldown,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
				Port:    DefaultMetricsPort,
				Path:    DefaultMetricsPath,
			},
			Tracing: TracingConfig{
				Enabled:    DefaultTracingEnabled,
				Endpoint:   DefaultTracingEndpoint,
				SampleRate: DefaultSampleRate,
			},
			Sentry: SentryConfig{
				Enabled:     DefaultSentryEnabled,
				DSN:         DefaultSentryDSN,
				Environment: DefaultSentryEnv,
				SampleRate:  DefaultSentrySampleRate,
				Release:     DefaultSentryRelease,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:         DefaultRateLimitEnabled,
			Algorithm:       DefaultRateLimitAlgorithm,
			BurstMultiplier: DefaultRateLimitBurstMultiplier,
			CleanupInterval: DefaultRateLimitCleanupInterval,
		},
	}
}

// loadFile loads configuration from a YAML or JSON file. The path is
// cleaned and restricted to a known extension before it is opened — the
// only filesystem path a workflow engine process reads from user input.
func loadFile(path string) (*Config, error) {
	safePath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(safePath))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	cfg := &Config{}
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	return cfg, nil
}

// loadEnv loads configuration from environment variables.
// Only overrides non-zero values from the provided config.
func loadEnv(cfg *Config) *Config {
	if host := os.Getenv("WORKFLOWENGINE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("WORKFLOWENGINE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if maxActive := os.Getenv("WORKFLOWENGINE_MAX_ACTIVE_WORKFLOWS"); maxActive != "" {
		if n, err := strconv.Atoi(maxActive); err == nil {
			cfg.Engine.MaxActiveWorkflows = n
		}
	}
	if wfTimeout := os.Getenv("WORKFLOWENGINE_WORKFLOW_TIMEOUT"); wfTimeout != "" {
		if d, err := time.ParseDuration(wfTimeout); err == nil {
			cfg.Engine.DefaultWorkflowTimeout = d
		}
	}
	if stepTimeout := os.Getenv("WORKFLOWENGINE_STEP_TIMEOUT"); stepTimeout != "" {
		if d, err := time.ParseDuration(stepTimeout); err == nil {
			cfg.Engine.DefaultStepTimeout = d
		}
	}
	if interactionTimeout := os.Getenv("WORKFLOWENGINE_INTERACTION_TIMEOUT"); interactionTimeout != "" {
		if d, err := time.ParseDuration(interactionTimeout); err == nil {
			cfg.Engine.DefaultInteractionTimeout = d
		}
	}
	if recoveryTimeout := os.Getenv("WORKFLOWENGINE_RECOVERY_TIMEOUT"); recoveryTimeout != "" {
		if d, err := time.ParseDuration(recoveryTimeout); err == nil {
			cfg.Engine.RecoveryTimeout = d
		}
	}
	if maxLoop := os.Getenv("WORKFLOWENGINE_MAX_LOOP_ITERATIONS"); maxLoop != "" {
		if n, err := strconv.Atoi(maxLoop); err == nil {
			cfg.Engine.MaxLoopIterations = n
		}
	}

	if cbEnabled := os.Getenv("WORKFLOWENGINE_CIRCUIT_BREAKER_ENABLED"); cbEnabled != "" {
		if enabled, err := strconv.ParseBool(cbEnabled); err == nil {
			cfg.CircuitBreaker.Enabled = enabled
		}
	}
	if cbThreshold := os.Getenv("WORKFLOWENGINE_CIRCUIT_BREAKER_FAILURE_THRESHOLD"); cbThreshold != "" {
		if n, err := strconv.Atoi(cbThreshold); err == nil {
			cfg.CircuitBreaker.FailureThreshold = n
		}
	}
	if cbWindow := os.Getenv("WORKFLOWENGINE_CIRCUIT_BREAKER_WINDOW"); cbWindow != "" {
		if d, err := time.ParseDuration(cbWindow); err == nil {
			cfg.CircuitBreaker.Window = d
		}
	}
	if cbCooldown := os.Getenv("WORKFLOWENGINE_CIRCUIT_BREAKER_COOLDOWN"); cbCooldown != "" {
		if d, err := time.ParseDuration(cbCooldown); err == nil {
			cfg.CircuitBreaker.CooldownPeriod = d
		}
	}

	if logLevel := os.Getenv("WORKFLOWENGINE_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("WORKFLOWENGINE_LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	if metricsEnabled := os.Getenv("WORKFLOWENGINE_METRICS_ENABLED"); metricsEnabled != "" {
		if enabled, err := strconv.ParseBool(metricsEnabled); err == nil {
			cfg.Observability.Metrics.Enabled = enabled
		}
	}
	if metricsPort := os.Getenv("WORKFLOWENGINE_METRICS_PORT"); metricsPort != "" {
		if port, err := strconv.Atoi(metricsPort); err == nil {
			cfg.Observability.Metrics.Port = port
		}
	}
	if metricsPath := os.Getenv("WORKFLOWENGINE_METRICS_PATH"); metricsPath != "" {
		cfg.Observability.Metrics.Path = metricsPath
	}

	if tracingEnabled := os.Getenv("WORKFLOWENGINE_TRACING_ENABLED"); tracingEnabled != "" {
		if enabled, err := strconv.ParseBool(tracingEnabled); err == nil {
			cfg.Observability.Tracing.Enabled = enabled
		}
	}
	if tracingEndpoint := os.Getenv("WORKFLOWENGINE_TRACING_ENDPOINT"); tracingEndpoint != "" {
		cfg.Observability.Tracing.Endpoint = tracingEndpoint
	}
	if sampleRate := os.Getenv("WORKFLOWENGINE_TRACING_SAMPLE_RATE"); sampleRate != "" {
		if rate, err := strconv.ParseFloat(sampleRate, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = rate
		}
	}

	if sentryEnabled := os.Getenv("WORKFLOWENGINE_SENTRY_ENABLED"); sentryEnabled != "" {
		if enabled, err := strconv.ParseBool(sentryEnabled); err == nil {
			cfg.Observability.Sentry.Enabled = enabled
		}
	}
	if sentryDSN := os.Getenv("WORKFLOWENGINE_SENTRY_DSN"); sentryDSN != "" {
		cfg.Observability.Sentry.DSN = sentryDSN
	}
	if sentryEnv := os.Getenv("WORKFLOWENGINE_SENTRY_ENVIRONMENT"); sentryEnv != "" {
		cfg.Observability.Sentry.Environment = sentryEnv
	}
	if sentrySampleRate := os.Getenv("WORKFLOWENGINE_SENTRY_SAMPLE_RATE"); sentrySampleRate != "" {
		if rate, err := strconv.ParseFloat(sentrySampleRate, 64); err == nil {
			cfg.Observability.Sentry.SampleRate = rate
		}
	}
	if sentryRelease := os.Getenv("WORKFLOWENGINE_SENTRY_RELEASE"); sentryRelease != "" {
		cfg.Observability.Sentry.Release = sentryRelease
	}

	if rlEnabled := os.Getenv("WORKFLOWENGINE_RATE_LIMIT_ENABLED"); rlEnabled != "" {
		if enabled, err := strconv.ParseBool(rlEnabled); err == nil {
			cfg.RateLimit.Enabled = enabled
		}
	}
	if rlAlgorithm := os.Getenv("WORKFLOWENGINE_RATE_LIMIT_ALGORITHM"); rlAlgorithm != "" {
		cfg.RateLimit.Algorithm = rlAlgorithm
	}
	if rlRedisEnabled := os.Getenv("WORKFLOWENGINE_RATE_LIMIT_REDIS_ENABLED"); rlRedisEnabled != "" {
		if enabled, err := strconv.ParseBool(rlRedisEnabled); err == nil {
			cfg.RateLimit.Redis.Enabled = enabled
		}
	}
	if rlRedisAddr := os.Getenv("WORKFLOWENGINE_RATE_LIMIT_REDIS_ADDR"); rlRedisAddr != "" {
		cfg.RateLimit.Redis.Addr = rlRedisAddr
	}
	if rlRedisPassword := os.Getenv("WORKFLOWENGINE_RATE_LIMIT_REDIS_PASSWORD"); rlRedisPassword != "" {
		cfg.RateLimit.Redis.Password = rlRedisPassword
	}
	if rlRedisDB := os.Getenv("WORKFLOWENGINE_RATE_LIMIT_REDIS_DB"); rlRedisDB != "" {
		if db, err := strconv.Atoi(rlRedisDB); err == nil {
			cfg.RateLimit.Redis.DB = db
		}
	}
	if rlRedisKeyPrefix := os.Getenv("WORKFLOWENGINE_RATE_LIMIT_REDIS_KEY_PREFIX"); rlRedisKeyPrefix != "" {
		cfg.RateLimit.Redis.KeyPrefix = rlRedisKeyPrefix
	}
	if rlBurst := os.Getenv("WORKFLOWENGINE_RATE_LIMIT_BURST_MULTIPLIER"); rlBurst != "" {
		if multiplier, err := strconv.ParseFloat(rlBurst, 64); err == nil {
			cfg.RateLimit.BurstMultiplier = multiplier
		}
	}
	if rlCleanup := os.Getenv("WORKFLOWENGINE_RATE_LIMIT_CLEANUP_INTERVAL"); rlCleanup != "" {
		if interval, err := time.ParseDuration(rlCleanup); err == nil {
			cfg.RateLimit.CleanupInterval = interval
		}
	}

	return cfg
}

// merge merges two configs, preferring values from 'override' when non-zero.
func merge(base, override *Config) *Config {
	result := *base

	if override.Server.Host != "" {
		result.Server.Host = override.Server.Host
	}
	if override.Server.Port != 0 {
		result.Server.Port = override.Server.Port
	}

	if override.Engine.MaxActiveWorkflows != 0 {
		result.Engine.MaxActiveWorkflows = override.Engine.MaxActiveWorkflows
	}
	if override.Engine.DefaultWorkflowTimeout != 0 {
		result.Engine.DefaultWorkflowTimeout = override.Engine.DefaultWorkflowTimeout
	}
	if override.Engine.DefaultStepTimeout != 0 {
		result.Engine.DefaultStepTimeout = override.Engine.DefaultStepTimeout
	}
	if override.Engine.DefaultInteractionTimeout != 0 {
		result.Engine.DefaultInteractionTimeout = override.Engine.DefaultInteractionTimeout
	}
	if override.Engine.RecoveryTimeout != 0 {
		result.Engine.RecoveryTimeout = override.Engine.RecoveryTimeout
	}
	if override.Engine.MaxLoopIterations != 0 {
		result.Engine.MaxLoopIterations = override.Engine.MaxLoopIterations
	}

	if override.CircuitBreaker.Enabled != DefaultCircuitBreakerEnabled {
		result.CircuitBreaker.Enabled = override.CircuitBreaker.Enabled
	}
	if override.CircuitBreaker.FailureThreshold != 0 {
		result.CircuitBreaker.FailureThreshold = override.CircuitBreaker.FailureThreshold
	}
	if override.CircuitBreaker.Window != 0 {
		result.CircuitBreaker.Window = override.CircuitBreaker.Window
	}
	if override.CircuitBreaker.CooldownPeriod != 0 {
		result.CircuitBreaker.CooldownPeriod = override.CircuitBreaker.CooldownPeriod
	}

	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		result.Logging.Format = override.Logging.Format
	}

	if override.Observability.Metrics.Enabled != DefaultMetricsEnabled {
		result.Observability.Metrics.Enabled = override.Observability.Metrics.Enabled
	}
	if override.Observability.Metrics.Port != 0 {
		result.Observability.Metrics.Port = override.Observability.Metrics.Port
	}
	if override.Observability.Metrics.Path != "" {
		result.Observability.Metrics.Path = override.Observability.Metrics.Path
	}

	if override.Observability.Tracing.Enabled != DefaultTracingEnabled {
		result.Observability.Tracing.Enabled = override.Observability.Tracing.Enabled
	}
	if override.Observability.Tracing.Endpoint != "" {
		result.Observability.Tracing.Endpoint = override.Observability.Tracing.Endpoint
	}
	if override.Observability.Tracing.SampleRate != 0 {
		result.Observability.Tracing.SampleRate = override.Observability.Tracing.SampleRate
	}

	if override.Observability.Sentry.Enabled != DefaultSentryEnabled {
		result.Observability.Sentry.Enabled = override.Observability.Sentry.Enabled
	}
	if override.Observability.Sentry.DSN != "" {
		result.Observability.Sentry.DSN = override.Observability.Sentry.DSN
	}
	if override.Observability.Sentry.Environment != "" {
		result.Observability.Sentry.Environment = override.Observability.Sentry.Environment
	}
	if override.Observability.Sentry.SampleRate != 0 {
		result.Observability.Sentry.SampleRate = override.Observability.Sentry.SampleRate
	}
	if override.Observability.Sentry.Release != "" {
		result.Observability.Sentry.Release = override.Observability.Sentry.Release
	}

	if override.RateLimit.Enabled {
		result.RateLimit.Enabled = override.RateLimit.Enabled
	}
	if override.RateLimit.Algorithm != "" {
		result.RateLimit.Algorithm = override.RateLimit.Algorithm
	}
	if override.RateLimit.Redis.Enabled {
		result.RateLimit.Redis.Enabled = override.RateLimit.Redis.Enabled
	}
	if override.RateLimit.Redis.Addr != "" {
		result.RateLimit.Redis.Addr = override.RateLimit.Redis.Addr
	}
	if override.RateLimit.Redis.Password != "" {
		result.RateLimit.Redis.Password = override.RateLimit.Redis.Password
	}
	if override.RateLimit.Redis.DB != 0 {
		result.RateLimit.Redis.DB = override.RateLimit.Redis.DB
	}
	if override.RateLimit.Redis.KeyPrefix != "" {
		result.RateLimit.Redis.KeyPrefix = override.RateLimit.Redis.KeyPrefix
	}
	if override.RateLimit.BurstMultiplier != 0 {
		result.RateLimit.BurstMultiplier = override.RateLimit.BurstMultiplier
	}
	if override.RateLimit.CleanupInterval != 0 {
		result.RateLimit.CleanupInterval = override.RateLimit.CleanupInterval
	}

	return &result
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 0-65535)", c.Server.Port)
	}

	if c.Engine.MaxActiveWorkflows < 1 {
		return fmt.Errorf("max active workflows must be positive: %d", c.Engine.MaxActiveWorkflows)
	}
	if c.Engine.MaxLoopIterations < 1 {
		return fmt.Errorf("max loop iterations must be positive: %d", c.Engine.MaxLoopIterations)
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("circuit breaker failure threshold must be positive: %d", c.CircuitBreaker.FailureThreshold)
		}
		if c.CircuitBreaker.Window <= 0 {
			return fmt.Errorf("circuit breaker window must be positive: %s", c.CircuitBreaker.Window)
		}
		if c.CircuitBreaker.CooldownPeriod <= 0 {
			return fmt.Errorf("circuit breaker cooldown period must be positive: %s", c.CircuitBreaker.CooldownPeriod)
		}
	}

	if !contains(ValidLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	if !contains(ValidLogFormats, c.Logging.Format) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Logging.Format, ValidLogFormats)
	}

	if c.Observability.Metrics.Enabled {
		if c.Observability.Metrics.Port < 1 || c.Observability.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d (must be 1-65535)", c.Observability.Metrics.Port)
		}
		if c.Observability.Metrics.Path == "" {
			return fmt.Errorf("metrics path cannot be empty when metrics enabled")
		}
	}

	if c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint cannot be empty when tracing enabled")
		}
		if c.Observability.Tracing.SampleRate < 0 || c.Observability.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing sample rate must be between 0 and 1: %f", c.Observability.Tracing.SampleRate)
		}
	}

	if c.Observability.Sentry.Enabled {
		if c.Observability.Sentry.DSN == "" {
			return fmt.Errorf("sentry DSN cannot be empty when sentry enabled")
		}
		if c.Observability.Sentry.SampleRate < 0 || c.Observability.Sentry.SampleRate > 1 {
			return fmt.Errorf("sentry sample rate must be between 0 and 1: %f", c.Observability.Sentry.SampleRate)
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.Redis.Enabled && c.RateLimit.Redis.Addr == "" {
		return fmt.Errorf("rate limit redis addr cannot be empty when redis enabled")
	}

	return nil
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Default returns a default configuration for testing and documentation.
func Default() *Config {
	return defaults()
}
