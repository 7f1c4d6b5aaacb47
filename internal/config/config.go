// Package config assembles docmeta's runtime configuration from environment
// variables, optionally layered over a YAML file named by DOCMETA_CONFIG_FILE.
// Environment values always win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"docmeta/internal/infra/analyzer"
	"docmeta/internal/infra/cache"
	"docmeta/internal/resilience/retry"
	pkgconfig "docmeta/pkg/config"
)

// Config is the complete runtime configuration.
type Config struct {
	Cache    cache.Config
	Retry    retry.Config
	Analyzer analyzer.Config
	Janitor  JanitorConfig
	Metrics  MetricsConfig
	Log      LogConfig

	// Workers bounds how many files the CLI analyzes at once.
	Workers int
}

// JanitorConfig schedules the periodic cache sweep in serve mode.
type JanitorConfig struct {
	Schedule string
}

// MetricsConfig configures the admin HTTP endpoint.
type MetricsConfig struct {
	Port int
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string
	Format string
}

const (
	defaultJanitorSchedule = "0 * * * *"
	defaultMetricsPort     = 9090
	defaultWorkers         = 4
)

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(pkgconfig.Env)
}

// LoadFrom reads the configuration from env, layering the YAML file named by
// DOCMETA_CONFIG_FILE underneath it when set.
func LoadFrom(env pkgconfig.Source) (*Config, error) {
	src := env
	if path := env.String("DOCMETA_CONFIG_FILE", ""); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		src = pkgconfig.Layered(env, file)
	}

	cfg := fromSource(src)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// readFile parses a flat YAML mapping of configuration keys. Keys are the
// environment variable names, matched case-insensitively.
func readFile(path string) (pkgconfig.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return func(key string) string { return values[key] }, nil
}

func fromSource(src pkgconfig.Source) *Config {
	cacheDefaults := cache.DefaultConfig()
	retryDefaults := retry.DefaultConfig()
	analyzerDefaults := analyzer.DefaultConfig()

	cfg := &Config{
		Cache: cache.Config{
			Enabled:   src.Bool("DEEPSEEK_CACHE_ENABLED", cacheDefaults.Enabled),
			Dir:       src.String("DEEPSEEK_CACHE_DIR", cacheDefaults.Dir),
			MaxSizeMB: src.Int("DEEPSEEK_CACHE_MAX_SIZE_MB", cacheDefaults.MaxSizeMB),
			TTL:       hours(src.Float("DEEPSEEK_CACHE_TTL_HOURS", cacheDefaults.TTL.Hours())),
		},
		Retry: retry.Config{
			MaxRetries:              src.Int("DEEPSEEK_RETRY_MAX_RETRIES", retryDefaults.MaxRetries),
			BaseDelay:               src.Duration("DEEPSEEK_RETRY_BASE_DELAY", retryDefaults.BaseDelay),
			MaxDelay:                src.Duration("DEEPSEEK_RETRY_MAX_DELAY", retryDefaults.MaxDelay),
			ExponentialBase:         src.Float("DEEPSEEK_RETRY_EXPONENTIAL_BASE", retryDefaults.ExponentialBase),
			JitterEnabled:           src.Bool("DEEPSEEK_RETRY_JITTER", retryDefaults.JitterEnabled),
			JitterFactor:            src.Float("DEEPSEEK_RETRY_JITTER_FACTOR", retryDefaults.JitterFactor),
			RetryOnTimeout:          src.Bool("DEEPSEEK_RETRY_ON_TIMEOUT", retryDefaults.RetryOnTimeout),
			RetryOnRateLimit:        src.Bool("DEEPSEEK_RETRY_ON_RATE_LIMIT", retryDefaults.RetryOnRateLimit),
			RetryOnServerError:      src.Bool("DEEPSEEK_RETRY_ON_SERVER_ERROR", retryDefaults.RetryOnServerError),
			RetryOnNetworkError:     src.Bool("DEEPSEEK_RETRY_ON_NETWORK_ERROR", retryDefaults.RetryOnNetworkError),
			CircuitBreakerEnabled:   src.Bool("DEEPSEEK_CIRCUIT_BREAKER_ENABLED", retryDefaults.CircuitBreakerEnabled),
			CircuitFailureThreshold: src.Int("DEEPSEEK_CIRCUIT_FAILURE_THRESHOLD", retryDefaults.CircuitFailureThreshold),
			CircuitRecoveryTimeout:  src.Duration("DEEPSEEK_CIRCUIT_RECOVERY_TIMEOUT", retryDefaults.CircuitRecoveryTimeout),
			CircuitHalfOpenMaxCalls: src.Int("DEEPSEEK_CIRCUIT_HALF_OPEN_MAX_CALLS", retryDefaults.CircuitHalfOpenMaxCalls),
			RequestTimeout:          src.Duration("DEEPSEEK_REQUEST_TIMEOUT", retryDefaults.RequestTimeout),
		},
		Analyzer: loadAnalyzer(src, analyzerDefaults),
		Janitor: JanitorConfig{
			Schedule: src.String("CACHE_JANITOR_SCHEDULE", defaultJanitorSchedule),
		},
		Metrics: MetricsConfig{
			Port: src.Int("METRICS_PORT", defaultMetricsPort),
		},
		Log: LogConfig{
			Level:  src.String("LOG_LEVEL", "info"),
			Format: strings.ToLower(src.String("LOG_FORMAT", "json")),
		},
		Workers: src.Int("DOCMETA_WORKERS", defaultWorkers),
	}
	return cfg
}

func loadAnalyzer(src pkgconfig.Source, d analyzer.Config) analyzer.Config {
	cfg := analyzer.Config{
		Provider:       strings.ToLower(src.String("ANALYZER_PROVIDER", d.Provider)),
		MaxTokens:      src.Int("ANALYZER_MAX_TOKENS", d.MaxTokens),
		Temperature:    src.Float("ANALYZER_TEMPERATURE", d.Temperature),
		RateLimitRPS:   src.Float("ANALYZER_RATE_LIMIT_RPS", d.RateLimitRPS),
		RateLimitBurst: src.Int("ANALYZER_RATE_LIMIT_BURST", d.RateLimitBurst),
		HTTPTimeout:    src.Duration("ANALYZER_HTTP_TIMEOUT", d.HTTPTimeout),
	}
	if cfg.Provider == analyzer.ProviderClaude {
		cfg.APIKey = src.String("ANTHROPIC_API_KEY", "")
		cfg.APIBase = src.String("ANTHROPIC_API_BASE", "")
		cfg.Model = src.String("ANTHROPIC_MODEL", analyzer.DefaultClaudeModel)
		return cfg
	}
	cfg.APIKey = src.String("DEEPSEEK_API_KEY", "")
	cfg.APIBase = src.String("DEEPSEEK_API_BASE", d.APIBase)
	cfg.Model = src.String("DEEPSEEK_MODEL", d.Model)
	return cfg
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Dir) == "" {
		errs = append(errs, errors.New("DEEPSEEK_CACHE_DIR cannot be empty when the cache is enabled"))
	}
	if c.Cache.MaxSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("DEEPSEEK_CACHE_MAX_SIZE_MB must be positive, got %d", c.Cache.MaxSizeMB))
	}
	if err := pkgconfig.ValidatePositiveDuration(c.Cache.TTL); err != nil {
		errs = append(errs, fmt.Errorf("DEEPSEEK_CACHE_TTL_HOURS: %w", err))
	}

	switch c.Analyzer.Provider {
	case analyzer.ProviderDeepSeek, analyzer.ProviderClaude, analyzer.ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("ANALYZER_PROVIDER must be deepseek, claude or mock, got %q", c.Analyzer.Provider))
	}
	if c.Analyzer.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("ANALYZER_MAX_TOKENS must be positive, got %d", c.Analyzer.MaxTokens))
	}
	if err := pkgconfig.ValidateFloatRange(c.Analyzer.Temperature, 0, 2); err != nil {
		errs = append(errs, fmt.Errorf("ANALYZER_TEMPERATURE: %w", err))
	}
	if c.Analyzer.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("ANALYZER_RATE_LIMIT_RPS must be non-negative, got %g", c.Analyzer.RateLimitRPS))
	}
	if err := pkgconfig.ValidateNonNegativeDuration(c.Analyzer.HTTPTimeout); err != nil {
		errs = append(errs, fmt.Errorf("ANALYZER_HTTP_TIMEOUT: %w", err))
	}

	if err := pkgconfig.ValidateCronSchedule(c.Janitor.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("CACHE_JANITOR_SCHEDULE: %w", err))
	}
	if err := pkgconfig.ValidateIntRange(c.Metrics.Port, 1, 65535); err != nil {
		errs = append(errs, fmt.Errorf("METRICS_PORT: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("DOCMETA_WORKERS must be at least 1, got %d", c.Workers))
	}

	return errors.Join(errs...)
}
