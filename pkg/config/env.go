// Package config provides small helpers for reading typed configuration
// values from environment variables or any other key/value source.
//
// Every helper falls back to the supplied default when the value is unset or
// empty. Malformed values also fall back to the default, with a warning logged
// through slog so misconfiguration is visible without failing startup.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Source looks up a raw configuration value. An empty result means unset.
type Source func(key string) string

// Env reads values from the process environment.
var Env Source = os.Getenv

// Layered returns a Source that consults each source in order and returns the
// first non-empty value.
func Layered(sources ...Source) Source {
	return func(key string) string {
		for _, s := range sources {
			if s == nil {
				continue
			}
			if v := s(key); v != "" {
				return v
			}
		}
		return ""
	}
}

// GetEnvString returns the value of an environment variable or the default value if not set.
//
// Example:
//
//	base := GetEnvString("DEEPSEEK_API_BASE", "https://api.deepseek.com")
func GetEnvString(key, defaultValue string) string { return Env.String(key, defaultValue) }

// GetEnvInt returns the value of an environment variable as an integer.
//
// Example:
//
//	threshold := GetEnvInt("DEEPSEEK_CIRCUIT_FAILURE_THRESHOLD", 5)
func GetEnvInt(key string, defaultValue int) int { return Env.Int(key, defaultValue) }

// GetEnvFloat returns the value of an environment variable as a float64.
func GetEnvFloat(key string, defaultValue float64) float64 { return Env.Float(key, defaultValue) }

// GetEnvBool returns the value of an environment variable as a boolean.
func GetEnvBool(key string, defaultValue bool) bool { return Env.Bool(key, defaultValue) }

// GetEnvDuration returns the value of an environment variable as a time.Duration.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return Env.Duration(key, defaultValue)
}

// String returns the value for key or defaultValue.
func (s Source) String(key, defaultValue string) string {
	if v := strings.TrimSpace(s(key)); v != "" {
		return v
	}
	return defaultValue
}

// Int returns the value for key parsed as an integer.
func (s Source) Int(key string, defaultValue int) int {
	valueStr := strings.TrimSpace(s(key))
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		slog.Warn("invalid integer value for configuration key, using default",
			slog.String("key", key),
			slog.String("value", valueStr),
			slog.Int("default", defaultValue),
			slog.String("error", err.Error()))
		return defaultValue
	}
	return value
}

// Float returns the value for key parsed as a float64.
func (s Source) Float(key string, defaultValue float64) float64 {
	valueStr := strings.TrimSpace(s(key))
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		slog.Warn("invalid float value for configuration key, using default",
			slog.String("key", key),
			slog.String("value", valueStr),
			slog.Float64("default", defaultValue),
			slog.String("error", err.Error()))
		return defaultValue
	}
	return value
}

// Bool returns the value for key parsed as a boolean.
//
// Accepted true values: "1", "t", "true", "yes", "on" (any case).
// Accepted false values: "0", "f", "false", "no", "off" (any case).
func (s Source) Bool(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(s(key))
	if valueStr == "" {
		return defaultValue
	}

	switch strings.ToLower(valueStr) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		slog.Warn("invalid boolean value for configuration key, using default",
			slog.String("key", key),
			slog.String("value", valueStr),
			slog.Bool("default", defaultValue))
		return defaultValue
	}
}

// Duration returns the value for key as a time.Duration.
//
// Both Go duration strings ("90s", "1m30s") and bare numbers are accepted.
// A bare number is read as seconds and may be fractional ("0.5"), which keeps
// the settings compatible with deployments that configured delays in seconds.
func (s Source) Duration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(s(key))
	if valueStr == "" {
		return defaultValue
	}

	value, err := ParseDuration(valueStr)
	if err != nil {
		slog.Warn("invalid duration value for configuration key, using default",
			slog.String("key", key),
			slog.String("value", valueStr),
			slog.String("default", defaultValue.String()),
			slog.String("error", err.Error()))
		return defaultValue
	}
	return value
}

// ParseDuration parses either a Go duration string or a number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if seconds, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}
