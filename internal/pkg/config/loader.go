// Package config loads settings from environment variables with a fail-open
// strategy: a value that is missing, unparseable or rejected by its validator
// is replaced by the default, and the substitution is reported as a warning
// instead of an error.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Result is the outcome of loading one value.
type Result[T any] struct {
	Value           T
	Warnings        []string
	FallbackApplied bool
}

func fallback[T any](envKey, raw string, def T, err error) Result[T] {
	return Result[T]{
		Value: def,
		Warnings: []string{fmt.Sprintf(
			"Invalid %s='%s': %v, falling back to default '%v'", envKey, raw, err, def)},
		FallbackApplied: true,
	}
}

// load reads envKey, parses it and validates it. An unset or blank variable
// yields def without a warning.
func load[T any](envKey string, def T, parse func(string) (T, error), validate func(T) error) Result[T] {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return Result[T]{Value: def}
	}

	v, err := parse(raw)
	if err != nil {
		return fallback(envKey, raw, def, err)
	}
	if validate != nil {
		if err := validate(v); err != nil {
			return fallback(envKey, raw, def, err)
		}
	}
	return Result[T]{Value: v}
}

// LoadEnvString returns the value of envKey, or defaultValue when it is unset.
// No validation is performed.
func LoadEnvString(envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultValue
}

// LoadEnvWithFallback loads a string and validates it.
//
// Example:
//
//	r := LoadEnvWithFallback("CACHE_SWEEP_SCHEDULE", "@every 1h", ValidateCronSchedule)
//	schedule := r.Value
func LoadEnvWithFallback(envKey, defaultValue string, validator func(string) error) Result[string] {
	return load(envKey, defaultValue, func(s string) (string, error) { return s, nil }, validator)
}

// LoadEnvDuration loads a Go duration string such as "30s" or "24h".
func LoadEnvDuration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) Result[time.Duration] {
	return load(envKey, defaultValue, time.ParseDuration, validator)
}

// LoadEnvInt loads a base-10 integer.
func LoadEnvInt(envKey string, defaultValue int, validator func(int) error) Result[int] {
	return load(envKey, defaultValue, func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid integer format")
		}
		return n, nil
	}, validator)
}

// LoadEnvFloat loads a floating point number.
func LoadEnvFloat(envKey string, defaultValue float64, validator func(float64) error) Result[float64] {
	return load(envKey, defaultValue, func(s string) (float64, error) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number format")
		}
		return f, nil
	}, validator)
}

// LoadEnvBool loads a boolean accepted by strconv.ParseBool ("1", "true", "F", ...).
func LoadEnvBool(envKey string, defaultValue bool) Result[bool] {
	return load(envKey, defaultValue, func(s string) (bool, error) {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return false, fmt.Errorf("invalid boolean format, expected 'true' or 'false'")
		}
		return b, nil
	}, nil)
}

// Loader applies the Load functions for one component, logging every
// fallback and recording it in ConfigMetrics.
//
// Example:
//
//	l := config.NewLoader(logger, metrics)
//	ttl := l.Duration("cache_ttl", "CACHE_TTL", 24*time.Hour, config.ValidatePositiveDuration)
//	port := l.Int("health_port", "HEALTH_PORT", 9091, func(v int) error {
//	    return config.ValidateIntRange(v, 1024, 65535)
//	})
//	l.Finish()
type Loader struct {
	logger   *slog.Logger
	metrics  *ConfigMetrics
	fallback bool
}

// NewLoader creates a Loader. metrics may be nil.
func NewLoader(logger *slog.Logger, metrics *ConfigMetrics) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, metrics: metrics}
}

// String loads a validated string field.
func (l *Loader) String(field, envKey, def string, validator func(string) error) string {
	return observe(l, field, LoadEnvWithFallback(envKey, def, validator))
}

// Duration loads a validated duration field.
func (l *Loader) Duration(field, envKey string, def time.Duration, validator func(time.Duration) error) time.Duration {
	return observe(l, field, LoadEnvDuration(envKey, def, validator))
}

// Int loads a validated integer field.
func (l *Loader) Int(field, envKey string, def int, validator func(int) error) int {
	return observe(l, field, LoadEnvInt(envKey, def, validator))
}

// Float loads a validated float field.
func (l *Loader) Float(field, envKey string, def float64, validator func(float64) error) float64 {
	return observe(l, field, LoadEnvFloat(envKey, def, validator))
}

// Bool loads a boolean field.
func (l *Loader) Bool(field, envKey string, def bool) bool {
	return observe(l, field, LoadEnvBool(envKey, def))
}

// FallbackApplied reports whether any field fell back to its default.
func (l *Loader) FallbackApplied() bool { return l.fallback }

// Finish publishes the fallback state and load timestamp.
func (l *Loader) Finish() {
	if l.metrics == nil {
		return
	}
	l.metrics.SetFallbackActive(l.fallback)
	l.metrics.RecordLoadTimestamp()
}

func observe[T any](l *Loader, field string, r Result[T]) T {
	if !r.FallbackApplied {
		return r.Value
	}
	l.fallback = true
	if l.metrics != nil {
		l.metrics.RecordValidationError(field)
		l.metrics.RecordFallback(field, "default")
	}
	for _, w := range r.Warnings {
		l.logger.Warn("Configuration fallback applied",
			slog.String("field", field),
			slog.String("warning", w))
	}
	return r.Value
}
