// Package config loads gateway settings from the environment: a struct of
// defaults is built first, then each field is overridden from os.Getenv if
// the corresponding variable is set. Every invalid override is collected
// rather than failing on the first one, so Load reports every problem in a
// single error.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/intelcon-group/gt06-gateway/internal/protocol"
)

// Config holds every externally tunable gateway setting.
type Config struct {
	TCPPort    int
	HTTPPort   int
	MetricsPort int // 0 disables the metrics listener

	LogLevel  string
	LogFormat string

	StaticDir          string
	DeviceIdleTimeout  time.Duration
	ObserverIdleTimeout time.Duration
	ShutdownGrace      time.Duration
	QueueCap           int // 0 = unbounded

	HemisphereMode protocol.HemisphereMode
}

func defaults() Config {
	return Config{
		TCPPort:             5000,
		HTTPPort:            8081,
		MetricsPort:         0,
		LogLevel:            "info",
		LogFormat:           "text",
		StaticDir:           "",
		DeviceIdleTimeout:   5 * time.Minute,
		ObserverIdleTimeout: 30 * time.Minute,
		ShutdownGrace:       10 * time.Second,
		QueueCap:            0,
		HemisphereMode:      protocol.HemisphereSigned,
	}
}

// Load builds a Config from defaults overridden by environment variables,
// then validates it. All validation failures are collected and returned
// together rather than stopping at the first one.
func Load() (*Config, error) {
	cfg := defaults()

	var errs []error
	cfg.TCPPort = overrideInt("TCP_PORT", cfg.TCPPort, &errs)
	cfg.HTTPPort = overrideInt("HTTP_PORT", cfg.HTTPPort, &errs)
	cfg.MetricsPort = overrideInt("METRICS_PORT", cfg.MetricsPort, &errs)
	cfg.QueueCap = overrideInt("QUEUE_CAP", cfg.QueueCap, &errs)

	cfg.DeviceIdleTimeout = overrideDuration("DEVICE_IDLE_TIMEOUT", cfg.DeviceIdleTimeout, &errs)
	cfg.ObserverIdleTimeout = overrideDuration("OBSERVER_IDLE_TIMEOUT", cfg.ObserverIdleTimeout, &errs)
	cfg.ShutdownGrace = overrideDuration("SHUTDOWN_GRACE", cfg.ShutdownGrace, &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}

	switch os.Getenv("HEMISPHERE_MODE") {
	case "", "signed":
		cfg.HemisphereMode = protocol.HemisphereSigned
	case "flagbits":
		cfg.HemisphereMode = protocol.HemisphereFlagBits
	default:
		errs = append(errs, errors.Errorf("HEMISPHERE_MODE: unknown value %q (want \"signed\" or \"flagbits\")", os.Getenv("HEMISPHERE_MODE")))
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, aggregateErrors(errs)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.TCPPort <= 0 || c.TCPPort > 65535 {
		errs = append(errs, errors.Errorf("TCP_PORT: invalid port %d", c.TCPPort))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, errors.Errorf("HTTP_PORT: invalid port %d", c.HTTPPort))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, errors.Errorf("METRICS_PORT: invalid port %d", c.MetricsPort))
	}
	if c.QueueCap < 0 {
		errs = append(errs, errors.Errorf("QUEUE_CAP: must be >= 0, got %d", c.QueueCap))
	}
	if c.LogLevel != "" {
		switch strings.ToLower(c.LogLevel) {
		case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
		default:
			errs = append(errs, errors.Errorf("LOG_LEVEL: unrecognized level %q", c.LogLevel))
		}
	}
	switch c.LogFormat {
	case "text", "console", "json":
	default:
		errs = append(errs, errors.Errorf("LOG_FORMAT: must be \"console\", \"text\" or \"json\", got %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return aggregateErrors(errs)
	}
	return nil
}

func overrideInt(name string, fallback int, errs *[]error) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, errors.Wrapf(err, "%s: invalid integer %q", name, v))
		return fallback
	}
	return n
}

func overrideDuration(name string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, errors.Wrapf(err, "%s: invalid duration %q", name, v))
		return fallback
	}
	return d
}

// aggregateErrors joins multiple validation errors into one, in the order
// they were produced.
func aggregateErrors(errs []error) error {
	msg := "invalid configuration:"
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return errors.New(msg)
}
