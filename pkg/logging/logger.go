// Package logging provides the structured logger used across SampleMind.
// It wraps log/slog with component scoping and DSN redaction.
package logging

import (
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// Config controls handler selection and verbosity.
type Config struct {
	Level       string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format      string `json:"format" yaml:"format"`           // json or text
	ServiceName string `json:"service_name" yaml:"service_name"`
	AddSource   bool   `json:"add_source" yaml:"add_source"`
}

// DefaultConfig returns production defaults: JSON at info level.
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "samplemind",
	}
}

// Logger wraps slog.Logger with component scoping.
type Logger struct {
	*slog.Logger
}

// NewLogger builds a Logger writing to w (os.Stderr when nil).
func NewLogger(config *Config, w io.Writer) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	if config.ServiceName != "" {
		logger = logger.With("service", config.ServiceName)
	}
	return &Logger{Logger: logger}
}

// WithComponent returns a child logger tagged with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedactDSN strips credentials from a connection string before it is logged.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "redacted")
	}
	return u.String()
}
