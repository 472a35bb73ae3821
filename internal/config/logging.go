package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogging installs the global zerolog logger.
// Development gets a console writer, production gets JSON lines.
func ConfigureLogging(cfg *Config) {
	log.Logger = NewLogger(cfg, os.Stderr)
}

// NewLogger builds the logger ConfigureLogging installs, writing to out.
func NewLogger(cfg *Config, out io.Writer) zerolog.Logger {
	level := ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	w := out
	if !cfg.IsProduction() {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

// ParseLevel maps a level name to zerolog, falling back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
