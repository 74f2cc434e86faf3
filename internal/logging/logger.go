// Package logging builds the process root logger. Components derive their
// own loggers via logger.With().Str("component", ...).Logger().
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level      string `json:"level"`
	Output     string `json:"output"`      // "stdout", "stderr", or a file path
	JSONFormat bool   `json:"json_format"` // machine-readable JSON instead of console
}

// New builds the root zerolog logger. Unknown levels fall back to info;
// an unopenable log file falls back to stdout.
func New(cfg Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	switch {
	case cfg.Output == "stderr":
		out = os.Stderr
	case cfg.Output != "" && cfg.Output != "stdout":
		if file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			out = file
		}
	}

	if !cfg.JSONFormat {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "futures-decision-engine").Logger()
}
