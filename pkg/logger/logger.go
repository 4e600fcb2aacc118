// Package logger provides the structured logger used across the trading engine.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls the shape of the process-wide logger.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // human-readable console output instead of JSON
}

// New builds a zerolog.Logger from Config and sets the global log level.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetGlobalLogger installs l as the package-level zerolog logger.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}

// WithCorrelation returns a child logger tagging every line with a correlation id.
func WithCorrelation(l zerolog.Logger, correlationID string) zerolog.Logger {
	return l.With().Str("correlation_id", correlationID).Logger()
}
