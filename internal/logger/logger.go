// Package logger provides the configured zerolog logger.
package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns the application logger. Debug enables human-readable
// console output and debug-level events.
func New(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var log zerolog.Logger
	if debug {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stdout)
	}

	return log.Level(level).With().
		Str("service", "bilibili-autoreply").
		Timestamp().
		Logger()
}
