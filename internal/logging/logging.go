// Package logging configures the process-wide zerolog logger, the way
// minis/50-mini-service-all-features/cmd/service/main.go's setupLogger
// does: console writer for local development, JSON otherwise, level
// parsed from config with an InfoLevel fallback.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/chain-collector/internal/config"
)

// Setup installs the global zerolog logger from cfg and returns it for
// callers that want a bound instance (e.g. to attach a "topic" field).
func Setup(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	log.Logger = logger
	return logger
}
