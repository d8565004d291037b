package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the service logger: human readable console output outside
// production, JSON lines in production.
func New(env, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
		if env != "production" {
			lvl = zerolog.DebugLevel
		}
	}

	if env == "production" {
		return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", "parking-service").Logger()
	}

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}
