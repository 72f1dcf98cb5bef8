package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger создаёт zerolog для сервиса. В dev включён уровень debug.
func NewLogger(appEnv string) zerolog.Logger {
	return newLogger(os.Stdout, appEnv, os.Getenv("LOG_LEVEL"))
}

// NewServiceLogger добавляет к логгеру имя сервиса.
func NewServiceLogger(appEnv, service string) zerolog.Logger {
	return NewLogger(appEnv).With().Str("service", service).Logger()
}

func newLogger(w io.Writer, appEnv, levelOverride string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "dev" {
		level = zerolog.DebugLevel
	}
	if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelOverride))); err == nil && levelOverride != "" {
		level = lvl
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}
