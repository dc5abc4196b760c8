// Package logging builds the process-wide zerolog logger used by every
// component. There is no package-level singleton mutated at runtime:
// New is called once in cmd/server and the *zerolog.Logger is threaded
// through constructors, the way ManuGH-xg2g's daemon package wires its
// logger into App/Manager rather than reaching for a global.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the console/JSON split and verbosity of the logger.
type Config struct {
	Level   string // "debug", "info", "warn", "error"
	Pretty  bool   // console-writer formatting for local development
	Output  io.Writer
}

// New builds a configured zerolog.Logger. A zero Config produces sane
// production defaults: info level, JSON to stdout.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Component returns a child logger tagged with a "component" field, the
// structured-logging equivalent of the teacher's TrailarrLog(tag, ...)
// convention.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
