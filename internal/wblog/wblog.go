// Package wblog builds the structured logger every other package receives
// by value — one factory, configured once at startup, plus panic-recovery
// helpers for goroutines that must never take the process down with them.
package wblog

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Level is the minimum severity a logger emits.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON   Format = "json"   // structured, for log aggregation
	FormatPretty Format = "pretty" // human-readable, for local dev
)

// Config configures New.
type Config struct {
	Level  Level
	Format Format
}

// New creates a structured logger tagged with the worterbuch service name,
// timestamp, and caller location.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "worterbuch").
		Logger()
}

// RecoverPanic logs a recovered panic with its stack trace but does not
// re-panic, so a bug in one forwarder or worker goroutine can't take the
// rest of the broker down with it. Call via defer at the top of any
// goroutine that outlives its spawn point.
func RecoverPanic(logger zerolog.Logger, goroutine string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("goroutine", goroutine).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("goroutine panic recovered")
	}
}
