// Package logging backs chatsock.Logger with zerolog for the binaries.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// EnvLogLevel overrides the configured level when set.
const EnvLogLevel = "CHATSOCK_LOG_LEVEL"

// Logger adapts a zerolog.Logger to the slog-style key/value interface.
type Logger struct {
	zl zerolog.Logger
}

// New creates a console logger writing to w at the given level.
// The CHATSOCK_LOG_LEVEL environment variable wins over level.
func New(w io.Writer, level string, color bool) *Logger {
	if env, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		return NewWithLevel(w, env, color)
	}
	lvl, ok := ParseLevel(level)
	if !ok {
		lvl = zerolog.InfoLevel
	}
	return NewWithLevel(w, lvl, color)
}

// IsTerminal reports whether w is a terminal, the only place color output
// is wanted.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewWithLevel creates a console logger with an explicit level.
func NewWithLevel(w io.Writer, level zerolog.Level, color bool) *Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    !color,
	}
	return &Logger{zl: zerolog.New(output).Level(level).With().Timestamp().Logger()}
}

// With returns a logger that adds the key/value pairs to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{zl: l.zl.With().Fields(args).Logger()}
}

func (l *Logger) Debug(msg string, args ...any) { l.zl.Debug().Fields(args).Msg(msg) }
func (l *Logger) Info(msg string, args ...any)  { l.zl.Info().Fields(args).Msg(msg) }
func (l *Logger) Warn(msg string, args ...any)  { l.zl.Warn().Fields(args).Msg(msg) }
func (l *Logger) Error(msg string, args ...any) { l.zl.Error().Fields(args).Msg(msg) }

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
