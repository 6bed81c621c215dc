// Package logger provides structured logging for the qualification engine.
//
// It wraps zerolog behind a small, stable call surface (WithField/WithFields/
// WithContext/WithError/Info/Warn/Error/Fatal) so the rest of the codebase never
// imports zerolog directly.
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog.Level so callers don't need to import zerolog.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel parses a string level, defaulting to Info.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	case "fatal", "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Config configures the default logger.
type Config struct {
	Level   Level
	Output  io.Writer
	Service string
	Pretty  bool // console-writer output for local development
}

// Logger is a thin, chainable wrapper around zerolog.Logger.
type Logger struct {
	z zerolog.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the process-wide default logger. Safe to call once; later
// calls are no-ops.
func Init(cfg Config) {
	once.Do(func() {
		defaultLogger = New(cfg)
	})
}

// New builds a standalone logger instance.
func New(cfg Config) *Logger {
	var w io.Writer = cfg.Output
	if w == nil {
		w = os.Stdout
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	service := cfg.Service
	if service == "" {
		service = "qualify"
	}

	z := zerolog.New(w).
		Level(cfg.Level.zerolog()).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	return &Logger{z: z}
}

// Default returns the process-wide logger, initializing it with sane defaults
// on first use.
func Default() *Logger {
	if defaultLogger == nil {
		Init(Config{Level: LevelInfo, Output: os.Stdout, Service: "qualify"})
	}
	return defaultLogger
}

func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	ctx := l.z.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{z: ctx.Logger()}
}

// WithContext pulls well-known correlation IDs off a context, if present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	out := l
	if runID, ok := ctx.Value(ctxKeyRunID).(string); ok && runID != "" {
		out = out.WithField("run_id", runID)
	}
	if file, ok := ctx.Value(ctxKeyFile).(string); ok && file != "" {
		out = out.WithField("file", file)
	}
	return out
}

func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{z: l.z.With().Err(err).Logger()}
}

func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.WithField("duration_ms", float64(d.Microseconds())/1000.0)
}

func (l *Logger) Debug(msg string, args ...any) { l.z.Debug().Msgf(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.z.Info().Msgf(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.z.Warn().Msgf(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.z.Error().Msgf(msg, args...) }
func (l *Logger) Fatal(msg string, args ...any) { l.z.Fatal().Msgf(msg, args...) }

// Zerolog exposes the underlying zerolog.Logger for packages (e.g. the worker
// pool) that want native field builders instead of the Interface()-based ones
// above.
func (l *Logger) Zerolog() zerolog.Logger { return l.z }

type ctxKey int

const (
	ctxKeyRunID ctxKey = iota
	ctxKeyFile
)

// WithRunID returns a context carrying a run identifier for log correlation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, runID)
}

// WithFile returns a context carrying a source file path for log correlation.
func WithFile(ctx context.Context, file string) context.Context {
	return context.WithValue(ctx, ctxKeyFile, file)
}

// Package-level convenience functions operating on the default logger.
func Debug(msg string, args ...any)            { Default().Debug(msg, args...) }
func Info(msg string, args ...any)              { Default().Info(msg, args...) }
func Warn(msg string, args ...any)              { Default().Warn(msg, args...) }
func Error(msg string, args ...any)             { Default().Error(msg, args...) }
func Fatal(msg string, args ...any)             { Default().Fatal(msg, args...) }
func WithField(key string, value any) *Logger   { return Default().WithField(key, value) }
func WithFields(fields map[string]any) *Logger  { return Default().WithFields(fields) }
func WithContext(ctx context.Context) *Logger   { return Default().WithContext(ctx) }
func WithError(err error) *Logger               { return Default().WithError(err) }
func WithDuration(d time.Duration) *Logger      { return Default().WithDuration(d) }
