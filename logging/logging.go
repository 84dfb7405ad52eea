// Package logging defines the leveled, context-tagged logger sink the
// pipeline consumes and a default slog-backed implementation of it.
//
// Components never construct loggers for themselves beyond deriving
// children via WithContext — the root logger is always supplied by the
// caller, the same "acquired by value, never stored back" discipline the
// spec calls out in its design notes to avoid cyclic references.
package logging

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
)

// Level mirrors the spec's TRACE(0) < DEBUG(1) < INFO(2) < WARN(3) <
// ERROR(4) < SILENT(5) ordering. slog has no native TRACE or SILENT level,
// so TRACE is modeled as an offset below slog.LevelDebug and SILENT as an
// offset above slog.LevelError, which no log call reaches.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelTrace:
		return slog.LevelDebug - 4
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelSilent:
		return slog.LevelError + 4
	default:
		return slog.LevelError
	}
}

// Logger is the sink the pipeline writes to. Implementations must be safe
// for concurrent use; WithContext must return an independent value whose
// context is the merge of the receiver's context and ctx (the receiver is
// left untouched).
type Logger interface {
	Trace(msg string, ctx map[string]any, args ...any)
	Debug(msg string, ctx map[string]any, args ...any)
	Info(msg string, ctx map[string]any, args ...any)
	Warn(msg string, ctx map[string]any, args ...any)
	Error(msg string, ctx map[string]any, args ...any)

	SetLevel(Level)
	GetLevel() Level

	// WithContext returns a child logger whose context is merged with ctx.
	// The child is independent: later calls to SetLevel on the parent do
	// not affect it, matching the spec's "never stored back into the
	// registry" note.
	WithContext(ctx map[string]any) Logger
}

// slogLogger adapts *slog.Logger to the Logger interface. Grounded on the
// structured-logging shape used throughout
// GriffinCanCode-good-listener/backend/platform (slog.Logger.With for child
// loggers, attribute-based context instead of string interpolation).
type slogLogger struct {
	base  *slog.Logger
	level *atomic.Int64 // holds a slog.Level, gates output independent of the handler
}

// NewSlog returns a Logger writing JSON lines to w at the given minimum
// level. Use io.Discard in tests that don't care about log output.
func NewSlog(w io.Writer, level Level) Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug - 8})
	lv := &atomic.Int64{}
	lv.Store(int64(level.slogLevel()))
	return &slogLogger{base: slog.New(handler), level: lv}
}

func (l *slogLogger) log(level slog.Level, msg string, ctx map[string]any, args ...any) {
	if int64(level) < l.level.Load() {
		return
	}
	attrs := make([]any, 0, len(ctx)*2+len(args))
	for k, v := range ctx {
		attrs = append(attrs, slog.Any(k, v))
	}
	attrs = append(attrs, args...)
	l.base.Log(context.Background(), level, msg, attrs...)
}

func (l *slogLogger) Trace(msg string, ctx map[string]any, args ...any) {
	l.log(LevelTrace.slogLevel(), msg, ctx, args...)
}
func (l *slogLogger) Debug(msg string, ctx map[string]any, args ...any) {
	l.log(slog.LevelDebug, msg, ctx, args...)
}
func (l *slogLogger) Info(msg string, ctx map[string]any, args ...any) {
	l.log(slog.LevelInfo, msg, ctx, args...)
}
func (l *slogLogger) Warn(msg string, ctx map[string]any, args ...any) {
	l.log(slog.LevelWarn, msg, ctx, args...)
}
func (l *slogLogger) Error(msg string, ctx map[string]any, args ...any) {
	l.log(slog.LevelError, msg, ctx, args...)
}

func (l *slogLogger) SetLevel(level Level) { l.level.Store(int64(level.slogLevel())) }
func (l *slogLogger) GetLevel() Level {
	cur := slog.Level(l.level.Load())
	switch {
	case cur <= LevelTrace.slogLevel():
		return LevelTrace
	case cur <= slog.LevelDebug:
		return LevelDebug
	case cur <= slog.LevelInfo:
		return LevelInfo
	case cur <= slog.LevelWarn:
		return LevelWarn
	case cur <= slog.LevelError:
		return LevelError
	default:
		return LevelSilent
	}
}

// WithContext returns an independent child logger. The child gets its own
// level counter seeded from the parent's current level so later SetLevel
// calls on either side don't leak across the split, matching "child loggers
// are independent" in the spec.
func (l *slogLogger) WithContext(ctx map[string]any) Logger {
	attrs := make([]any, 0, len(ctx)*2)
	for k, v := range ctx {
		attrs = append(attrs, slog.Any(k, v))
	}
	lv := &atomic.Int64{}
	lv.Store(l.level.Load())
	return &slogLogger{base: l.base.With(attrs...), level: lv}
}

// Discard is a Logger that drops everything. Useful as a zero-value-safe
// default when a caller doesn't supply one.
func Discard() Logger { return NewSlog(io.Discard, LevelSilent) }
