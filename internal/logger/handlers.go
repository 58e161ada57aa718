package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// moduleKey is the attribute naming the emitting module.
const moduleKey = "module"

// LogFilePermissions is the mode used for newly created log files.
const LogFilePermissions = 0o600

// newTextHandler returns a console handler. Time is dropped and levels are padded
// so module columns line up.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				lvl, ok := a.Value.Any().(slog.Level)
				if !ok {
					return a
				}
				return slog.String(slog.LevelKey, padLevel(levelName(lvl)))
			}
			if t, ok := a.Value.Any().(time.Time); ok && tz != nil {
				return slog.Time(a.Key, t.In(tz))
			}
			return a
		},
	})
}

// levelName renders slog levels including the custom trace level.
func levelName(l slog.Level) string {
	if l <= traceLevelValue {
		return "TRACE"
	}
	return l.String()
}

func padLevel(s string) string {
	for len(s) < maxLevelWidth {
		s += " "
	}
	return s
}

// parseSlogLevel converts a LogLevel to slog.Level
func parseSlogLevel(level LogLevel) slog.Level {
	return parseLogLevel(string(level))
}

// multiWriterHandler writes to multiple slog handlers
type multiWriterHandler struct {
	handlers []slog.Handler
}

func newMultiWriterHandler(handlers ...slog.Handler) slog.Handler {
	return &multiWriterHandler{handlers: handlers}
}

// Enabled returns true if any handler is enabled for the level
func (h *multiWriterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler != nil && handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to every handler enabled for its level
//
//nolint:gocritic // slog.Handler interface requires record by value
func (h *multiWriterHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler == nil || !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *multiWriterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		if handler != nil {
			next[i] = handler.WithAttrs(attrs)
		}
	}
	return &multiWriterHandler{handlers: next}
}

func (h *multiWriterHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		if handler != nil {
			next[i] = handler.WithGroup(name)
		}
	}
	return &multiWriterHandler{handlers: next}
}
