// Package logtest captures slog output in tests.
package logtest

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Logger records messages and levels written through its slog.Logger.
type Logger struct {
	mu       sync.Mutex
	messages []string
	levels   []slog.Level
	buffer   *bytes.Buffer
}

// New creates an empty Logger.
func New() *Logger {
	return &Logger{
		messages: make([]string, 0),
		levels:   make([]slog.Level, 0),
		buffer:   &bytes.Buffer{},
	}
}

// Slog returns a logger writing into l.
func (l *Logger) Slog() *slog.Logger {
	handler := slog.NewTextHandler(l.buffer, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	return slog.New(&captureHandler{logger: l, handler: handler})
}

// Messages returns the captured messages in order.
func (l *Logger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.messages)
}

// Levels returns the captured levels in order.
func (l *Logger) Levels() []slog.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.levels)
}

// Has reports whether msg was logged at level.
func (l *Logger) Has(level slog.Level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, m := range l.messages {
		if m == msg && l.levels[i] == level {
			return true
		}
	}
	return false
}

// Output returns the formatted log text.
func (l *Logger) Output() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffer.String()
}

// Reset drops everything captured so far.
func (l *Logger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = l.messages[:0]
	l.levels = l.levels[:0]
	l.buffer.Reset()
}

// captureHandler wraps the original handler to capture log data
type captureHandler struct {
	logger  *Logger
	handler slog.Handler
}

func (ch *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return ch.handler.Enabled(ctx, level)
}

func (ch *captureHandler) Handle(ctx context.Context, record slog.Record) error { //nolint:gocritic // slog.Handler interface
	ch.logger.mu.Lock()
	defer ch.logger.mu.Unlock()

	ch.logger.messages = append(ch.logger.messages, record.Message)
	ch.logger.levels = append(ch.logger.levels, record.Level)

	return ch.handler.Handle(ctx, record)
}

func (ch *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{logger: ch.logger, handler: ch.handler.WithAttrs(attrs)}
}

func (ch *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{logger: ch.logger, handler: ch.handler.WithGroup(name)}
}
