package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

const maxLogs = 100

var levelMap = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	if lvl, ok := levelMap[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// Buffer keeps the most recent log lines for the dashboard's /api/logs.
type Buffer struct {
	mu    sync.RWMutex
	lines []string
	max   int
}

func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = maxLogs
	}
	return &Buffer{max: max}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		b.lines = append(b.lines, line)
	}
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = append([]string(nil), b.lines[over:]...)
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.lines...)
}

// New builds the process logger: colored tint output on console plus an
// uncolored copy into buf. It also installs the logger as slog's default.
func New(level string, console io.Writer, buf *Buffer) *slog.Logger {
	lvl := ParseLevel(level)

	handlers := []slog.Handler{
		tint.NewHandler(console, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		}),
	}
	if buf != nil {
		handlers = append(handlers, tint.NewHandler(buf, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
			NoColor:    true,
		}))
	}

	logger := slog.New(fanout(handlers))
	slog.SetDefault(logger)
	return logger
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(tint.NewHandler(io.Discard, &tint.Options{NoColor: true}))
}

// Capture returns a logger writing plain text into the returned buffer.
func Capture() (*slog.Logger, *bytes.Buffer) {
	var out bytes.Buffer
	return slog.New(tint.NewHandler(&out, &tint.Options{NoColor: true, Level: slog.LevelDebug})), &out
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, lvl slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, lvl) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
