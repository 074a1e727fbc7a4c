package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	mu    sync.RWMutex
	level = new(slog.LevelVar)
	root  = newLogger(os.Stderr)
)

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel accepts debug/info/error in any case and falls back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	switch l {
	case LevelDebug:
		level.Set(slog.LevelDebug)
	case LevelError:
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// SetOutput redirects all log lines. Tests use it to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	root = newLogger(w)
}

// Logger carries a fixed set of key/value pairs, e.g. a run id.
type Logger struct {
	kv []any
}

// With returns a Logger that prepends kv to every line.
func With(kv ...any) *Logger {
	return &Logger{kv: kv}
}

// With extends the logger's fixed pairs.
func (l *Logger) With(kv ...any) *Logger {
	merged := make([]any, 0, len(l.kv)+len(kv))
	merged = append(merged, l.kv...)
	merged = append(merged, kv...)
	return &Logger{kv: merged}
}

func (l *Logger) Debug(msg string, kv ...any) {
	logWithLevel(slog.LevelDebug, msg, l.merge(kv)...)
}

func (l *Logger) Info(msg string, kv ...any) {
	logWithLevel(slog.LevelInfo, msg, l.merge(kv)...)
}

func (l *Logger) Error(msg string, err error, kv ...any) {
	logWithLevel(slog.LevelError, msg, append([]any{"err", err}, l.merge(kv)...)...)
}

func (l *Logger) merge(kv []any) []any {
	if l == nil || len(l.kv) == 0 {
		return kv
	}
	merged := make([]any, 0, len(l.kv)+len(kv))
	merged = append(merged, l.kv...)
	return append(merged, kv...)
}

func Debug(msg string, kv ...any) {
	logWithLevel(slog.LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(slog.LevelInfo, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	logWithLevel(slog.LevelError, msg, append([]any{"err", err}, kv...)...)
}

func logWithLevel(lvl slog.Level, msg string, kv ...any) {
	mu.RLock()
	l := root
	mu.RUnlock()
	l.Log(context.Background(), lvl, msg, kv...)
}
