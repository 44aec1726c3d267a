// Package log provides category-tagged structured logging for agentflow.
//
// Logging goes to a file rather than stderr so it never interferes with the
// monitor TUI. Before Init is called (or when Init fails), output is
// discarded, which keeps library code free of nil checks.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
)

// Category tags a log line with the subsystem that produced it.
type Category string

const (
	CatDB       Category = "db"
	CatWorkflow Category = "workflow"
	CatClient   Category = "client"
	CatStore    Category = "store"
	CatConfig   Category = "config"
	CatUI       Category = "ui"
	CatWatch    Category = "watch"
	CatTrace    Category = "trace"
)

var (
	mu     sync.RWMutex
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	closer io.Closer
)

// Init directs log output to the given file at the given level.
// Creates the parent directory if needed. Safe to call more than once;
// the previous file is closed.
func Init(path string, level slog.Level) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) //nolint:gosec // G304: path comes from config
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer.Close()
	}
	logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	closer = f
	return nil
}

// Close flushes and closes the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer.Close()
		closer = nil
	}
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func log(level slog.Level, cat Category, msg string, args ...any) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Log(context.Background(), level, msg, append([]any{"cat", string(cat)}, args...)...)
}

// Debug logs a debug-level message with key-value pairs.
func Debug(cat Category, msg string, args ...any) { log(slog.LevelDebug, cat, msg, args...) }

// Info logs an info-level message with key-value pairs.
func Info(cat Category, msg string, args ...any) { log(slog.LevelInfo, cat, msg, args...) }

// Warn logs a warning-level message with key-value pairs.
func Warn(cat Category, msg string, args ...any) { log(slog.LevelWarn, cat, msg, args...) }

// Error logs an error-level message with key-value pairs.
func Error(cat Category, msg string, args ...any) { log(slog.LevelError, cat, msg, args...) }

// ErrorErr logs an error-level message with the error attached.
func ErrorErr(cat Category, msg string, err error, args ...any) {
	log(slog.LevelError, cat, msg, append([]any{"error", err}, args...)...)
}

// SafeGo runs fn in a goroutine with panic recovery. A recovered panic is
// logged with the goroutine's name and stack instead of crashing the process.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				Error(CatWorkflow, "Recovered panic in goroutine",
					"goroutine", name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
