// Package logging builds a structured slog.Logger backed by a
// size-rotated NDJSON file, one JSON object per line in the spirit of
// the pack's append-only event logs.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter is an io.Writer that rotates the underlying file once it
// crosses maxSize bytes, renaming the current file aside with a UTC
// timestamp and reopening a fresh one at the original path.
type RotatingWriter struct {
	mu      sync.Mutex
	dir     string
	name    string
	maxSize int64

	f    *os.File
	size int64
}

// NewRotatingWriter opens (creating if needed) dir/name for append, ready
// to rotate once size exceeds maxSizeMB.
func NewRotatingWriter(dir, name string, maxSizeMB int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	w := &RotatingWriter{
		dir:     dir,
		name:    name,
		maxSize: int64(maxSizeMB) * 1024 * 1024,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) path() string {
	return filepath.Join(w.dir, w.name)
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logging: stat log file: %w", err)
	}
	w.f = f
	w.size = info.Size()
	return nil
}

// Write implements io.Writer. Rotation is checked before the write so a
// single oversized record still lands in the file it triggered rotation
// into, never split across two files.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("logging: write log line: %w", err)
	}
	return n, nil
}

func (w *RotatingWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("logging: close rotating log file: %w", err)
	}
	rotated := filepath.Join(w.dir, fmt.Sprintf("%s.%s", w.name, time.Now().UTC().Format("20060102T150405Z")))
	if err := os.Rename(w.path(), rotated); err != nil {
		return fmt.Errorf("logging: rotate log file: %w", err)
	}
	return w.open()
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// New builds a slog.Logger writing JSON lines to dir/file, rotating once
// the file crosses maxSizeMB. level is one of "debug", "info", "warn",
// "error" (case-insensitive); anything else defaults to info.
func New(dir, file string, maxSizeMB int, level string) (*slog.Logger, *RotatingWriter, error) {
	if dir == "" {
		dir = "."
	}
	if file == "" {
		file = "swarmd.jsonl"
	}
	w, err := NewRotatingWriter(dir, file, maxSizeMB)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(handler), w, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
