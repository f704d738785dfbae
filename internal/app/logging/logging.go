// Package logging builds the process logger: JSON or text records on
// stderr, optionally teed into a size-rotated log file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables the rotating log file when non-empty.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns the logger and a closer for the rotating file, if any.
func New(cfg Config, stderr io.Writer) (*slog.Logger, io.Closer) {
	if stderr == nil {
		stderr = os.Stderr
	}
	var (
		out              = stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rot := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		out = io.MultiWriter(stderr, rot)
		closer = rot
	}

	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler).With(
		"service", "file-to-bmon",
		"pid", os.Getpid(),
	), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
