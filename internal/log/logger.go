// Package log builds the structured logger shared by every checkerq
// component: JSON records, redacted secrets, optional file rotation.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB = 10
	DefaultMaxFiles  = 5
)

type Options struct {
	Level string
	// File switches output from Stderr to a rotating file.
	File      string
	MaxSizeMB int
	MaxFiles  int
	Stderr    io.Writer
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// New returns the logger and a closer for its sink. The closer is a no-op
// when logging to Stderr.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	out := opts.Stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		writer, err := openLogFile(opts)
		if err != nil {
			return nil, nil, err
		}
		out = writer
		closer = writer
	}
	if out == nil {
		out = io.Discard
	}

	base := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(base)), closer, nil
}

// openLogFile rotates opts.File once it passes MaxSizeMB, keeping at most
// MaxFiles old copies next to it.
func openLogFile(opts Options) (*lumberjack.Logger, error) {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = DefaultMaxSizeMB
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxFiles,
	}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
