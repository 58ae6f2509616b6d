// Package logger configures the supervisor's own slog output: a colored text
// stream on stderr plus an optional rotated file.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where supervisor diagnostics go.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Level      string `mapstructure:"level"`        // debug, info, warn, error
	Color      bool   `mapstructure:"color"`        // ANSI level colors on stderr
	File       string `mapstructure:"file"`         // rotated log file; empty disables
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

// ParseLevel maps a level name to slog.Level. Empty means warn.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("unknown log level %q", s)
	}
}

// FileWriter returns the rotating writer for c.File, or nil when no file is
// configured.
func (c Config) FileWriter() (io.WriteCloser, error) {
	if c.File == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.File), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}, nil
}

// New builds a logger writing to stderr and, when configured, the rotated
// file. The returned closer releases the file; it is never nil.
func New(c Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	if c.Color {
		console = NewColorTextHandler(stderr, opts, true)
	} else {
		console = slog.NewTextHandler(stderr, opts)
	}

	fw, err := c.FileWriter()
	if err != nil {
		return nil, nil, err
	}
	if fw == nil {
		return slog.New(console), nopCloser{}, nil
	}
	return slog.New(fanout{console, slog.NewTextHandler(fw, opts)}), fw, nil
}

// Setup installs the logger from c as the slog default.
func Setup(c Config, stderr io.Writer) (io.Closer, error) {
	l, closer, err := New(c, stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return closer, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
