// Package logging configures slog for vpcctl. Commands log to stderr in a
// compact console format by default or as JSON when log_json is set; host
// mutations additionally emit an audit record that no level filters out.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"grimm.is/vpcctl/internal/clock"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError

	// LevelAudit is above every level a config can select.
	LevelAudit = slog.Level(12)
)

// Logger is a slog.Logger with vpcctl's field helpers.
type Logger struct {
	*slog.Logger
}

// Config selects the level and encoding.
type Config struct {
	Level     Level
	Output    io.Writer
	JSON      bool
	AddSource bool
}

// DefaultConfig logs info and above to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

var levelNames = map[string]Level{
	"":        LevelInfo,
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// ParseLevel maps a log_level setting to a Level. Unknown names yield
// LevelInfo and an error.
func ParseLevel(s string) (Level, error) {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.LevelKey && a.Value.Any() == LevelAudit {
				a.Value = slog.StringValue("AUDIT")
			}
			return a
		},
	}
	if cfg.JSON {
		return &Logger{slog.New(slog.NewJSONHandler(out, opts))}
	}
	return &Logger{slog.New(NewConsoleHandler(out, opts))}
}

var std atomic.Pointer[Logger]

// Default returns the process logger.
func Default() *Logger {
	if l := std.Load(); l != nil {
		return l
	}
	std.CompareAndSwap(nil, New(DefaultConfig()))
	return std.Load()
}

// SetDefault replaces the process logger.
func SetDefault(l *Logger) { std.Store(l) }

// WithComponent tags records with the subsystem emitting them.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{l.With("component", name)}
}

// WithVPC tags records with the VPC being changed.
func (l *Logger) WithVPC(name string) *Logger {
	return &Logger{l.With("vpc", name)}
}

// WithFields adds fields in key order.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, 2*len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, k, fields[k])
	}
	return &Logger{l.With(args...)}
}

// Audit records a host mutation such as a created bridge or an inserted rule.
func (l *Logger) Audit(action, resource string, details map[string]any) {
	attrs := []slog.Attr{
		slog.Bool("audit", true),
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("timestamp", clock.Now().UTC().Format(time.RFC3339)),
	}
	for _, k := range slices.Sorted(maps.Keys(details)) {
		attrs = append(attrs, slog.Any(k, details[k]))
	}
	l.LogAttrs(context.Background(), LevelAudit, "AUDIT", attrs...)
}

// Warn logs through the default logger.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// WithComponent scopes the default logger.
func WithComponent(name string) *Logger { return Default().WithComponent(name) }
