// Package logging adapts go-logger to the fsm.Logger contract.
package logging

import (
	"context"
	"fmt"
	"io"
	"strings"

	fsm "github.com/goliatone/go-fsm"
	glog "github.com/goliatone/go-logger/glog"
)

// Config captures the go-logger options exposed to applications.
type Config struct {
	Level     string `yaml:"level" json:"level" env:"LEVEL"`
	Format    string `yaml:"format" json:"format" env:"FORMAT"`
	AddSource bool   `yaml:"add_source" json:"add_source" env:"ADD_SOURCE"`
	// Writer overrides the destination. Defaults to stdout.
	Writer io.Writer `yaml:"-" json:"-"`
}

// New builds a go-logger backed fsm.Logger.
func New(cfg Config) (fsm.Logger, error) {
	options := []glog.Option{}

	if level := normalizeLevel(cfg.Level); level != "" {
		options = append(options, glog.WithLevel(level))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
		options = append(options, glog.WithLoggerTypeJSON())
	case "console":
		options = append(options, glog.WithLoggerTypeConsole())
	case "pretty":
		options = append(options, glog.WithLoggerTypePretty())
	default:
		return nil, fsm.ConfigError("", fmt.Sprintf("unsupported log format %q", cfg.Format))
	}

	if cfg.AddSource {
		options = append(options, glog.WithAddSource(true))
	}
	if cfg.Writer != nil {
		options = append(options, glog.WithWriter(cfg.Writer))
	}

	return Wrap(glog.NewLogger(options...)), nil
}

// Wrap adapts a go-logger Logger. A nil inner logger yields fsm.NopLogger.
func Wrap(inner glog.Logger) fsm.Logger {
	if inner == nil {
		return fsm.NormalizeLogger(nil)
	}
	return &adapter{inner: inner}
}

type adapter struct {
	inner glog.Logger
}

var (
	_ fsm.Logger       = (*adapter)(nil)
	_ fsm.FieldsLogger = (*adapter)(nil)
)

func (l *adapter) Trace(msg string, args ...any) {
	msg, args = split(msg, args)
	l.inner.Trace(msg, args...)
}

func (l *adapter) Debug(msg string, args ...any) {
	msg, args = split(msg, args)
	l.inner.Debug(msg, args...)
}

func (l *adapter) Info(msg string, args ...any) {
	msg, args = split(msg, args)
	l.inner.Info(msg, args...)
}

func (l *adapter) Warn(msg string, args ...any) {
	msg, args = split(msg, args)
	l.inner.Warn(msg, args...)
}

func (l *adapter) Error(msg string, args ...any) {
	msg, args = split(msg, args)
	l.inner.Error(msg, args...)
}

func (l *adapter) Fatal(msg string, args ...any) {
	msg, args = split(msg, args)
	l.inner.Fatal(msg, args...)
}

func (l *adapter) WithContext(ctx context.Context) fsm.Logger {
	if ctx == nil {
		return l
	}
	return Wrap(l.inner.WithContext(ctx))
}

func (l *adapter) WithFields(fields map[string]any) fsm.Logger {
	if len(fields) == 0 {
		return l
	}
	if with, ok := l.inner.(glog.FieldsLogger); ok {
		return Wrap(with.WithFields(cloneFields(fields)))
	}
	return l
}

// split expands printf style messages. The fsm packages log with verbs
// while go-logger expects a message followed by key/value pairs, so args
// pass through untouched when msg has no verbs.
func split(msg string, args []any) (string, []any) {
	if len(args) == 0 || !strings.Contains(msg, "%") {
		return msg, args
	}
	return fmt.Sprintf(msg, args...), nil
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}

func normalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return ""
	case "trace":
		return glog.Trace
	case "debug":
		return glog.Debug
	case "info":
		return glog.Info
	case "warn", "warning":
		return glog.Warn
	case "error":
		return glog.Error
	case "fatal":
		return glog.Fatal
	default:
		return ""
	}
}
