// Package logger holds the process-wide zap logger. Packages fetch it with
// Get and derive component loggers with With; the CLI replaces it with Init
// once flags and the pipeline file are known.
package logger

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level, encoding and sinks of a logger
type Config struct {
	Level string `yaml:"level" json:"level" mapstructure:"level"`
	// Encoding is json or console
	Encoding    string   `yaml:"encoding" json:"encoding" mapstructure:"encoding"`
	Development bool     `yaml:"development" json:"development" mapstructure:"development"`
	OutputPaths []string `yaml:"output_paths" json:"output_paths" mapstructure:"output_paths"`
}

var (
	global atomic.Pointer[zap.Logger]
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init installs a logger built from cfg. It may be called again; the
// previous logger is flushed.
func Init(cfg Config) error {
	l, err := build(cfg, level)
	if err != nil {
		return err
	}
	if old := global.Swap(l); old != nil {
		_ = old.Sync()
	}
	return nil
}

// New builds a standalone logger that SetLevel does not affect
func New(cfg Config) (*zap.Logger, error) {
	return build(cfg, zap.NewAtomicLevel())
}

// SetLevel changes the level of the global logger in place
func SetLevel(name string) error {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.SetLevel(lvl)
	return nil
}

// Get returns the global logger, an info-level JSON logger on stderr until
// Init runs
func Get() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l, err := build(Config{}, level)
	if err != nil {
		l = zap.NewNop()
	}
	if global.CompareAndSwap(nil, l) {
		return l
	}
	return global.Load()
}

// Sync flushes the global logger
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}

func build(cfg Config, lvl zap.AtomicLevel) (*zap.Logger, error) {
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		lvl.SetLevel(parsed)
	}

	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch cfg.Encoding {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(enc)
	case "console":
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		if cfg.Development {
			enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(enc)
	default:
		return nil, fmt.Errorf("unknown log encoding %q", cfg.Encoding)
	}

	sink := zapcore.Lock(os.Stderr)
	if len(cfg.OutputPaths) > 0 {
		ws, _, err := zap.Open(cfg.OutputPaths...)
		if err != nil {
			return nil, fmt.Errorf("failed to open log outputs: %w", err)
		}
		sink = ws
	}

	opts := []zap.Option{zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(zapcore.NewCore(encoder, sink, lvl), opts...), nil
}
