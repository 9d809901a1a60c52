// Package logger wraps zap with the small field-based API used across the
// service.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field holds a key-value pair written to the log entry.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for constructing a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Options configure New.
type Options struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string
	// OutputPaths are zap sink URLs or file paths. Default: stdout.
	OutputPaths []string
	// Development switches to the console encoder.
	Development bool
}

// Logger is a thin wrapper around zap.Logger.
type Logger struct {
	zap *zap.Logger
}

// New builds a Logger from opts.
func New(opts Options) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{zap: z}, nil
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Zap exposes the underlying zap.Logger.
func (l *Logger) Zap() *zap.Logger { return l.zap }

// With returns a child Logger that always includes fields.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{zap: l.zap.With(toZap(fields)...)}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.zap.Debug(msg, toZap(fields)...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.zap.Info(msg, toZap(fields)...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.zap.Warn(msg, toZap(fields)...) }

// Error logs err as the message with fields attached.
func (l *Logger) Error(err error, fields ...Field) {
	if err == nil {
		return
	}
	l.zap.Error(err.Error(), toZap(fields)...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.zap.Sync() }

func toZap(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
