// Package log builds the zap loggers used for diagnostics.
package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level names accepted in config and on the command line.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Levels lists the accepted level names.
var Levels = []string{LevelDebug, LevelInfo, LevelWarn, LevelError}

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.SecondsDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// ParseLevel maps a level name to a zap level. An empty name is info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelInfo, "":
		return zapcore.InfoLevel, nil
	case LevelWarn:
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Logger wraps a sugared logger with its adjustable level.
type Logger struct {
	*zap.SugaredLogger
	Level zap.AtomicLevel
	sinks []io.Closer
}

// New returns a console logger writing to w at level.
func New(w io.Writer, level string) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	atom := zap.NewAtomicLevelAt(lvl)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), atom)
	return &Logger{
		SugaredLogger: zap.New(core, zap.AddCaller()).Sugar(),
		Level:         atom,
	}, nil
}

// Stderr returns a console logger on stderr at level.
func Stderr(level string) (*Logger, error) {
	return New(os.Stderr, level)
}

// Tee returns a logger that also appends to the file at path, at the same
// level. Close releases the file.
func (l *Logger) Tee(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(f), l.Level)
	tee := l.Desugar().WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	return &Logger{
		SugaredLogger: tee.Sugar(),
		Level:         l.Level,
		sinks:         append(append([]io.Closer(nil), l.sinks...), f),
	}, nil
}

// Close flushes the logger and closes any files it owns.
func (l *Logger) Close() error {
	_ = l.Sync()
	var first error
	for _, c := range l.sinks {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{
		SugaredLogger: zap.NewNop().Sugar(),
		Level:         zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}
}
