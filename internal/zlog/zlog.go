// Package zlog wraps zap behind printf-style helpers so call sites stay
// terse. Init should run first thing in main; Sync on exit.
package zlog

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	Init("info")
}

// Init configures the global logger at the given level. Unknown levels
// fall back to info.
func Init(level string) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:    "msg",
		LevelKey:      "level",
		TimeKey:       "time",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		EncodeLevel:   zapcore.LowercaseColorLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	l, _ := config.Build(zap.AddCallerSkip(1))
	logger.Store(l)
}

// Replace swaps in l and returns a restore func. Tests pair it with a
// zaptest observer to assert on log output.
func Replace(l *zap.Logger) func() {
	old := logger.Swap(l)
	return func() { logger.Store(old) }
}

func Debug(format string, a ...any) {
	logger.Load().Debug(fmt.Sprintf(format, a...))
}

func Info(format string, a ...any) {
	logger.Load().Info(fmt.Sprintf(format, a...))
}

func Warn(format string, a ...any) {
	logger.Load().Warn(fmt.Sprintf(format, a...))
}

func Error(format string, a ...any) {
	logger.Load().Error(fmt.Sprintf(format, a...))
}

func Fatal(format string, a ...any) {
	logger.Load().Fatal(fmt.Sprintf(format, a...))
}

// Sync flushes buffered log entries.
func Sync() error {
	return logger.Load().Sync()
}
