// Package logger provides the process-wide structured logger. Call
// sites log with a printf-style format plus arguments, same as the
// standard library's log package; under the hood every line is
// encoded as structured JSON by zap.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar *zap.SugaredLogger

// Init builds the process logger from LOG_LEVEL ("debug", "info", or
// "error"; defaults to "info"). Called once at process startup; if it
// has not run yet, the first Debug/Info/Error call runs it.
func Init() {
	level := zapcore.InfoLevel
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = zapcore.DebugLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a bare, always-on logger rather than panic on
		// a misconfigured environment.
		logger = zap.NewExample()
	}
	sugar = logger.Sugar()
}

func ensure() *zap.SugaredLogger {
	if sugar == nil {
		Init()
	}
	return sugar
}

// Debug logs a debug-level message (only emitted when LOG_LEVEL=debug).
func Debug(format string, v ...interface{}) {
	ensure().Debugf(format, v...)
}

// Info logs an info-level message (emitted unless LOG_LEVEL=error).
func Info(format string, v ...interface{}) {
	ensure().Infof(format, v...)
}

// Error logs an error-level message; always emitted.
func Error(format string, v ...interface{}) {
	ensure().Errorf(format, v...)
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}
