// pkg/logger/logger.go

package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var log *zap.Logger

// Options controls logger construction. Zero values mean "use the defaults".
type Options struct {
	Level string
	Path  string
}

// Initialize builds the process logger from opts, teeing a console core with a
// JSON file core. If no log file is writable it falls back to console only.
func Initialize(opts Options) *zap.Logger {
	level := ParseLogLevel(opts.Level)
	if opts.Level == "" {
		level = ParseLogLevel(os.Getenv("LOG_LEVEL"))
	}

	paths := DefaultLogPaths()
	if opts.Path != "" {
		paths = append([]string{opts.Path}, paths...)
	}

	writer, path, err := FirstWritable(paths)
	if err != nil {
		log = NewFallbackLogger(level)
		zap.ReplaceGlobals(log)
		log.Warn("No writable log path found, logging to console only", zap.Error(err))
		return log
	}

	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(ConsoleEncoderConfig(term.IsTerminal(int(os.Stderr.Fd())))), zapcore.Lock(os.Stderr), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), writer, level),
	)

	log = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	zap.ReplaceGlobals(log)
	log.Debug("Logger initialized", zap.String("log_path", path), zap.String("level", level.String()))
	return log
}

// L returns the process logger, building a console fallback if Initialize
// has not run yet.
func L() *zap.Logger {
	if log == nil {
		log = NewFallbackLogger(ParseLogLevel(os.Getenv("LOG_LEVEL")))
		zap.ReplaceGlobals(log)
	}
	return log
}

// Sync flushes any buffered log entries. Should be called before the application exits.
func Sync() error {
	if log == nil {
		return nil
	}
	err := log.Sync()
	// stdout/stderr return EINVAL on Sync for terminals
	if err != nil && strings.Contains(err.Error(), "invalid argument") {
		return nil
	}
	return err
}

// ParseLogLevel maps a textual level to a zap level; unknown values mean info.
func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE", "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
