/* pkg/logger/fallback.go */

package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// NewFallbackLogger logs to stderr only. It is used before Initialize and
// whenever no log file can be opened.
func NewFallbackLogger(level zapcore.Level) *zap.Logger {
	color := term.IsTerminal(int(os.Stderr.Fd()))
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(ConsoleEncoderConfig(color)),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// ConsoleEncoderConfig is the human-readable layout shared by the stderr
// core and the fallback logger. Level names are colored only on a terminal.
func ConsoleEncoderConfig(color bool) zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}
