// pkg/logger/writer.go

package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
)

// GetLogFileWriter opens path for appending, creating its directory with
// owner-only permissions.
func GetLogFileWriter(path string) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(file), nil
}

// FirstWritable returns a writer for the first usable path.
func FirstWritable(paths []string) (zapcore.WriteSyncer, string, error) {
	for _, path := range paths {
		if w, err := GetLogFileWriter(path); err == nil {
			return w, path, nil
		}
	}
	return nil, "", fmt.Errorf("no writable log path found among %d candidates", len(paths))
}
