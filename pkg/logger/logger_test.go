package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"TRACE":   zapcore.DebugLevel,
		"warn":    zapcore.WarnLevel,
		"Warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), "level %q", in)
	}
}

func TestFirstWritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	good := filepath.Join(dir, "logs", "fuzzfleet.log")
	_, path, err := FirstWritable([]string{filepath.Join(blocker, "nested", "a.log"), good})
	require.NoError(t, err)
	assert.Equal(t, good, path)

	_, _, err = FirstWritable([]string{filepath.Join(blocker, "x.log")})
	assert.Error(t, err)
}

func TestInitialize_WritesToConfiguredPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l := Initialize(Options{Level: "debug", Path: path})
	require.NotNil(t, l)
	l.Info("hello")
	_ = Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Same(t, l, L())
}
