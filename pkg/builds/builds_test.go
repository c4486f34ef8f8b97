package builds

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap/zaptest"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := otelzap.New(zaptest.NewLogger(t)).Ctx(context.Background())
	return NewRegistry(logger, filepath.Join(t.TempDir(), "builds"), store.NewMemory[store.BuildArtifact](store.KindBuild))
}

func TestExtension(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"fuzzer", ""},
		{"fuzzer.bin", ".bin"},
		{"archive.tar.gz", ".gz"},
		{"trailing.", ""},
		{".hidden", ".hidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extension(tt.name))
		})
	}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	artifact, err := r.Register(ctx, strings.NewReader("ELF"), "/home/alice/png_fuzzer.bin", "alice")
	require.NoError(t, err)

	assert.Equal(t, "png_fuzzer.bin", artifact.OriginalName)
	assert.True(t, strings.HasSuffix(artifact.StoredName, ".bin"))
	assert.Len(t, artifact.StoredName, 36+len(".bin"))
	assert.Equal(t, "alice", artifact.Owner)

	got, err := r.Repo.Get(ctx, artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, artifact.StoredName, got.StoredName)

	data, err := os.ReadFile(got.LocalPath())
	require.NoError(t, err)
	assert.Equal(t, "ELF", string(data))
}

func TestRegistry_UniqueNames(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	a, err := r.Register(ctx, strings.NewReader("a"), "fuzzer", "")
	require.NoError(t, err)
	b, err := r.Register(ctx, strings.NewReader("b"), "fuzzer", "")
	require.NoError(t, err)
	assert.NotEqual(t, a.StoredName, b.StoredName)
}

func TestRegistry_Remove(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	artifact, err := r.Register(ctx, strings.NewReader("x"), "fuzzer", "")
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx, artifact.ID))
	_, err = os.Stat(artifact.LocalPath())
	assert.True(t, os.IsNotExist(err))

	_, err = r.Repo.Get(ctx, artifact.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRegistry_RemoveMissingFileKeepsRecord(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	artifact, err := r.Register(ctx, strings.NewReader("x"), "fuzzer", "")
	require.NoError(t, err)
	require.NoError(t, os.Remove(artifact.LocalPath()))

	err = r.Remove(ctx, artifact.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFileMissing))
	assert.Equal(t, fleet_err.CategoryNotFound, fleet_err.CategoryOf(err))

	_, err = r.Repo.Get(ctx, artifact.ID)
	assert.NoError(t, err, "record must survive a missing file")
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	r := newRegistry(t)
	err := r.Remove(context.Background(), 99)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
