// pkg/builds/builds.go

// Package builds keeps uploaded fuzz target binaries on the controller.
package builds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/store"
	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ErrFileMissing marks an artifact whose record exists but whose file does not.
var ErrFileMissing = errors.New("build file missing")

// Registry stores artifacts under Dir and records them in Repo.
type Registry struct {
	Dir    string
	Repo   store.Repository[store.BuildArtifact]
	logger otelzap.LoggerWithCtx
}

func NewRegistry(logger otelzap.LoggerWithCtx, dir string, repo store.Repository[store.BuildArtifact]) *Registry {
	return &Registry{Dir: dir, Repo: repo, logger: logger}
}

// Extension returns the suffix starting at the last dot, or "" when the name
// has no dot or ends in one.
func Extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return name[i:]
}

// Register copies src into the registry under a fresh opaque name.
func (r *Registry) Register(ctx context.Context, src io.Reader, originalName, owner string) (*store.BuildArtifact, error) {
	originalName = filepath.Base(originalName)
	if originalName == "." || originalName == string(filepath.Separator) {
		return nil, fleet_err.NewValidationError("build name is empty")
	}
	if err := os.MkdirAll(r.Dir, 0o750); err != nil {
		return nil, fleet_err.NewFilesystemError("cannot create builds directory "+r.Dir, err,
			"Set builds.dir to a writable directory")
	}

	stored := uuid.NewString() + Extension(originalName)
	dst := filepath.Join(r.Dir, stored)
	if err := writeFile(dst, src); err != nil {
		return nil, fleet_err.NewFilesystemError("cannot store build "+originalName, err)
	}

	artifact := &store.BuildArtifact{
		Directory:    r.Dir,
		StoredName:   stored,
		OriginalName: originalName,
		Owner:        owner,
		UploadedAt:   time.Now().UTC(),
	}
	if err := r.Repo.Add(ctx, artifact); err != nil {
		_ = os.Remove(dst)
		return nil, err
	}

	r.logger.Info("Build registered",
		zap.Uint("build_id", artifact.ID),
		zap.String("original_name", originalName),
		zap.String("path", dst))
	return artifact, nil
}

func writeFile(dst string, src io.Reader) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o750)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return cerr.Wrap(err, "copying build")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

// Remove deletes the artifact file and then its record. The record is kept
// when the file cannot be removed.
func (r *Registry) Remove(ctx context.Context, id uint) error {
	artifact, err := r.Repo.Get(ctx, id)
	if err != nil {
		return err
	}

	path := artifact.LocalPath()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &fleet_err.ClassifiedError{
				Category: fleet_err.CategoryNotFound,
				Message:  "build file " + path + " does not exist",
				Cause:    fmt.Errorf("%w: %w", ErrFileMissing, err),
				Remediation: []string{
					"Restore the file or remove the record from the database directly",
				},
			}
		}
		return fleet_err.NewFilesystemError("cannot delete build file "+path, err)
	}

	if err := r.Repo.Remove(ctx, artifact); err != nil {
		return err
	}
	r.logger.Info("Build removed", zap.Uint("build_id", id), zap.String("path", path))
	return nil
}
