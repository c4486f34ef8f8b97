// Package store persists nodes, tasks, builds and the shared storage target.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/fleet_err"
)

// ErrNotFound is the cause of every missing-record error.
var ErrNotFound = errors.New("record not found")

// Record is implemented by every persisted model.
type Record interface {
	GetID() uint
}

// Repository is the generic CRUD surface the orchestrator consumes.
type Repository[T any] interface {
	Get(ctx context.Context, id uint) (*T, error)
	List(ctx context.Context) ([]T, error)
	Add(ctx context.Context, rec *T) error
	Remove(ctx context.Context, rec *T) error
	Save(ctx context.Context, rec *T) error
}

// Records groups the repositories of every model.
type Records struct {
	Nodes   Repository[Node]
	Tasks   Repository[FuzzingTask]
	Builds  Repository[BuildArtifact]
	Storage Repository[SharedStorageTarget]
}

// Kind names used in error messages.
const (
	KindNode    = "node"
	KindTask    = "task"
	KindBuild   = "build"
	KindStorage = "storage target"
)

func notFound(kind string, id uint) error {
	return fleet_err.NewNotFoundError(kind, id, ErrNotFound)
}

// SharedStorage returns the configured shared storage target.
func SharedStorage(ctx context.Context, repo Repository[SharedStorageTarget]) (*SharedStorageTarget, error) {
	targets, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, &fleet_err.ClassifiedError{
			Category:    fleet_err.CategoryNotFound,
			Message:     "shared storage target is not configured",
			Cause:       ErrNotFound,
			Remediation: []string{"Run 'fuzzfleet create storage --address HOST --username USER'"},
		}
	}
	return &targets[0], nil
}

// SetSharedStorage replaces any existing target with t.
func SetSharedStorage(ctx context.Context, repo Repository[SharedStorageTarget], t *SharedStorageTarget) error {
	existing, err := repo.List(ctx)
	if err != nil {
		return err
	}
	for i := range existing {
		if err := repo.Remove(ctx, &existing[i]); err != nil {
			return fmt.Errorf("removing previous storage target %d: %w", existing[i].ID, err)
		}
	}
	return repo.Add(ctx, t)
}
