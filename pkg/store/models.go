// pkg/store/models.go

package store

import (
	"path/filepath"
	"time"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/engine"
	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/remote"
	"github.com/lib/pq"
)

// Task status labels.
const (
	StatusCreated = "created"
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Node is one fuzzing worker.
type Node struct {
	ID        uint       `gorm:"primaryKey" yaml:"id"`
	Address   string     `gorm:"not null" yaml:"address" validate:"required"`
	Username  string     `gorm:"not null" yaml:"username" validate:"required"`
	Password  string     `gorm:"not null" yaml:"-" validate:"required"`
	Connected *bool      `yaml:"connected,omitempty"`
	CheckedAt *time.Time `yaml:"checked_at,omitempty"`
	CreatedAt time.Time  `yaml:"created_at"`
}

func (n *Node) GetID() uint   { return n.ID }
func (n *Node) SetID(id uint) { n.ID = id }

// Credentials returns the node's address, username and secret as one unit.
func (n *Node) Credentials() remote.Credentials {
	return remote.Credentials{Address: n.Address, Username: n.Username, Password: n.Password}
}

// SharedStorageTarget is the host that stages task workspaces. Only the
// first record is used.
type SharedStorageTarget struct {
	ID        uint       `gorm:"primaryKey" yaml:"id"`
	Address   string     `gorm:"not null" yaml:"address" validate:"required"`
	Username  string     `gorm:"not null" yaml:"username" validate:"required"`
	Password  string     `gorm:"not null" yaml:"-" validate:"required"`
	LastState *bool      `yaml:"last_state,omitempty"`
	CheckedAt *time.Time `yaml:"checked_at,omitempty"`
}

func (s *SharedStorageTarget) GetID() uint   { return s.ID }
func (s *SharedStorageTarget) SetID(id uint) { s.ID = id }

func (s *SharedStorageTarget) Credentials() remote.Credentials {
	return remote.Credentials{Address: s.Address, Username: s.Username, Password: s.Password}
}

// BuildArtifact is an uploaded fuzz target binary. Immutable once created.
type BuildArtifact struct {
	ID           uint      `gorm:"primaryKey" yaml:"id"`
	Directory    string    `gorm:"not null" yaml:"directory"`
	StoredName   string    `gorm:"not null;uniqueIndex" yaml:"stored_name"`
	OriginalName string    `gorm:"not null" yaml:"original_name"`
	Owner        string    `yaml:"owner"`
	UploadedAt   time.Time `yaml:"uploaded_at"`
}

func (b *BuildArtifact) GetID() uint   { return b.ID }
func (b *BuildArtifact) SetID(id uint) { b.ID = id }

// LocalPath is where the artifact lives on the controller.
func (b *BuildArtifact) LocalPath() string {
	return filepath.Join(b.Directory, b.StoredName)
}

// FuzzingTask is one campaign. PIDs[i] is the process on node NodeIDs[i];
// both follow the node selection order of the most recent launch.
type FuzzingTask struct {
	ID          uint          `gorm:"primaryKey" yaml:"id"`
	Name        string        `gorm:"not null" yaml:"name" validate:"required"`
	Description string        `yaml:"description,omitempty"`
	Engine      engine.Engine `gorm:"type:text;not null" yaml:"engine"`
	BuildID     uint          `gorm:"not null;index" yaml:"build_id" validate:"required"`
	Environment string        `yaml:"environment,omitempty"`
	CreatedAt   time.Time     `yaml:"created_at"`
	Status      string        `gorm:"not null;default:created" yaml:"status"`
	PIDs        pq.Int64Array `gorm:"type:bigint[]" yaml:"pids,flow"`
	NodeIDs     pq.Int64Array `gorm:"type:bigint[]" yaml:"node_ids,flow"`
}

func (t *FuzzingTask) GetID() uint   { return t.ID }
func (t *FuzzingTask) SetID(id uint) { t.ID = id }

// Clone returns a copy that shares no slices with t.
func (t FuzzingTask) Clone() FuzzingTask {
	c := t
	if t.PIDs != nil {
		c.PIDs = append(pq.Int64Array(nil), t.PIDs...)
	}
	if t.NodeIDs != nil {
		c.NodeIDs = append(pq.Int64Array(nil), t.NodeIDs...)
	}
	return c
}
