package store

import (
	"context"
	"sort"
	"sync"
)

type recordPtr[T any] interface {
	*T
	Record
	SetID(uint)
}

// MemoryRepository keeps records in a map. Records are copied in and out so
// callers never share state with the repository.
type MemoryRepository[T any, P recordPtr[T]] struct {
	kind string

	mu    sync.Mutex
	next  uint
	items map[uint]T
}

// NewMemory creates an empty repository for records of the given kind.
func NewMemory[T any, P recordPtr[T]](kind string) *MemoryRepository[T, P] {
	return &MemoryRepository[T, P]{kind: kind, items: make(map[uint]T)}
}

// NewMemoryRecords returns a Records backed entirely by memory.
func NewMemoryRecords() *Records {
	return &Records{
		Nodes:   NewMemory[Node](KindNode),
		Tasks:   NewMemory[FuzzingTask](KindTask),
		Builds:  NewMemory[BuildArtifact](KindBuild),
		Storage: NewMemory[SharedStorageTarget](KindStorage),
	}
}

func clone[T any](v T) T {
	if c, ok := any(v).(interface{ Clone() T }); ok {
		return c.Clone()
	}
	return v
}

func (m *MemoryRepository[T, P]) Get(_ context.Context, id uint) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.items[id]
	if !ok {
		return nil, notFound(m.kind, id)
	}
	c := clone(v)
	return &c, nil
}

func (m *MemoryRepository[T, P]) List(_ context.Context) ([]T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(m.items[id]))
	}
	return out, nil
}

func (m *MemoryRepository[T, P]) Add(_ context.Context, rec *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := P(rec)
	if p.GetID() == 0 {
		m.next++
		p.SetID(m.next)
	} else if p.GetID() > m.next {
		m.next = p.GetID()
	}
	m.items[p.GetID()] = clone(*rec)
	return nil
}

func (m *MemoryRepository[T, P]) Remove(_ context.Context, rec *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := P(rec).GetID()
	if _, ok := m.items[id]; !ok {
		return notFound(m.kind, id)
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryRepository[T, P]) Save(_ context.Context, rec *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := P(rec).GetID()
	if _, ok := m.items[id]; !ok {
		return notFound(m.kind, id)
	}
	m.items[id] = clone(*rec)
	return nil
}
