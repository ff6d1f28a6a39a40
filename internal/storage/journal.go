package storage

import (
	"context"
	"sync"
)

// Journal records which transition edges have already been acted on, so a
// restarted agent does not prompt for the same payment twice.
type Journal interface {
	// Record stores key and reports whether this call was the first to do so.
	Record(ctx context.Context, key string) (bool, error)
	Seen(ctx context.Context, key string) (bool, error)
}

type MemoryJournal struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{keys: make(map[string]struct{})}
}

func (m *MemoryJournal) Record(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *MemoryJournal) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok, nil
}

func (m *MemoryJournal) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
