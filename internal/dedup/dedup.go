// Package dedup remembers which ride requests and notifications have already
// been surfaced to the user in the current session.
package dedup

import (
	"context"
	"sync"
)

// Set tracks seen ids. Claim is the test-and-mark primitive: callers must
// claim an item before presenting it so a concurrent poll cannot surface it
// a second time.
type Set interface {
	IsNew(ctx context.Context, id int64) (bool, error)
	MarkSeen(ctx context.Context, id int64) error
	Claim(ctx context.Context, id int64) (bool, error)
	Reset(ctx context.Context) error
}

type Memory struct {
	mu   sync.Mutex
	seen map[int64]struct{}
}

func NewMemory() *Memory { return &Memory{seen: make(map[int64]struct{})} }

func (m *Memory) IsNew(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[id]
	return !ok, nil
}

func (m *Memory) MarkSeen(_ context.Context, id int64) error {
	m.mu.Lock()
	m.seen[id] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Claim(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; ok {
		return false, nil
	}
	m.seen[id] = struct{}{}
	return true, nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	m.seen = make(map[int64]struct{})
	m.mu.Unlock()
	return nil
}
