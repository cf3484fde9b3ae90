package session

import (
	"context"
	"sync"
)

// Memory keeps the identity for the process lifetime only.
type Memory struct {
	mu  sync.Mutex
	id  Identity
	set bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(context.Context) (Identity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, m.set, nil
}

func (m *Memory) Save(_ context.Context, id Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id, m.set = id, true
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id, m.set = Identity{}, false
	return nil
}

func (m *Memory) Close() error { return nil }
