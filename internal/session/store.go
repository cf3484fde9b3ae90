// Package session keeps the local player's identity for one profile.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Identity struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	RoomCode   string `json:"roomCode"`
}

func (i Identity) IsZero() bool { return i == Identity{} }

// Persister is durable storage for a single identity.
type Persister interface {
	Load(ctx context.Context) (Identity, bool, error)
	Save(ctx context.Context, id Identity) error
	Clear(ctx context.Context) error
	Close() error
}

// Store is safe for concurrent use. Writes are last-writer-wins. Storage
// failures are logged and the store keeps working from memory.
type Store struct {
	mu       sync.RWMutex
	cur      Identity
	p        Persister
	log      *slog.Logger
	watchers map[int]chan Identity
	nextID   int
}

const persistTimeout = 2 * time.Second

func NewStore(p Persister, log *slog.Logger) *Store {
	s := &Store{p: p, log: log, watchers: make(map[int]chan Identity)}
	if p == nil {
		s.p = NewMemory()
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	id, ok, err := p.Load(ctx)
	switch {
	case err != nil:
		s.degrade("load", err)
	case ok:
		s.cur = id
	}
	return s
}

func (s *Store) Get() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set replaces the identity and persists it. Setting the same value again is a no-op.
func (s *Store) Set(id Identity) {
	s.mu.Lock()
	if s.cur == id {
		s.mu.Unlock()
		return
	}
	s.cur = id
	s.persist("save", func(ctx context.Context) error { return s.p.Save(ctx, id) })
	s.notify(id)
	s.mu.Unlock()
}

// Clear drops all three fields together.
func (s *Store) Clear() {
	s.mu.Lock()
	if s.cur.IsZero() {
		s.mu.Unlock()
		return
	}
	s.cur = Identity{}
	s.persist("clear", s.p.Clear)
	s.notify(Identity{})
	s.mu.Unlock()
}

// Watch delivers every later identity change. The channel holds only the
// latest value; cancel releases it.
func (s *Store) Watch() (<-chan Identity, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan Identity, 1)
	s.watchers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ch)
		}
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	return s.p.Close()
}

// caller holds s.mu
func (s *Store) notify(id Identity) {
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- id
	}
}

// caller holds s.mu
func (s *Store) persist(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.degrade(op, err)
	}
}

func (s *Store) degrade(op string, err error) {
	s.log.Warn("session storage unavailable, keeping identity in memory",
		slog.String("op", op), slog.Any("err", err))
	if _, mem := s.p.(*Memory); !mem {
		_ = s.p.Close()
		s.p = NewMemory()
	}
}
