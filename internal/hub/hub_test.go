package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/taleforge-client/internal/channel"
	"github.com/DoyleJ11/taleforge-client/internal/lobby"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, code string) (types.Snapshot, error) {
	return types.Snapshot{Room: types.Room{RoomCode: code, Status: types.StatusCreated}}, nil
}

type stubChannel struct {
	mu          sync.Mutex
	disconnects int
}

func (c *stubChannel) Connect(context.Context, string) {}

func (c *stubChannel) Disconnect(context.Context) {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

func (c *stubChannel) Send(context.Context, types.OutgoingMessage) error { return nil }

func (c *stubChannel) Events() (<-chan channel.Event, func()) {
	return make(chan channel.Event), func() {}
}

type recorder struct {
	mu       sync.Mutex
	created  []string
	channels []*stubChannel
}

func (r *recorder) factory(ctx context.Context, code string) *lobby.Lobby {
	ch := &stubChannel{}
	r.mu.Lock()
	r.created = append(r.created, code)
	r.channels = append(r.channels, ch)
	r.mu.Unlock()
	return lobby.NewLobby(ctx, code, lobby.Deps{Fetcher: stubFetcher{}, Channel: ch})
}

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	rec := &recorder{}
	h := NewHub(context.Background(), rec.factory, nil)
	defer h.Shutdown()

	ctx := context.Background()
	lb1 := h.Ensure(ctx, "ABC123")
	lb2 := h.Get(ctx, "ABC123")
	lb3 := h.Ensure(ctx, "ABC123")

	if lb1 == nil || lb1 != lb2 || lb1 != lb3 {
		t.Fatalf("expected same lobby pointer")
	}
	if len(rec.created) != 1 {
		t.Fatalf("factory should run once, ran %d times", len(rec.created))
	}
	if h.Get(ctx, "ZZZ999") != nil {
		t.Fatalf("unknown room should have no lobby")
	}
}

func TestHub_RemoveStopsLobby(t *testing.T) {
	rec := &recorder{}
	h := NewHub(context.Background(), rec.factory, nil)
	defer h.Shutdown()

	ctx := context.Background()
	lb := h.Ensure(ctx, "ABC123")
	h.Remove("ABC123")

	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby not stopped after remove")
	}
	if h.Get(ctx, "ABC123") != nil {
		t.Fatalf("removed lobby still registered")
	}
	if got := h.List(ctx); len(got) != 0 {
		t.Fatalf("want no lobbies, got %v", got)
	}

	// a fresh Ensure builds a new one
	if again := h.Ensure(ctx, "ABC123"); again == nil || again == lb {
		t.Fatalf("expected a new lobby after removal")
	}
}

func TestHub_ShutdownStopsAll(t *testing.T) {
	rec := &recorder{}
	h := NewHub(context.Background(), rec.factory, nil)

	ctx := context.Background()
	a := h.Ensure(ctx, "ABC123")
	b := h.Ensure(ctx, "XYZ789")
	if got := h.List(ctx); len(got) != 2 || got[0] != "ABC123" || got[1] != "XYZ789" {
		t.Fatalf("unexpected lobby list %v", got)
	}

	h.Shutdown()

	for _, lb := range []*lobby.Lobby{a, b} {
		select {
		case <-lb.Done():
		case <-time.After(time.Second):
			t.Fatalf("lobby %s still running", lb.Code())
		}
	}
	for _, ch := range rec.channels {
		ch.mu.Lock()
		n := ch.disconnects
		ch.mu.Unlock()
		if n != 1 {
			t.Fatalf("want one disconnect per lobby, got %d", n)
		}
	}
	if h.Ensure(ctx, "ABC123") != nil {
		t.Fatalf("Ensure after shutdown should return nil")
	}
}
