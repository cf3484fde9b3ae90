package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/taleforge-client/internal/channel"
	"github.com/DoyleJ11/taleforge-client/internal/session"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

// fetchCall is one blocked Fetch waiting for the test to answer it.
type fetchCall struct {
	code  string
	reply chan fetchResult
}

type fetchResult struct {
	snap types.Snapshot
	err  error
}

type gatedFetcher struct {
	calls chan fetchCall
}

func newGatedFetcher() *gatedFetcher { return &gatedFetcher{calls: make(chan fetchCall, 8)} }

func (f *gatedFetcher) Fetch(ctx context.Context, code string) (types.Snapshot, error) {
	c := fetchCall{code: code, reply: make(chan fetchResult, 1)}
	select {
	case f.calls <- c:
	case <-ctx.Done():
		return types.Snapshot{}, ctx.Err()
	}
	select {
	case r := <-c.reply:
		return r.snap, r.err
	case <-ctx.Done():
		return types.Snapshot{}, ctx.Err()
	}
}

func (f *gatedFetcher) next(t *testing.T, within time.Duration) fetchCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(within):
		t.Fatalf("timed out waiting for a fetch")
		return fetchCall{} // unreachable
	}
}

func (f *gatedFetcher) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected fetch for %s", c.code)
	case <-time.After(within):
	}
}

type fakeChannel struct {
	mu          sync.Mutex
	events      chan channel.Event
	connects    []string
	disconnects int
	sent        []types.OutgoingMessage
}

func newFakeChannel() *fakeChannel { return &fakeChannel{events: make(chan channel.Event, 32)} }

func (c *fakeChannel) Connect(_ context.Context, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects = append(c.connects, room)
}

func (c *fakeChannel) Disconnect(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeChannel) Send(_ context.Context, out types.OutgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, out)
	return nil
}

func (c *fakeChannel) Events() (<-chan channel.Event, func()) { return c.events, func() {} }

func (c *fakeChannel) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func fixedIdentity(playerID string) *session.Store {
	s := session.NewStore(nil, nil)
	s.Set(session.Identity{PlayerID: playerID, PlayerName: "Ana", RoomCode: "ABC123"})
	return s
}

func strp(s string) *string { return &s }

func snapshot(status types.RoomStatus, title *string, players ...types.Player) types.Snapshot {
	return types.Snapshot{
		Room:    types.Room{RoomCode: "ABC123", Title: title, Genre: types.GenreFantasy, Duration: 900, Status: status},
		Players: players,
	}
}

var (
	ana = types.Player{ID: "p1", PlayerName: "Ana", IsTitleCreator: true}
	bo  = types.Player{ID: "p2", PlayerName: "Bo"}
)

// helper: receive one update with a timeout so tests never hang
func recvUpdate(t *testing.T, ch <-chan Update, within time.Duration) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return u
	case <-time.After(within):
		t.Fatalf("timed out waiting for update")
		return Update{} // unreachable
	}
}

// waitFor drains updates until one satisfies ok.
func waitFor(t *testing.T, ch <-chan Update, within time.Duration, ok func(View) bool) View {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case u, open := <-ch:
			if !open {
				t.Fatalf("client outbox closed unexpectedly")
			}
			if ok(u.View) {
				return u.View
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching view")
			return View{} // unreachable
		}
	}
}

func statusIs(s types.RoomStatus) func(View) bool {
	return func(v View) bool { return v.Room != nil && v.Room.Status == s }
}

type harness struct {
	l   *Lobby
	f   *gatedFetcher
	ch  *fakeChannel
	out chan Update
}

func start(t *testing.T, playerID string) harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := harness{f: newGatedFetcher(), ch: newFakeChannel(), out: make(chan Update, 64)}
	h.l = NewLobby(ctx, "ABC123", Deps{Fetcher: h.f, Channel: h.ch, Identity: fixedIdentity(playerID)})
	h.l.Inbox() <- Join{ClientID: "ui", Outbox: h.out}
	return h
}

func TestLobby_HappyPathThroughAllPhases(t *testing.T) {
	h := start(t, "p1")

	first := recvUpdate(t, h.out, 200*time.Millisecond)
	if !first.View.Loading {
		t.Fatalf("expected loading before the first snapshot, got %+v", first.View)
	}

	// CREATED without a title: the creator cannot advance yet
	c := h.f.next(t, 200*time.Millisecond)
	if c.code != "ABC123" {
		t.Fatalf("fetch for wrong room %q", c.code)
	}
	c.reply <- fetchResult{snap: snapshot(types.StatusCreated, nil, ana, bo)}
	v := waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusCreated))
	if v.Loading || v.CurrentPlayer == nil || v.CurrentPlayer.ID != "p1" {
		t.Fatalf("unexpected view after first snapshot: %+v", v)
	}
	if v.Phase.Created == nil || v.Phase.Created.CanAdvance {
		t.Fatalf("creator without a title must not advance: %+v", v.Phase.Created)
	}

	// title saved, then a resync
	h.l.Refresh()
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusCreated, strp("Lost Keys"), ana, bo)}
	v = waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return v.Room != nil && v.Room.HasTitle() })
	if !v.Phase.Created.CanAdvance {
		t.Fatalf("creator with title should be able to advance")
	}

	// status push triggers a refetch; the snapshot decides the phase
	h.ch.events <- channel.StatusEvent{Update: types.StatusUpdate{RoomCode: "ABC123", Status: types.StatusRoleAssignment}}
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusRoleAssignment, strp("Lost Keys"), ana, bo)}
	v = waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusRoleAssignment))
	if v.Phase.RoleAssignment == nil || v.Phase.RoleAssignment.AllCharactersNamed {
		t.Fatalf("nobody has named a character yet: %+v", v.Phase.RoleAssignment)
	}

	h.ch.events <- channel.StatusEvent{Update: types.StatusUpdate{RoomCode: "ABC123", Status: types.StatusStorytelling}}
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusStorytelling, strp("Lost Keys"), ana, bo)}
	waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusStorytelling))

	ts := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h.ch.events <- channel.ChatEvent{Message: types.ChatMessage{ID: "m1", Content: "It was a dark night", MessageType: types.MessageRegular, SenderID: "p1", Timestamp: ts}}
	v = waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return len(v.Transcript) == 1 })
	if v.Transcript[0].Content != "It was a dark night" {
		t.Fatalf("unexpected transcript %+v", v.Transcript)
	}

	h.ch.events <- channel.StatusEvent{Update: types.StatusUpdate{RoomCode: "ABC123", Status: types.StatusCompleted}}
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusCompleted, strp("Lost Keys"), ana, bo)}
	v = waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusCompleted))
	if v.Phase.Completed == nil || len(v.Phase.Completed.Story) != 1 {
		t.Fatalf("completed view should carry the story: %+v", v.Phase.Completed)
	}

	// late chat after completion is ignored
	h.ch.events <- channel.ChatEvent{Message: types.ChatMessage{ID: "m2", Content: "too late", MessageType: types.MessageRegular, Timestamp: ts.Add(time.Minute)}}
	st, ok := h.l.State(context.Background())
	if !ok || len(st.Transcript) != 1 {
		t.Fatalf("transcript must be frozen after completion, got %+v", st.Transcript)
	}
}

func TestLobby_DuplicateMessageAppearsOnce(t *testing.T) {
	h := start(t, "p1")
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusStorytelling, strp("Lost Keys"), ana, bo)}
	waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusStorytelling))

	msg := types.ChatMessage{ID: "m-7", Content: "A door creaks", MessageType: types.MessageRegular, Timestamp: time.Now()}
	h.ch.events <- channel.ChatEvent{Message: msg}
	time.Sleep(500 * time.Millisecond)
	h.ch.events <- channel.ChatEvent{Message: msg}

	// a message with only a correlation id is deduplicated on that
	corr := types.ChatMessage{CorrelationID: "c-1", Content: "echo", MessageType: types.MessageRegular, Timestamp: time.Now()}
	h.ch.events <- channel.ChatEvent{Message: corr}
	h.ch.events <- channel.ChatEvent{Message: corr}

	// without any key both copies are kept
	anon := types.ChatMessage{Content: "no key", MessageType: types.MessageSystem, Timestamp: time.Now()}
	h.ch.events <- channel.ChatEvent{Message: anon}
	h.ch.events <- channel.ChatEvent{Message: anon}

	v := waitFor(t, h.out, time.Second, func(v View) bool { return len(v.Transcript) >= 4 })
	time.Sleep(50 * time.Millisecond)
	st, _ := h.l.State(context.Background())
	if len(st.Transcript) != 4 {
		t.Fatalf("want 4 transcript entries, got %d: %+v", len(st.Transcript), v.Transcript)
	}
	if st.Transcript[0].ID != "m-7" || st.Transcript[1].CorrelationID != "c-1" {
		t.Fatalf("unexpected order: %+v", st.Transcript)
	}
}

func TestLobby_StatusNeverMovesBackwards(t *testing.T) {
	h := start(t, "p1")
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusRoleAssignment, strp("Lost Keys"), ana, bo)}
	waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusRoleAssignment))

	// two pushes while one fetch is in flight coalesce into one follow-up
	h.ch.events <- channel.StatusEvent{Update: types.StatusUpdate{Status: types.StatusStorytelling}}
	first := h.f.next(t, 200*time.Millisecond)
	h.ch.events <- channel.RolesEvent{Assignments: []types.RoleAssignment{{PlayerID: "p1", Role: types.RoleNarrator}}}
	h.ch.events <- channel.StatusEvent{Update: types.StatusUpdate{Status: types.StatusStorytelling}}
	h.f.none(t, 100*time.Millisecond)

	first.reply <- fetchResult{snap: snapshot(types.StatusStorytelling, strp("Lost Keys"), ana, bo)}
	waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusStorytelling))

	// the follow-up returns a lagging replica; it must not roll the room back
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusRoleAssignment, strp("Lost Keys"), ana, bo)}
	h.f.none(t, 100*time.Millisecond)

	st, ok := h.l.State(context.Background())
	if !ok {
		t.Fatalf("lobby gone")
	}
	if st.Room.Status != types.StatusStorytelling {
		t.Fatalf("status went backwards to %s", st.Room.Status)
	}
	if st.Refreshing {
		t.Fatalf("no fetch should be in flight")
	}
}

func TestLobby_FetchFailureKeepsLastGoodState(t *testing.T) {
	h := start(t, "p1")
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusCreated, strp("Lost Keys"), ana, bo)}
	waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusCreated))

	h.l.Refresh()
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{err: fmt.Errorf("get room: %w", errs.ErrNetwork)}
	v := waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return v.Error != "" })
	if v.Room == nil || v.Room.Status != types.StatusCreated || len(v.Players) != 2 {
		t.Fatalf("last good snapshot should survive a failed fetch: %+v", v)
	}
	if !errors.Is(v.Err, errs.ErrNetwork) || v.NotFound {
		t.Fatalf("unexpected error state: %v notFound=%v", v.Err, v.NotFound)
	}

	// a later success clears the error
	h.l.Refresh()
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusCreated, strp("Lost Keys"), ana, bo)}
	v = waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return v.Error == "" && !v.Refreshing })
	if v.Err != nil {
		t.Fatalf("error should be cleared, got %v", v.Err)
	}
}

func TestLobby_NotFoundIsReported(t *testing.T) {
	h := start(t, "p1")
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{err: fmt.Errorf("room ZZZ999: %w", errs.ErrNotFound)}
	v := waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return !v.Loading })
	if !v.NotFound || v.Room != nil {
		t.Fatalf("want not-found with no room, got %+v", v)
	}
}

func TestLobby_ReconnectTriggersRefetch(t *testing.T) {
	h := start(t, "p1")
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusStorytelling, strp("Lost Keys"), ana, bo)}
	waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusStorytelling))

	h.ch.events <- channel.ConnectionEvent{State: channel.Connected, Room: "ABC123"}
	h.f.none(t, 100*time.Millisecond)

	h.ch.events <- channel.ConnectionEvent{State: channel.Reconnecting, Room: "ABC123", Err: errs.ErrChannelLost}
	waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return v.Connection == channel.Reconnecting })
	h.ch.events <- channel.ConnectionEvent{State: channel.Connected, Room: "ABC123"}
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusCompleted, strp("Lost Keys"), ana, bo)}
	waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusCompleted))
}

func TestLobby_TimerAndTwist(t *testing.T) {
	h := start(t, "p2")
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusStorytelling, strp("Lost Keys"), ana, bo)}
	waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusStorytelling))

	h.ch.events <- channel.TimerEvent{Timer: types.TimerState{RemainingTime: 120, TotalTime: 900}}
	h.ch.events <- channel.TimerEvent{Timer: types.TimerState{RemainingTime: 0, TotalTime: 900, IsCompleted: true}}
	v := waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return v.Timer != nil && v.Timer.IsCompleted })
	if v.Timer.RemainingTime != 0 || v.Phase.Storytelling.InputEnabled {
		t.Fatalf("timer should replace wholesale and close input: %+v", v.Timer)
	}

	h.ch.events <- channel.TwistEvent{Twist: types.Twist{TwistPrompt: "The map is a forgery"}}
	v = waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return v.PendingTwist != nil })
	if v.PendingTwist.TwistPrompt != "The map is a forgery" {
		t.Fatalf("unexpected twist %+v", v.PendingTwist)
	}
	h.l.Inbox() <- AckTwist{}
	waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return v.PendingTwist == nil })
}

func TestLobby_TwistIsDroppedOnReconnect(t *testing.T) {
	h := start(t, "p2")
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusStorytelling, strp("Lost Keys"), ana, bo)}
	waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusStorytelling))
	h.ch.events <- channel.ConnectionEvent{State: channel.Connected, Room: "ABC123"}

	h.ch.events <- channel.TwistEvent{Twist: types.Twist{TwistPrompt: "The map is a forgery"}}
	waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return v.PendingTwist != nil })

	h.ch.events <- channel.ConnectionEvent{State: channel.Reconnecting, Room: "ABC123", Err: errs.ErrChannelLost}
	v := waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return v.Connection == channel.Reconnecting })
	if v.PendingTwist != nil {
		t.Fatalf("twist should be dropped once the channel is lost, got %+v", v.PendingTwist)
	}

	h.ch.events <- channel.ConnectionEvent{State: channel.Connected, Room: "ABC123"}
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusStorytelling, strp("Lost Keys"), ana, bo)}
	v = waitFor(t, h.out, 200*time.Millisecond, func(v View) bool { return v.Connection == channel.Connected && !v.Refreshing })
	if v.PendingTwist != nil {
		t.Fatalf("twist came back after reconnect: %+v", v.PendingTwist)
	}
}

func TestLobby_SlowClientIsDropped(t *testing.T) {
	h := start(t, "p1")

	slow := make(chan Update, 1)
	h.l.Inbox() <- Join{ClientID: "slow", Outbox: slow}

	// overflow: a few events without reading
	for i := 0; i < 3; i++ {
		h.ch.events <- channel.TimerEvent{Timer: types.TimerState{RemainingTime: 600 - i, TotalTime: 900}}
	}

	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case _, ok := <-slow:
			if !ok {
				st, _ := h.l.State(context.Background())
				if st.NumClients != 1 {
					t.Fatalf("want only the fast client left, got %d", st.NumClients)
				}
				return
			}
		case <-deadline:
			t.Fatalf("slow client was not dropped")
		}
	}
}

func TestLobby_ShutdownDisconnectsOnce(t *testing.T) {
	h := start(t, "p1")
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusCreated, nil, ana)}

	h.l.Inbox() <- Shutdown{}
	select {
	case <-h.l.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby did not stop")
	}
	if n := h.ch.disconnectCount(); n != 1 {
		t.Fatalf("want exactly one disconnect, got %d", n)
	}
	if _, ok := h.l.State(context.Background()); ok {
		t.Fatalf("State should fail after shutdown")
	}

	// outbox is closed
	for {
		select {
		case _, ok := <-h.out:
			if !ok {
				return
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatalf("outbox not closed on shutdown")
		}
	}
}

func TestLobby_CurrentPlayerFollowsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newGatedFetcher()
	ch := newFakeChannel()
	ids := session.NewStore(nil, nil)
	l := NewLobby(ctx, "ABC123", Deps{Fetcher: f, Channel: ch, Identity: ids})
	out := make(chan Update, 64)
	l.Inbox() <- Join{ClientID: "ui", Outbox: out}

	f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusCreated, nil, ana, bo)}
	v := waitFor(t, out, 200*time.Millisecond, statusIs(types.StatusCreated))
	if v.CurrentPlayer != nil {
		t.Fatalf("no session yet, got %+v", v.CurrentPlayer)
	}

	ids.Set(session.Identity{PlayerID: "p2", PlayerName: "Bo", RoomCode: "ABC123"})
	v = waitFor(t, out, 200*time.Millisecond, func(v View) bool { return v.CurrentPlayer != nil })
	if v.CurrentPlayer.ID != "p2" || v.Phase.IsTitleCreator {
		t.Fatalf("unexpected current player %+v", v.CurrentPlayer)
	}
}

func TestLobby_SendDoesNotResync(t *testing.T) {
	h := start(t, "p1")
	h.f.next(t, 200*time.Millisecond).reply <- fetchResult{snap: snapshot(types.StatusStorytelling, strp("Lost Keys"), ana, bo)}
	waitFor(t, h.out, 200*time.Millisecond, statusIs(types.StatusStorytelling))

	out := types.OutgoingMessage{Content: "The lights go out", MessageType: types.MessageRegular, PlayerID: "p1", CorrelationID: "c-9"}
	if err := h.l.Send(context.Background(), out); err != nil {
		t.Fatalf("send: %v", err)
	}
	h.f.none(t, 100*time.Millisecond)

	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	if len(h.ch.sent) != 1 || h.ch.sent[0] != out {
		t.Fatalf("unexpected sent messages %+v", h.ch.sent)
	}
	if len(h.ch.connects) != 1 || h.ch.connects[0] != "ABC123" {
		t.Fatalf("want one connect for ABC123, got %v", h.ch.connects)
	}
}
