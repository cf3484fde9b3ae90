package lobby

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/DoyleJ11/taleforge-client/internal/channel"
	"github.com/DoyleJ11/taleforge-client/internal/engine"
	"github.com/DoyleJ11/taleforge-client/internal/session"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

type Fetcher interface {
	Fetch(ctx context.Context, code string) (types.Snapshot, error)
}

type Channel interface {
	Connect(ctx context.Context, room string)
	Disconnect(ctx context.Context)
	Send(ctx context.Context, out types.OutgoingMessage) error
	Events() (<-chan channel.Event, func())
}

type Identity interface {
	Get() session.Identity
	Watch() (<-chan session.Identity, func())
}

type Deps struct {
	Fetcher  Fetcher
	Channel  Channel
	Identity Identity
	Logger   *slog.Logger
}

type Msg interface{ isLobbyMsg() }

type Join struct {
	ClientID string
	Outbox   chan Update // where this client wants to receive updates
}

type Leave struct{ ClientID string }

type Shutdown struct{}

// Refresh asks for a new snapshot, coalesced with any fetch in flight.
type Refresh struct{}

type AckTwist struct{}

type GetState struct {
	Reply chan View
}

type fromChannel struct{ Event channel.Event }

type fetched struct {
	Seq  int
	Snap types.Snapshot
	Err  error
}

type identityChanged struct{ ID session.Identity }

func (Join) isLobbyMsg()            {}
func (Leave) isLobbyMsg()           {}
func (Shutdown) isLobbyMsg()        {}
func (Refresh) isLobbyMsg()         {}
func (AckTwist) isLobbyMsg()        {}
func (GetState) isLobbyMsg()        {}
func (fromChannel) isLobbyMsg()     {}
func (fetched) isLobbyMsg()         {}
func (identityChanged) isLobbyMsg() {}

type Update struct {
	Version int  `json:"version"`
	View    View `json:"view"`
}

type View struct {
	RoomCode   string        `json:"roomCode"`
	Loading    bool          `json:"loading"`
	Refreshing bool          `json:"refreshing"`
	Error      string        `json:"error,omitempty"`
	NotFound   bool          `json:"notFound,omitempty"`
	Connection channel.State `json:"connection"`

	Room          *types.Room         `json:"room,omitempty"`
	Players       []types.Player      `json:"players"`
	CurrentPlayer *types.Player       `json:"currentPlayer,omitempty"`
	Transcript    []types.ChatMessage `json:"transcript"`
	Timer         *types.TimerState   `json:"timer,omitempty"`
	PendingTwist  *types.Twist        `json:"pendingTwist,omitempty"`
	Phase         engine.View         `json:"phase"`

	Version    int `json:"-"`
	NumClients int `json:"-"`
	// Err is the last fetch failure, kept for errors.Is checks.
	Err error `json:"-"`
}

type Lobby struct {
	inbox   chan Msg
	code    string
	deps    Deps
	log     *slog.Logger
	version int
	clients map[string]chan Update
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	stop    sync.Once

	// room state, owned by loop
	room       *types.Room
	players    []types.Player
	current    *types.Player
	transcript []types.ChatMessage
	seen       map[string]struct{}
	timer      *types.TimerState
	twist      *types.Twist
	conn       channel.State
	wasLost    bool
	fetchErr   error
	loading    bool

	// fetch bookkeeping: one in flight, later triggers coalesce into one follow-up
	issued     int
	appliedSeq int
	inFlight   bool
	dirty      bool
}

func NewLobby(parent context.Context, code string, deps Deps) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	l := &Lobby{
		inbox:   make(chan Msg, 64),
		code:    code,
		deps:    deps,
		log:     log.With(slog.String("component", "lobby"), slog.String("room", code)),
		clients: make(map[string]chan Update),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		seen:    make(map[string]struct{}),
		conn:    channel.Disconnected,
		loading: true,
	}

	events, stopEvents := deps.Channel.Events()
	go l.forward(events, stopEvents)
	if deps.Identity != nil {
		ids, stopIDs := deps.Identity.Watch()
		go l.forwardIdentity(ids, stopIDs)
	}

	l.requestFetch()
	deps.Channel.Connect(ctx, code)

	go l.loop()
	return l
}

// Expose the inbox so the bridge or tests can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) Code() string { return l.code }

// Done closes after shutdown completes.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Refresh is the resync hook used after actions.
func (l *Lobby) Refresh() {
	select {
	case l.inbox <- Refresh{}:
	case <-l.ctx.Done():
	}
}

// Send hands an outgoing story line to the room's channel. It does not
// resync; the echo on the messages feed is the confirmation.
func (l *Lobby) Send(ctx context.Context, out types.OutgoingMessage) error {
	return l.deps.Channel.Send(ctx, out)
}

// State returns the current view, or false once the lobby is gone.
func (l *Lobby) State(ctx context.Context) (View, bool) {
	reply := make(chan View, 1)
	select {
	case l.inbox <- GetState{Reply: reply}:
	case <-l.ctx.Done():
		return View{}, false
	case <-ctx.Done():
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-l.done:
		return View{}, false
	case <-ctx.Done():
		return View{}, false
	}
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.clients[msg.ClientID] = msg.Outbox
				l.send(msg.ClientID, msg.Outbox, Update{Version: l.version, View: l.view()})

			case Leave:
				if ch, ok := l.clients[msg.ClientID]; ok {
					close(ch)
					delete(l.clients, msg.ClientID)
				}

			case Refresh:
				l.requestFetch()
				l.publish()

			case AckTwist:
				if l.twist != nil {
					l.twist = nil
					l.publish()
				}

			case GetState:
				v := l.view()
				v.NumClients = len(l.clients)
				msg.Reply <- v

			case fetched:
				l.onFetched(msg)
				l.publish()

			case fromChannel:
				if l.onEvent(msg.Event) {
					l.publish()
				}

			case identityChanged:
				l.recomputeCurrent(msg.ID)
				l.publish()

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) onEvent(ev channel.Event) bool {
	switch e := ev.(type) {
	case channel.StatusEvent:
		// status payloads are partial; the snapshot is the source of truth
		l.log.Debug("status event", slog.String("status", string(e.Update.Status)))
		l.requestFetch()
		return true

	case channel.RolesEvent:
		l.requestFetch()
		return true

	case channel.ChatEvent:
		if l.room != nil && l.room.Status == types.StatusCompleted {
			return false
		}
		if key := e.Message.DedupKey(); key != "" {
			if _, dup := l.seen[key]; dup {
				return false
			}
			l.seen[key] = struct{}{}
		}
		l.transcript = append(l.transcript, e.Message)
		return true

	case channel.TimerEvent:
		t := e.Timer
		l.timer = &t
		return true

	case channel.TwistEvent:
		tw := e.Twist
		l.twist = &tw
		return true

	case channel.ConnectionEvent:
		l.conn = e.State
		switch e.State {
		case channel.Reconnecting:
			l.wasLost = true
			// twists are delivered once on the private queue
			l.twist = nil
		case channel.Connected:
			if l.wasLost {
				// pushes sent while we were away are gone
				l.wasLost = false
				l.requestFetch()
			}
		}
		return true
	}
	return false
}

func (l *Lobby) requestFetch() {
	if l.inFlight {
		l.dirty = true
		return
	}
	l.issued++
	l.inFlight = true
	seq := l.issued
	go func() {
		snap, err := l.deps.Fetcher.Fetch(l.ctx, l.code)
		select {
		case l.inbox <- fetched{Seq: seq, Snap: snap, Err: err}:
		case <-l.ctx.Done():
		}
	}()
}

func (l *Lobby) onFetched(f fetched) {
	l.inFlight = false
	defer func() {
		if l.dirty {
			l.dirty = false
			l.requestFetch()
		}
	}()

	if f.Seq < l.appliedSeq {
		return
	}
	if f.Err != nil {
		if errors.Is(f.Err, context.Canceled) {
			return
		}
		l.loading = false
		l.fetchErr = f.Err
		l.log.Warn("snapshot fetch failed, keeping last known state", slog.Any("err", f.Err))
		return
	}
	l.applySnapshot(f.Seq, f.Snap)
}

// applySnapshot is the single place room and players change. A snapshot that
// would move status backwards is dropped whole.
func (l *Lobby) applySnapshot(seq int, snap types.Snapshot) bool {
	if l.room != nil {
		if _, err := engine.Advance(l.room.Status, snap.Room.Status); err != nil {
			l.log.Debug("dropping stale snapshot",
				slog.String("have", string(l.room.Status)),
				slog.String("got", string(snap.Room.Status)))
			return false
		}
	}

	room := snap.Room
	l.room = &room
	l.players = snap.Players
	l.appliedSeq = seq
	l.loading = false
	l.fetchErr = nil
	l.recomputeCurrent(l.identity())
	return true
}

func (l *Lobby) identity() session.Identity {
	if l.deps.Identity == nil {
		return session.Identity{}
	}
	return l.deps.Identity.Get()
}

func (l *Lobby) recomputeCurrent(id session.Identity) {
	l.current = types.FindPlayer(l.players, id.PlayerID)
}

func (l *Lobby) view() View {
	v := View{
		RoomCode:      l.code,
		Loading:       l.loading,
		Refreshing:    l.inFlight,
		Connection:    l.conn,
		Room:          l.room,
		Players:       l.players,
		CurrentPlayer: l.current,
		Transcript:    l.transcript,
		Timer:         l.timer,
		PendingTwist:  l.twist,
		Version:       l.version,
		Err:           l.fetchErr,
	}
	if l.fetchErr != nil {
		v.Error = errs.Message(l.fetchErr)
		v.NotFound = errors.Is(l.fetchErr, errs.ErrNotFound)
	}
	if l.room != nil {
		in := engine.Input{Room: *l.room, Players: l.players, Timer: l.timer, Transcript: l.transcript}
		if l.current != nil {
			in.CurrentPlayerID = l.current.ID
		}
		v.Phase = engine.Derive(in)
	}
	return v
}

func (l *Lobby) publish() {
	l.version++
	l.broadcast(Update{Version: l.version, View: l.view()})
}

func (l *Lobby) broadcast(u Update) {
	for id, ch := range l.clients {
		l.send(id, ch, u)
	}
}

func (l *Lobby) send(id string, ch chan Update, u Update) {
	select {
	case ch <- u:
	default:
		// Client is slow/full - drop them.
		close(ch)
		delete(l.clients, id)
	}
}

func (l *Lobby) shutdown() {
	l.stop.Do(func() {
		for id, ch := range l.clients {
			close(ch) // no more updates
			delete(l.clients, id)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		l.deps.Channel.Disconnect(ctx)
		cancel()
		l.cancel()
	})
}

func (l *Lobby) forward(events <-chan channel.Event, stop func()) {
	defer stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			select {
			case l.inbox <- fromChannel{Event: ev}:
			case <-l.ctx.Done():
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *Lobby) forwardIdentity(ids <-chan session.Identity, stop func()) {
	defer stop()
	for {
		select {
		case id, ok := <-ids:
			if !ok {
				return
			}
			select {
			case l.inbox <- identityChanged{ID: id}:
			case <-l.ctx.Done():
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}
