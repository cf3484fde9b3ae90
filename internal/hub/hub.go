package hub

import (
	"context"
	"log/slog"
	"sort"

	"github.com/DoyleJ11/taleforge-client/internal/lobby"
)

// Factory builds the synchronizer for one room. The lobby's context is the
// hub's, so shutting the hub down stops every lobby.
type Factory func(ctx context.Context, code string) *lobby.Lobby

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type EnsureLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type RemoveLobby struct {
	Code string
}

type ListLobbies struct {
	Reply chan []string
}

type ShutdownHub struct{}

// lobbyStopped is posted when a lobby's loop exits on its own.
type lobbyStopped struct {
	Code  string
	Lobby *lobby.Lobby
}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	factory Factory
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func (GetLobby) isHubMsg()     {}
func (EnsureLobby) isHubMsg()  {}
func (RemoveLobby) isHubMsg()  {}
func (ListLobbies) isHubMsg()  {}
func (ShutdownHub) isHubMsg()  {}
func (lobbyStopped) isHubMsg() {}

func NewHub(parent context.Context, factory Factory, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		factory: factory,
		log:     log.With(slog.String("component", "hub")),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done closes once every lobby has been told to stop.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Ensure returns the lobby for code, starting it if needed. It returns nil
// once the hub is shut down.
func (h *Hub) Ensure(ctx context.Context, code string) *lobby.Lobby {
	return h.ask(ctx, func(r chan *lobby.Lobby) HubMsg { return EnsureLobby{Code: code, Reply: r} })
}

// Get returns the running lobby for code or nil.
func (h *Hub) Get(ctx context.Context, code string) *lobby.Lobby {
	return h.ask(ctx, func(r chan *lobby.Lobby) HubMsg { return GetLobby{Code: code, Reply: r} })
}

func (h *Hub) Remove(code string) {
	select {
	case h.inbox <- RemoveLobby{Code: code}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) List(ctx context.Context) []string {
	reply := make(chan []string, 1)
	select {
	case h.inbox <- ListLobbies{Reply: reply}:
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case codes := <-reply:
		return codes
	case <-h.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops every lobby and waits for the hub loop to exit.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}

func (h *Hub) ask(ctx context.Context, build func(chan *lobby.Lobby) HubMsg) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- build(reply):
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case lb := <-reply:
		return lb
	case <-h.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- lb
					break
				}
				lb := h.factory(h.ctx, msg.Code)
				h.lobbies[msg.Code] = lb
				h.log.Info("lobby started", slog.String("room", msg.Code))
				go h.watch(msg.Code, lb)
				msg.Reply <- lb

			case RemoveLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					delete(h.lobbies, msg.Code)
					stop(lb)
					h.log.Info("lobby removed", slog.String("room", msg.Code))
				}

			case ListLobbies:
				codes := make([]string, 0, len(h.lobbies))
				for code := range h.lobbies {
					codes = append(codes, code)
				}
				sort.Strings(codes)
				msg.Reply <- codes

			case lobbyStopped:
				// only forget it if it has not been replaced already
				if h.lobbies[msg.Code] == msg.Lobby {
					delete(h.lobbies, msg.Code)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		stop(lb)
	}
	clear(h.lobbies)
	h.cancel()
}

func (h *Hub) watch(code string, lb *lobby.Lobby) {
	select {
	case <-lb.Done():
		select {
		case h.inbox <- lobbyStopped{Code: code, Lobby: lb}:
		case <-h.ctx.Done():
		}
	case <-h.ctx.Done():
	}
}

func stop(lb *lobby.Lobby) {
	select {
	case lb.Inbox() <- lobby.Shutdown{}:
	case <-lb.Done():
	}
}
