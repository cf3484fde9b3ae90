// Package channel owns the realtime connection for a room: one live STOMP
// session, five feed subscriptions and a single pending reconnect at most.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/DoyleJ11/taleforge-client/internal/retry"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

type Options struct {
	ReconnectDelay time.Duration
	Destinations   Destinations
	Logger         *slog.Logger
}

type msg interface{ isManagerMsg() }

type connectReq struct {
	Room  string
	Reply chan struct{}
}

type disconnectReq struct{ Reply chan struct{} }

type sendReq struct{ Reply chan sendTicket }

type statusReq struct{ Reply chan Status }

type subscribeReq struct{ Reply chan *mailbox }

type unsubscribeReq struct{ ID int }

type dialDone struct {
	Gen     int
	Session Session
	Err     error
}

type frameIn struct {
	Gen  int
	Feed Feed
	Body []byte
}

type lostMsg struct {
	Gen int
	Err error
}

type reconnectDue struct{ Gen int }

func (connectReq) isManagerMsg()     {}
func (disconnectReq) isManagerMsg()  {}
func (sendReq) isManagerMsg()        {}
func (statusReq) isManagerMsg()      {}
func (subscribeReq) isManagerMsg()   {}
func (unsubscribeReq) isManagerMsg() {}
func (dialDone) isManagerMsg()       {}
func (frameIn) isManagerMsg()        {}
func (lostMsg) isManagerMsg()        {}
func (reconnectDue) isManagerMsg()   {}

type sendTicket struct {
	Session Session
	Dest    string
	Gen     int
	Err     error
}

type Status struct {
	State State
	Room  string
}

type Manager struct {
	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	dialer  Dialer
	dest    Destinations
	backoff retry.Policy
	log     *slog.Logger

	// owned by loop
	state           State
	room            string
	gen             int
	session         Session
	subs            []Subscription
	cancelDial      context.CancelFunc
	cancelReconnect context.CancelFunc
	mailboxes       map[int]*mailbox
	nextMailbox     int
}

func NewManager(parent context.Context, d Dialer, opts Options) *Manager {
	ctx, cancel := context.WithCancel(parent)
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.Destinations == (Destinations{}) {
		opts.Destinations = DefaultDestinations()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		inbox:     make(chan msg, 64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		dialer:    d,
		dest:      opts.Destinations,
		backoff:   retry.Policy{Attempts: 1, Delay: opts.ReconnectDelay},
		log:       log.With(slog.String("component", "channel")),
		state:     Disconnected,
		mailboxes: make(map[int]*mailbox),
	}
	go m.loop()
	return m
}

// Connect opens the channel for room. It returns once the attempt is under
// way; progress is reported through ConnectionEvent.
func (m *Manager) Connect(ctx context.Context, room string) {
	ask(ctx, m, func(r chan struct{}) msg { return connectReq{Room: room, Reply: r} })
}

// Disconnect unsubscribes every feed, closes the transport and cancels a
// pending reconnect. Calling it again is harmless.
func (m *Manager) Disconnect(ctx context.Context) {
	ask(ctx, m, func(r chan struct{}) msg { return disconnectReq{Reply: r} })
}

// Send publishes a chat message for the connected room.
func (m *Manager) Send(ctx context.Context, out types.OutgoingMessage) error {
	t, ok := ask(ctx, m, func(r chan sendTicket) msg { return sendReq{Reply: r} })
	if !ok {
		return errs.ErrNotConnected
	}
	if t.Err != nil {
		return t.Err
	}
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("%w: encode message: %v", errs.ErrInvalidInput, err)
	}
	if err := t.Session.Send(t.Dest, body); err != nil {
		m.post(lostMsg{Gen: t.Gen, Err: err})
		return fmt.Errorf("%w: %v", errs.ErrNotConnected, err)
	}
	return nil
}

func (m *Manager) Status(ctx context.Context) Status {
	s, ok := ask(ctx, m, func(r chan Status) msg { return statusReq{Reply: r} })
	if !ok {
		return Status{State: Disconnected}
	}
	return s
}

// Events streams channel events in arrival order, across reconnects, until
// cancel is called or the manager closes. The stream is unbounded.
func (m *Manager) Events() (<-chan Event, func()) {
	mb, ok := ask(context.Background(), m, func(r chan *mailbox) msg { return subscribeReq{Reply: r} })
	if !ok {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	return mb.out, func() { m.post(unsubscribeReq{ID: mb.id}) }
}

// Close disconnects and stops the manager.
func (m *Manager) Close() {
	m.cancel()
	<-m.done
}

func ask[T any](ctx context.Context, m *Manager, build func(chan T) msg) (T, bool) {
	var zero T
	reply := make(chan T, 1)
	select {
	case m.inbox <- build(reply):
	case <-m.ctx.Done():
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-m.done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

func (m *Manager) post(x msg) bool {
	select {
	case m.inbox <- x:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			m.teardown()
			m.state = Disconnected
			for id, mb := range m.mailboxes {
				mb.close()
				delete(m.mailboxes, id)
			}
			return

		case x := <-m.inbox:
			switch x := x.(type) {
			case connectReq:
				m.connect(x.Room)
				x.Reply <- struct{}{}

			case disconnectReq:
				if m.state != Disconnected {
					m.teardown()
					m.setState(Disconnected, nil)
					m.room = ""
				}
				x.Reply <- struct{}{}

			case sendReq:
				if m.state != Connected {
					x.Reply <- sendTicket{Err: errs.ErrNotConnected}
					break
				}
				x.Reply <- sendTicket{Session: m.session, Dest: fmt.Sprintf(m.dest.Send, m.room), Gen: m.gen}

			case statusReq:
				x.Reply <- Status{State: m.state, Room: m.room}

			case subscribeReq:
				mb := newMailbox(m.nextMailbox)
				m.mailboxes[mb.id] = mb
				m.nextMailbox++
				x.Reply <- mb

			case unsubscribeReq:
				if mb, ok := m.mailboxes[x.ID]; ok {
					mb.close()
					delete(m.mailboxes, x.ID)
				}

			case dialDone:
				m.onDial(x)

			case frameIn:
				if x.Gen != m.gen || m.state != Connected {
					break
				}
				ev, err := decode(x.Feed, x.Body)
				if err != nil {
					m.log.Warn("dropping malformed event", slog.String("room", m.room), slog.Any("err", err))
					break
				}
				m.emit(ev)

			case lostMsg:
				if x.Gen != m.gen || m.state != Connected {
					break
				}
				m.log.Warn("channel lost", slog.String("room", m.room), slog.Any("err", x.Err))
				m.teardown()
				m.scheduleReconnect(fmt.Errorf("%w: %v", errs.ErrChannelLost, x.Err))

			case reconnectDue:
				if x.Gen != m.gen || m.state != Reconnecting {
					break
				}
				m.cancelReconnect = nil
				m.dial()
			}
		}
	}
}

func (m *Manager) connect(room string) {
	if room == m.room {
		switch m.state {
		case Connecting, Connected:
			return
		case Reconnecting:
			m.teardown()
			m.dial()
			return
		}
	}
	if m.state != Disconnected {
		m.teardown()
	}
	m.room = room
	m.dial()
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelDial = cancel
	m.setState(Connecting, nil)

	go func() {
		s, err := m.dialer.Dial(ctx)
		if !m.post(dialDone{Gen: gen, Session: s, Err: err}) && s != nil {
			_ = s.Close()
		}
	}()
}

func (m *Manager) onDial(d dialDone) {
	if d.Gen != m.gen || m.state != Connecting {
		if d.Session != nil {
			_ = d.Session.Close()
		}
		return
	}
	m.cancelDial()
	m.cancelDial = nil

	if d.Err != nil {
		m.log.Warn("channel dial failed", slog.String("room", m.room), slog.Any("err", d.Err))
		m.scheduleReconnect(d.Err)
		return
	}

	m.session = d.Session
	for _, feed := range feeds {
		sub, err := d.Session.Subscribe(m.dest.For(feed, m.room))
		if err != nil {
			m.log.Warn("channel subscribe failed", slog.String("room", m.room), slog.String("feed", string(feed)), slog.Any("err", err))
			m.teardown()
			m.scheduleReconnect(err)
			return
		}
		m.subs = append(m.subs, sub)
		go m.forward(d.Gen, feed, sub)
	}

	go func(s Session, gen int) {
		select {
		case <-s.Done():
			m.post(lostMsg{Gen: gen, Err: s.Err()})
		case <-m.ctx.Done():
		}
	}(d.Session, d.Gen)

	m.setState(Connected, nil)
}

func (m *Manager) forward(gen int, feed Feed, sub Subscription) {
	for body := range sub.C() {
		if !m.post(frameIn{Gen: gen, Feed: feed, Body: body}) {
			return
		}
	}
}

func (m *Manager) scheduleReconnect(cause error) {
	m.gen++
	m.setState(Reconnecting, cause)
	m.cancelReconnect = m.backoff.After(m.ctx, m.gen, func(gen int) {
		m.post(reconnectDue{Gen: gen})
	})
}

// teardown drops the session, its subscriptions and any pending timer.
// Subscriptions go first, then the transport.
func (m *Manager) teardown() {
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.cancelReconnect != nil {
		m.cancelReconnect()
		m.cancelReconnect = nil
	}
	for _, sub := range m.subs {
		if err := sub.Unsubscribe(); err != nil {
			m.log.Debug("unsubscribe", slog.Any("err", err))
		}
	}
	m.subs = nil
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			m.log.Debug("close session", slog.Any("err", err))
		}
		m.session = nil
	}
}

func (m *Manager) setState(s State, cause error) {
	if m.state == s && cause == nil {
		return
	}
	m.log.Info("channel state",
		slog.String("room", m.room),
		slog.String("from", string(m.state)),
		slog.String("to", string(s)))
	m.state = s
	m.emit(ConnectionEvent{State: s, Room: m.room, Err: cause})
}

func (m *Manager) emit(ev Event) {
	for _, mb := range m.mailboxes {
		mb.in <- ev
	}
}
