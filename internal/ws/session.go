// Package ws carries STOMP frames over a websocket to the TaleForge backend.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3"
)

var subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

const closeTimeout = 2 * time.Second

type Options struct {
	URL              string // "ws://localhost:8080/ws/websocket"
	HeartBeat        time.Duration
	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *slog.Logger
}

type Dialer struct {
	opts Options
	log  *slog.Logger
}

func NewDialer(opts Options) *Dialer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dialer{opts: opts, log: opts.Logger.With(slog.String("component", "ws"))}
}

// Dial opens the websocket and completes the STOMP CONNECT handshake.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	hctx, cancel := context.WithTimeout(ctx, d.opts.HandshakeTimeout)
	defer cancel()

	c, _, err := websocket.Dial(hctx, d.opts.URL, &websocket.DialOptions{
		HTTPHeader:   d.opts.Header,
		Subprotocols: subprotocols,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", errs.ErrNetwork, d.opts.URL, err)
	}
	c.SetReadLimit(1 << 20)

	connCtx, connCancel := context.WithCancel(context.Background())
	nc := websocket.NetConn(connCtx, c, websocket.MessageText)

	type result struct {
		s   *Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := NewSession(nc, d.opts)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			connCancel()
			_ = c.CloseNow()
			return nil, r.err
		}
		r.s.release = func() {
			connCancel()
			_ = c.CloseNow()
		}
		d.log.Debug("stomp session open", slog.String("url", d.opts.URL))
		return r.s, nil
	case <-hctx.Done():
		connCancel()
		_ = c.CloseNow()
		return nil, fmt.Errorf("%w: stomp handshake: %v", errs.ErrNetwork, hctx.Err())
	}
}

// Session is one STOMP connection. Done closes when the connection is lost or
// closed; Err tells which.
type Session struct {
	conn *stomp.Conn
	log  *slog.Logger

	lost     chan struct{}
	lostOnce sync.Once
	errMu    sync.Mutex
	err      error

	closing   atomic.Bool
	closeOnce sync.Once
	release   func()
}

// NewSession runs the STOMP handshake over an established byte stream.
func NewSession(rwc io.ReadWriteCloser, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	conn, err := stomp.Connect(rwc,
		stomp.ConnOpt.Host("/"),
		stomp.ConnOpt.HeartBeat(opts.HeartBeat, opts.HeartBeat),
	)
	if err != nil {
		_ = rwc.Close()
		return nil, fmt.Errorf("%w: stomp connect: %v", errs.ErrNetwork, err)
	}
	return &Session{conn: conn, log: log, lost: make(chan struct{})}, nil
}

func (s *Session) Subscribe(destination string) (*Subscription, error) {
	sub, err := s.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", errs.ErrNetwork, destination, err)
	}
	out := &Subscription{sub: sub, dest: destination, c: make(chan []byte, 16)}
	go s.pump(out)
	return out, nil
}

func (s *Session) pump(sub *Subscription) {
	defer close(sub.c)
	for msg := range sub.sub.C {
		if sub.stopped.Load() {
			continue
		}
		if msg.Err != nil {
			s.markLost(fmt.Errorf("%w: %s: %v", errs.ErrChannelLost, sub.dest, msg.Err))
			return
		}
		select {
		case sub.c <- msg.Body:
		case <-s.lost:
			return
		}
	}
	if !sub.stopped.Load() {
		s.markLost(fmt.Errorf("%w: %s closed", errs.ErrChannelLost, sub.dest))
	}
}

// Send publishes a JSON body. It returns once the frame is queued locally.
func (s *Session) Send(destination string, body []byte) error {
	if err := s.conn.Send(destination, "application/json", body); err != nil {
		s.markLost(fmt.Errorf("%w: send: %v", errs.ErrChannelLost, err))
		return fmt.Errorf("%w: send %s: %v", errs.ErrNetwork, destination, err)
	}
	return nil
}

func (s *Session) Done() <-chan struct{} { return s.lost }

func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close sends DISCONNECT and releases the socket. Safe to call twice.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		done := make(chan error, 1)
		go func() { done <- s.conn.Disconnect() }()
		select {
		case err = <-done:
			if errors.Is(err, stomp.ErrAlreadyClosed) {
				err = nil
			}
		case <-time.After(closeTimeout):
			err = errors.New("stomp disconnect timed out")
		}
		if s.release != nil {
			s.release()
		}
		s.markLost(nil)
	})
	return err
}

func (s *Session) markLost(err error) {
	if s.closing.Load() {
		err = nil
	}
	s.lostOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		if err != nil {
			s.log.Warn("stomp session lost", slog.Any("err", err))
		}
		close(s.lost)
	})
}

type Subscription struct {
	sub     *stomp.Subscription
	dest    string
	c       chan []byte
	stopped atomic.Bool
}

// C yields message bodies until the subscription ends.
func (s *Subscription) C() <-chan []byte { return s.c }

func (s *Subscription) Destination() string { return s.dest }

func (s *Subscription) Unsubscribe() error {
	if s.stopped.Swap(true) {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- s.sub.Unsubscribe() }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, stomp.ErrCompletedSubscription) {
			return fmt.Errorf("unsubscribe %s: %v", s.dest, err)
		}
		return nil
	case <-time.After(closeTimeout):
		return fmt.Errorf("unsubscribe %s: timed out", s.dest)
	}
}
