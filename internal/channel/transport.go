package channel

import (
	"context"

	"github.com/DoyleJ11/taleforge-client/internal/ws"
)

type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

type Session interface {
	Subscribe(destination string) (Subscription, error)
	Send(destination string, body []byte) error
	// Done closes when the session ends for any reason.
	Done() <-chan struct{}
	Err() error
	Close() error
}

type Subscription interface {
	C() <-chan []byte
	Unsubscribe() error
}

// StompDialer adapts the websocket STOMP transport.
func StompDialer(d *ws.Dialer) Dialer { return stompDialer{d} }

type stompDialer struct{ d *ws.Dialer }

func (s stompDialer) Dial(ctx context.Context) (Session, error) {
	sess, err := s.d.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return stompSession{sess}, nil
}

type stompSession struct{ *ws.Session }

func (s stompSession) Subscribe(destination string) (Subscription, error) {
	sub, err := s.Session.Subscribe(destination)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
