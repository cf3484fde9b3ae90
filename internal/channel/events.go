package channel

import (
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
)

type Feed string

const (
	FeedMessages Feed = "messages"
	FeedStatus   Feed = "status"
	FeedRoles    Feed = "roles"
	FeedTimer    Feed = "timer"
	FeedTwist    Feed = "twist"
)

var feeds = []Feed{FeedMessages, FeedStatus, FeedRoles, FeedTimer, FeedTwist}

// Destinations are fmt templates taking the room code.
type Destinations struct {
	Messages string
	Status   string
	Roles    string
	Timer    string
	Twist    string
	Send     string
}

func DefaultDestinations() Destinations {
	return Destinations{
		Messages: "/topic/room/%s/messages",
		Status:   "/topic/room/%s/status",
		Roles:    "/topic/room/%s/roles",
		Timer:    "/topic/room/%s/timer",
		Twist:    "/user/queue/room/%s/twist",
		Send:     "/app/room/%s/send",
	}
}

func (d Destinations) For(feed Feed, room string) string {
	var tmpl string
	switch feed {
	case FeedMessages:
		tmpl = d.Messages
	case FeedStatus:
		tmpl = d.Status
	case FeedRoles:
		tmpl = d.Roles
	case FeedTimer:
		tmpl = d.Timer
	case FeedTwist:
		tmpl = d.Twist
	}
	return fmt.Sprintf(tmpl, room)
}

type Event interface{ isChannelEvent() }

type ChatEvent struct{ Message types.ChatMessage }

type StatusEvent struct{ Update types.StatusUpdate }

type RolesEvent struct{ Assignments []types.RoleAssignment }

type TimerEvent struct{ Timer types.TimerState }

type TwistEvent struct{ Twist types.Twist }

// ConnectionEvent reports every state transition. Err is set when the
// transition was caused by a failure.
type ConnectionEvent struct {
	State State
	Room  string
	Err   error
}

func (ChatEvent) isChannelEvent()       {}
func (StatusEvent) isChannelEvent()     {}
func (RolesEvent) isChannelEvent()      {}
func (TimerEvent) isChannelEvent()      {}
func (TwistEvent) isChannelEvent()      {}
func (ConnectionEvent) isChannelEvent() {}

func decode(feed Feed, body []byte) (Event, error) {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", errs.ErrProtocol, feed, fmt.Sprintf(format, args...))
	}

	switch feed {
	case FeedMessages:
		var m types.ChatMessage
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, bad("%v", err)
		}
		if !m.MessageType.Valid() {
			return nil, bad("message type %q", m.MessageType)
		}
		return ChatEvent{Message: m}, nil

	case FeedStatus:
		var u types.StatusUpdate
		if err := json.Unmarshal(body, &u); err != nil {
			return nil, bad("%v", err)
		}
		if !u.Status.Valid() {
			return nil, bad("status %q", u.Status)
		}
		return StatusEvent{Update: u}, nil

	case FeedRoles:
		var a []types.RoleAssignment
		if err := json.Unmarshal(body, &a); err != nil {
			return nil, bad("%v", err)
		}
		for _, r := range a {
			if r.PlayerID == "" || !r.Role.Valid() {
				return nil, bad("assignment %+v", r)
			}
		}
		return RolesEvent{Assignments: a}, nil

	case FeedTimer:
		var ts types.TimerState
		if err := json.Unmarshal(body, &ts); err != nil {
			return nil, bad("%v", err)
		}
		if !ts.Valid() {
			return nil, bad("timer %+v", ts)
		}
		return TimerEvent{Timer: ts}, nil

	case FeedTwist:
		var tw types.Twist
		if err := json.Unmarshal(body, &tw); err != nil {
			return nil, bad("%v", err)
		}
		if tw.TwistPrompt == "" {
			return nil, bad("empty twist")
		}
		return TwistEvent{Twist: tw}, nil
	}
	return nil, bad("unknown feed")
}
