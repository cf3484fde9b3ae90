package types

import "time"

// Push feeds (STOMP destinations, {code} = room code):
//
//	/topic/room/{code}/messages      ChatMessage
//	/topic/room/{code}/status        StatusUpdate (partial, treated as invalidation)
//	/topic/room/{code}/roles         []RoleAssignment
//	/topic/room/{code}/timer         TimerState
//	/user/queue/room/{code}/twist    Twist (private to the receiving player)
//
// Client -> backend:
//
//	/app/room/{code}/send            OutgoingMessage

type MessageType string

const (
	MessageRegular MessageType = "REGULAR"
	MessageSystem  MessageType = "SYSTEM"
	MessageTwist   MessageType = "TWIST"
)

func (m MessageType) Valid() bool {
	switch m {
	case MessageRegular, MessageSystem, MessageTwist:
		return true
	}
	return false
}

type ChatMessage struct {
	ID            string      `json:"id,omitempty"`
	Content       string      `json:"content"`
	MessageType   MessageType `json:"messageType"`
	SenderID      string      `json:"senderId,omitempty"`
	SenderName    string      `json:"senderName"`
	SenderRole    *Role       `json:"senderRole,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID string      `json:"correlationId,omitempty"`
}

// DedupKey identifies a message for duplicate suppression. Empty means the
// message carries no identity and is always appended.
func (m ChatMessage) DedupKey() string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	if m.CorrelationID != "" {
		return "corr:" + m.CorrelationID
	}
	return ""
}

type TimerState struct {
	RemainingTime int  `json:"remainingTime"` // seconds
	TotalTime     int  `json:"totalTime"`     // seconds
	IsCompleted   bool `json:"isCompleted"`
}

func (t TimerState) Valid() bool {
	return t.RemainingTime >= 0 && t.TotalTime > 0 && t.RemainingTime <= t.TotalTime
}

// Progress is the elapsed fraction in [0, 1].
func (t TimerState) Progress() float64 {
	if t.TotalTime <= 0 {
		return 0
	}
	return float64(t.TotalTime-t.RemainingTime) / float64(t.TotalTime)
}

type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyWarning  Urgency = "warning"
	UrgencyCritical Urgency = "critical"
	UrgencyDone     Urgency = "done"
)

// Urgency buckets the remaining time for display.
func (t TimerState) Urgency() Urgency {
	switch {
	case t.IsCompleted || t.RemainingTime == 0:
		return UrgencyDone
	case t.RemainingTime <= 60:
		return UrgencyCritical
	case t.RemainingTime <= 300:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}

type Twist struct {
	TwistPrompt string `json:"twistPrompt"`
}

type RoleAssignment struct {
	PlayerID string `json:"playerId"`
	Role     Role   `json:"role"`
}

type StatusUpdate struct {
	RoomCode string     `json:"roomCode,omitempty"`
	Status   RoomStatus `json:"status"`
}

type OutgoingMessage struct {
	Content       string      `json:"content"`
	MessageType   MessageType `json:"messageType"`
	PlayerID      string      `json:"playerId"`
	CorrelationID string      `json:"correlationId,omitempty"`
}
