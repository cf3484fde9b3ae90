package types

import "github.com/DoyleJ11/taleforge-client/internal/lobby"

// ClientMessage is what a presentation client sends on the view stream.
type ClientMessage struct {
	Type        string `json:"type"` // "AckTwist" | "Refresh" | "SendMessage"
	Content     string `json:"content,omitempty"`
	MessageType string `json:"messageType,omitempty"`
}

type ServerMessage struct {
	Type          string      `json:"type"` // "ViewUpdate" | "Sent" | "Error"
	Version       int         `json:"version,omitempty"`
	View          *lobby.View `json:"view,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// JoinRequest is the bridge body for joining an existing room.
type JoinRequest struct {
	RoomCode   string `json:"roomCode"`
	PlayerName string `json:"playerName"`
}

type MessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
}

type CharacterRequest struct {
	CharacterName string `json:"characterName"`
}
