package types

// REST bodies for /api/stories.

type CreateRoomRequest struct {
	PlayerName  string `json:"playerName"`
	Genre       Genre  `json:"genre"`
	Duration    int    `json:"duration"` // seconds
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type CreateRoomResponse struct {
	RoomCode string `json:"roomCode"`
	PlayerID string `json:"playerId"`
}

type JoinRoomRequest struct {
	PlayerName string `json:"playerName"`
}

type JoinRoomResponse struct {
	PlayerID string   `json:"playerId"`
	Room     Room     `json:"room"`
	Players  []Player `json:"players"`
}

type UpdateTitleRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type UpdateCharacterRequest struct {
	CharacterName string `json:"characterName"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
