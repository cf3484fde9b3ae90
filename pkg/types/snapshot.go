package types

import (
	"time"
)

// Snapshot is the authoritative room state returned by GET /api/stories/{code}.
//
//	room:    Room
//	players: Player[]
//
// Status always lives at room.status.
type Snapshot struct {
	Room    Room     `json:"room"`
	Players []Player `json:"players"`
}

type RoomStatus string

const (
	StatusCreated        RoomStatus = "CREATED"
	StatusRoleAssignment RoomStatus = "ROLE_ASSIGNMENT"
	StatusStorytelling   RoomStatus = "STORYTELLING"
	StatusCompleted      RoomStatus = "COMPLETED"
)

// Rank orders statuses along the forward-only lifecycle. Unknown values rank -1.
func (s RoomStatus) Rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusRoleAssignment:
		return 1
	case StatusStorytelling:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

func (s RoomStatus) Valid() bool { return s.Rank() >= 0 }

type Genre string

const (
	GenreFantasy   Genre = "FANTASY"
	GenreSciFi     Genre = "SCI_FI"
	GenreMystery   Genre = "MYSTERY"
	GenreHorror    Genre = "HORROR"
	GenreAdventure Genre = "ADVENTURE"
)

var Genres = []Genre{GenreFantasy, GenreSciFi, GenreMystery, GenreHorror, GenreAdventure}

func (g Genre) Valid() bool {
	for _, v := range Genres {
		if v == g {
			return true
		}
	}
	return false
}

type Role string

const (
	RoleProtagonist   Role = "PROTAGONIST"
	RoleAntagonist    Role = "ANTAGONIST"
	RoleNarrator      Role = "NARRATOR"
	RoleSideCharacter Role = "SIDE_CHARACTER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleProtagonist, RoleAntagonist, RoleNarrator, RoleSideCharacter:
		return true
	}
	return false
}

type Room struct {
	RoomCode    string     `json:"roomCode"`
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Genre       Genre      `json:"genre"`
	Duration    int        `json:"duration"` // seconds
	Status      RoomStatus `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// HasTitle reports whether the title creator has set a non-empty title.
func (r Room) HasTitle() bool { return r.Title != nil && *r.Title != "" }

type Player struct {
	ID             string  `json:"id"`
	PlayerName     string  `json:"playerName"`
	Role           *Role   `json:"role,omitempty"`
	CharacterName  *string `json:"characterName,omitempty"`
	IsTitleCreator bool    `json:"isTitleCreator"`
}

func (p Player) HasCharacter() bool { return p.CharacterName != nil && *p.CharacterName != "" }

// DisplayName prefers the character name once one is chosen.
func (p Player) DisplayName() string {
	if p.HasCharacter() {
		return *p.CharacterName
	}
	return p.PlayerName
}

// FindPlayer returns the player with the given id, or nil.
func FindPlayer(players []Player, id string) *Player {
	if id == "" {
		return nil
	}
	for i := range players {
		if players[i].ID == id {
			p := players[i]
			return &p
		}
	}
	return nil
}
