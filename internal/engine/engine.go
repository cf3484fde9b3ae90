package engine

import (
	"errors"
	"slices"
	"sort"

	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

var ErrBackwardTransition = errors.New("backward status transition")
var ErrUnknownStatus = errors.New("unknown room status")
var ErrWrongPhase = errors.New("action not available in this phase")
var ErrNotTitleCreator = errors.New("only the title creator can do this")
var ErrCharactersMissing = errors.New("every player must choose a character first")
var ErrRolesMissing = errors.New("roles have not been assigned yet")
var ErrTitleMissing = errors.New("the story needs a title first")
var ErrInputClosed = errors.New("the story timer has run out")

type Action string

const (
	ActStartRoleAssignment Action = "start-role-assignment"
	ActUpdateTitle         Action = "update-title"
	ActUpdateCharacter     Action = "update-character"
	ActAssignRoles         Action = "assign-roles"
	ActStartStorytelling   Action = "start-storytelling"
	ActSendMessage         Action = "send-message"
	ActCompleteStory       Action = "complete"
	ActExport              Action = "export"
)

var allActions = []Action{
	ActStartRoleAssignment, ActUpdateTitle, ActUpdateCharacter, ActAssignRoles,
	ActStartStorytelling, ActSendMessage, ActCompleteStory, ActExport,
}

// Input is everything a phase view is derived from.
type Input struct {
	Room            types.Room
	Players         []types.Player
	CurrentPlayerID string
	Timer           *types.TimerState
	Transcript      []types.ChatMessage
}

type View struct {
	Phase          types.RoomStatus `json:"phase"`
	IsTitleCreator bool             `json:"isTitleCreator"`
	Allowed        []Action         `json:"allowed"`

	Created        *CreatedView        `json:"created,omitempty"`
	RoleAssignment *RoleAssignmentView `json:"roleAssignment,omitempty"`
	Storytelling   *StorytellingView   `json:"storytelling,omitempty"`
	Completed      *CompletedView      `json:"completed,omitempty"`
}

type CreatedView struct {
	CanAdvance    bool `json:"canAdvance"`
	HasTitle      bool `json:"hasTitle"`
	MinPlayersMet bool `json:"minPlayersMet"`
}

type RoleAssignmentView struct {
	AllCharactersNamed   bool           `json:"allCharactersNamed"`
	AllRolesAssigned     bool           `json:"allRolesAssigned"`
	CanAssignRoles       bool           `json:"canAssignRoles"`
	CanStartStorytelling bool           `json:"canStartStorytelling"`
	Unnamed              []types.Player `json:"unnamed,omitempty"`
}

type StorytellingView struct {
	CanComplete  bool                `json:"canComplete"`
	InputEnabled bool                `json:"inputEnabled"`
	Story        []types.ChatMessage `json:"story"`
	System       []types.ChatMessage `json:"system"`
}

type CompletedView struct {
	Frozen    bool                `json:"frozen"`
	CanExport bool                `json:"canExport"`
	Story     []types.ChatMessage `json:"story"`
}

// Derive maps a room snapshot plus live sub-state to the current phase view.
func Derive(in Input) View {
	creator := false
	if p := types.FindPlayer(in.Players, in.CurrentPlayerID); p != nil {
		creator = p.IsTitleCreator
	}

	v := View{Phase: in.Room.Status, IsTitleCreator: creator}

	switch in.Room.Status {
	case types.StatusCreated:
		v.Created = &CreatedView{
			HasTitle:      in.Room.HasTitle(),
			CanAdvance:    creator && in.Room.HasTitle(),
			MinPlayersMet: len(in.Players) >= types.MinPlayersToAdvance,
		}

	case types.StatusRoleAssignment:
		unnamed := unnamedPlayers(in.Players)
		named := len(in.Players) > 0 && len(unnamed) == 0
		roles := allRolesAssigned(in.Players)
		v.RoleAssignment = &RoleAssignmentView{
			AllCharactersNamed:   named,
			AllRolesAssigned:     roles,
			CanAssignRoles:       creator && named,
			CanStartStorytelling: creator && named && roles,
			Unnamed:              unnamed,
		}

	case types.StatusStorytelling:
		story, system := splitTranscript(in.Transcript)
		v.Storytelling = &StorytellingView{
			CanComplete:  creator,
			InputEnabled: in.Timer == nil || !in.Timer.IsCompleted,
			Story:        story,
			System:       system,
		}

	case types.StatusCompleted:
		v.Completed = &CompletedView{
			Frozen:    true,
			CanExport: true,
			Story:     StoryLines(in.Transcript),
		}
	}

	for _, a := range allActions {
		if Check(v, a) == nil {
			v.Allowed = append(v.Allowed, a)
		}
	}
	return v
}

// Advance merges an observed status into the current one. Statuses only move
// forward; an older one leaves cur in place and reports ErrBackwardTransition.
func Advance(cur, next types.RoomStatus) (types.RoomStatus, error) {
	if !next.Valid() {
		return cur, ErrUnknownStatus
	}
	if next.Rank() < cur.Rank() {
		return cur, ErrBackwardTransition
	}
	return next, nil
}

// StoryLines is the player-visible story: SYSTEM messages removed, ordered by
// timestamp with arrival order breaking ties.
func StoryLines(transcript []types.ChatMessage) []types.ChatMessage {
	story, _ := splitTranscript(transcript)
	sort.SliceStable(story, func(i, j int) bool { return story[i].Timestamp.Before(story[j].Timestamp) })
	return story
}

func splitTranscript(transcript []types.ChatMessage) (story, system []types.ChatMessage) {
	story = make([]types.ChatMessage, 0, len(transcript))
	for _, m := range transcript {
		if m.MessageType == types.MessageSystem {
			system = append(system, m)
			continue
		}
		story = append(story, m)
	}
	return story, system
}

func unnamedPlayers(players []types.Player) []types.Player {
	var out []types.Player
	for _, p := range players {
		if !p.HasCharacter() {
			out = append(out, p)
		}
	}
	return out
}

func allRolesAssigned(players []types.Player) bool {
	if len(players) == 0 {
		return false
	}
	return !slices.ContainsFunc(players, func(p types.Player) bool { return p.Role == nil })
}
