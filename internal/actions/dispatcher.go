// Package actions turns user intents into backend calls for the player's
// current room and resyncs the room afterwards.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/taleforge-client/internal/session"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

type Backend interface {
	CreateRoom(ctx context.Context, req types.CreateRoomRequest) (types.CreateRoomResponse, error)
	JoinRoom(ctx context.Context, code string, req types.JoinRoomRequest) (types.JoinRoomResponse, error)
	LeaveRoom(ctx context.Context, code string) error
	UpdateTitle(ctx context.Context, code string, req types.UpdateTitleRequest) error
	UpdateCharacter(ctx context.Context, code string, req types.UpdateCharacterRequest) error
	StartRoleAssignment(ctx context.Context, code string) error
	AssignRoles(ctx context.Context, code string) error
	StartStorytelling(ctx context.Context, code string) error
	CompleteStory(ctx context.Context, code string) error
}

// Room is the live synchronizer of one room.
type Room interface {
	Refresh()
	Send(ctx context.Context, out types.OutgoingMessage) error
}

// Rooms opens and closes synchronizers by room code. Open returns nil when
// no synchronizer can be started.
type Rooms interface {
	Open(ctx context.Context, code string) Room
	Close(code string)
}

type Session interface {
	Get() session.Identity
	Set(id session.Identity)
	Clear()
}

type Options struct {
	SendRate  float64 // messages per second
	SendBurst int
	Logger    *slog.Logger
}

type Dispatcher struct {
	backend Backend
	rooms   Rooms
	session Session
	limiter *rate.Limiter
	log     *slog.Logger
	newID   func() string
}

func New(backend Backend, rooms Rooms, s Session, opts Options) *Dispatcher {
	if opts.SendRate <= 0 {
		opts.SendRate = 1
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 5
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		backend: backend,
		rooms:   rooms,
		session: s,
		limiter: rate.NewLimiter(rate.Limit(opts.SendRate), opts.SendBurst),
		log:     log.With(slog.String("component", "actions")),
		newID:   uuid.NewString,
	}
}

type TitleUpdate struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// CreateRoom creates a room with the caller as title creator and makes it
// the current session.
func (d *Dispatcher) CreateRoom(ctx context.Context, req types.CreateRoomRequest) (session.Identity, error) {
	req.PlayerName = strings.TrimSpace(req.PlayerName)
	req.Title = strings.TrimSpace(req.Title)
	if err := req.Validate(); err != nil {
		return session.Identity{}, err
	}

	resp, err := d.backend.CreateRoom(ctx, req)
	if err != nil {
		return session.Identity{}, err
	}

	id := session.Identity{
		PlayerID:   resp.PlayerID,
		PlayerName: req.PlayerName,
		RoomCode:   types.NormalizeRoomCode(resp.RoomCode),
	}
	d.enter(id)
	d.log.Info("room created", slog.String("room", id.RoomCode), slog.String("player_id", id.PlayerID))
	return id, nil
}

func (d *Dispatcher) JoinRoom(ctx context.Context, code, playerName string) (session.Identity, error) {
	code = types.NormalizeRoomCode(code)
	playerName = strings.TrimSpace(playerName)
	if err := types.ValidateRoomCode(code); err != nil {
		return session.Identity{}, err
	}
	if err := types.ValidatePlayerName(playerName); err != nil {
		return session.Identity{}, err
	}

	resp, err := d.backend.JoinRoom(ctx, code, types.JoinRoomRequest{PlayerName: playerName})
	if err != nil {
		return session.Identity{}, err
	}

	id := session.Identity{PlayerID: resp.PlayerID, PlayerName: playerName, RoomCode: code}
	d.enter(id)
	d.log.Info("room joined", slog.String("room", code), slog.String("player_id", id.PlayerID))
	return id, nil
}

// LeaveRoom tells the backend and clears the session. A room the backend no
// longer knows is treated as already left.
func (d *Dispatcher) LeaveRoom(ctx context.Context) error {
	id := d.session.Get()
	if id.RoomCode == "" {
		return errs.ErrNoSession
	}

	if err := d.backend.LeaveRoom(ctx, id.RoomCode); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	d.rooms.Close(id.RoomCode)
	d.session.Clear()
	d.log.Info("room left", slog.String("room", id.RoomCode))
	return nil
}

func (d *Dispatcher) StartRoleAssignment(ctx context.Context) error {
	return d.act(ctx, "start-role-assignment", d.backend.StartRoleAssignment)
}

func (d *Dispatcher) AssignRoles(ctx context.Context) error {
	return d.act(ctx, "assign-roles", d.backend.AssignRoles)
}

func (d *Dispatcher) StartStorytelling(ctx context.Context) error {
	return d.act(ctx, "start-storytelling", d.backend.StartStorytelling)
}

func (d *Dispatcher) CompleteStory(ctx context.Context) error {
	return d.act(ctx, "complete", d.backend.CompleteStory)
}

func (d *Dispatcher) UpdateTitle(ctx context.Context, u TitleUpdate) error {
	u.Title = strings.TrimSpace(u.Title)
	u.Description = strings.TrimSpace(u.Description)
	if err := types.ValidateTitle(u.Title, u.Description); err != nil {
		return err
	}
	return d.act(ctx, "update-title", func(ctx context.Context, code string) error {
		return d.backend.UpdateTitle(ctx, code, types.UpdateTitleRequest{Title: u.Title, Description: u.Description})
	})
}

func (d *Dispatcher) UpdateCharacter(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := types.ValidateCharacterName(name); err != nil {
		return err
	}
	return d.act(ctx, "update-character", func(ctx context.Context, code string) error {
		return d.backend.UpdateCharacter(ctx, code, types.UpdateCharacterRequest{CharacterName: name})
	})
}

// SendMessage adds a story line through the realtime channel. Sends are paced
// by a token bucket; a caller over the limit waits for a token. It returns
// the correlation id the echo will carry.
func (d *Dispatcher) SendMessage(ctx context.Context, content string, mt types.MessageType) (string, error) {
	if mt == "" {
		mt = types.MessageRegular
	}
	if mt != types.MessageRegular && mt != types.MessageTwist {
		return "", fmt.Errorf("%w: players cannot send %s messages", errs.ErrInvalidInput, mt)
	}
	content = strings.TrimSpace(content)
	if err := types.ValidateContent(content); err != nil {
		return "", err
	}

	id := d.session.Get()
	if id.RoomCode == "" || id.PlayerID == "" {
		return "", errs.ErrNoSession
	}
	room := d.rooms.Open(ctx, id.RoomCode)
	if room == nil {
		return "", errs.ErrNotConnected
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	out := types.OutgoingMessage{
		Content:       content,
		MessageType:   mt,
		PlayerID:      id.PlayerID,
		CorrelationID: d.newID(),
	}
	if err := room.Send(ctx, out); err != nil {
		return "", err
	}
	return out.CorrelationID, nil
}

// act runs one state-changing call and then resyncs the room whatever the
// outcome. Failures are returned as-is and never retried.
func (d *Dispatcher) act(ctx context.Context, name string, call func(ctx context.Context, code string) error) error {
	id := d.session.Get()
	if id.RoomCode == "" {
		return errs.ErrNoSession
	}

	err := call(ctx, id.RoomCode)
	// the caller may have given up; the room still has to catch up
	if room := d.rooms.Open(context.WithoutCancel(ctx), id.RoomCode); room != nil {
		room.Refresh()
	}
	if err != nil {
		d.log.Warn("action failed", slog.String("action", name), slog.String("room", id.RoomCode), slog.Any("err", err))
		return err
	}
	d.log.Debug("action done", slog.String("action", name), slog.String("room", id.RoomCode))
	return nil
}

// enter switches the session to id, closing the previous room if it differs.
func (d *Dispatcher) enter(id session.Identity) {
	if prev := d.session.Get(); prev.RoomCode != "" && prev.RoomCode != id.RoomCode {
		d.rooms.Close(prev.RoomCode)
	}
	d.session.Set(id)
}
