package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/taleforge-client/internal/actions"
	"github.com/DoyleJ11/taleforge-client/internal/hub"
	"github.com/DoyleJ11/taleforge-client/internal/lobby"
	"github.com/DoyleJ11/taleforge-client/internal/session"
	"github.com/DoyleJ11/taleforge-client/internal/story"
	wire "github.com/DoyleJ11/taleforge-client/internal/types"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

type Identity interface {
	Get() session.Identity
}

type Handlers struct {
	Hub      *hub.Hub
	Actions  *actions.Dispatcher
	Session  Identity
	Exporter *story.Exporter
	Origins  []string
	Log      *slog.Logger
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := h.Session.Get()
	writeJSON(w, http.StatusOK, struct {
		session.Identity
		Active bool `json:"active"`
	}{Identity: id, Active: id.RoomCode != ""})
}

func (h *Handlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req types.CreateRoomRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.Actions.CreateRoom(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.Hub.Ensure(r.Context(), id.RoomCode)
	writeJSON(w, http.StatusCreated, id)
}

func (h *Handlers) JoinRoom(w http.ResponseWriter, r *http.Request) {
	var req wire.JoinRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.Actions.JoinRoom(r.Context(), req.RoomCode, req.PlayerName)
	if err != nil {
		writeError(w, err)
		return
	}
	h.Hub.Ensure(r.Context(), id.RoomCode)
	writeJSON(w, http.StatusOK, id)
}

func (h *Handlers) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.Actions.LeaveRoom(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetView(w http.ResponseWriter, r *http.Request) {
	lb, err := h.current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	v, ok := lb.State(r.Context())
	if !ok {
		writeError(w, errs.ErrNotConnected)
		return
	}
	w.Header().Set("X-View-Version", strconv.Itoa(v.Version))
	writeJSON(w, http.StatusOK, v)
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	lb, err := h.current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	lb.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) AckTwist(w http.ResponseWriter, r *http.Request) {
	lb, err := h.current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	post(lb, lobby.AckTwist{})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RunAction(w http.ResponseWriter, r *http.Request) {
	var run func(ctx context.Context) error
	switch chi.URLParam(r, "action") {
	case "start-role-assignment":
		run = h.Actions.StartRoleAssignment
	case "assign-roles":
		run = h.Actions.AssignRoles
	case "start-storytelling":
		run = h.Actions.StartStorytelling
	case "complete":
		run = h.Actions.CompleteStory
	default:
		writeJSON(w, http.StatusNotFound, types.ErrorPayload{Error: "unknown action"})
		return
	}
	if err := run(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req actions.TitleUpdate
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Actions.UpdateTitle(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) UpdateCharacter(w http.ResponseWriter, r *http.Request) {
	var req wire.CharacterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Actions.UpdateCharacter(r.Context(), req.CharacterName); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req wire.MessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	corr, err := h.Actions.SendMessage(r.Context(), req.Content, types.MessageType(req.MessageType))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"correlationId": corr})
}

func (h *Handlers) StoryMarkdown(w http.ResponseWriter, r *http.Request) {
	doc, err := h.document(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := h.Exporter.Render(r.Context(), doc)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", story.FileName(doc.Room)))
	_, _ = w.Write(body)
}

func (h *Handlers) ExportStory(w http.ResponseWriter, r *http.Request) {
	doc, err := h.document(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	path, err := h.Exporter.Export(r.Context(), doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// current returns the synchronizer for the session's room.
func (h *Handlers) current(ctx context.Context) (*lobby.Lobby, error) {
	id := h.Session.Get()
	if id.RoomCode == "" {
		return nil, errs.ErrNoSession
	}
	lb := h.Hub.Ensure(ctx, id.RoomCode)
	if lb == nil {
		return nil, errs.ErrNotConnected
	}
	return lb, nil
}

func (h *Handlers) document(ctx context.Context) (story.Document, error) {
	lb, err := h.current(ctx)
	if err != nil {
		return story.Document{}, err
	}
	v, ok := lb.State(ctx)
	if !ok {
		return story.Document{}, errs.ErrNotConnected
	}
	if v.Room == nil {
		if v.Err != nil {
			return story.Document{}, v.Err
		}
		return story.Document{}, fmt.Errorf("%w: room still loading", errs.ErrNotConnected)
	}
	return story.Document{Room: *v.Room, Players: v.Players, Transcript: v.Transcript}, nil
}

// post delivers a message unless the lobby has already stopped.
func post(lb *lobby.Lobby, m lobby.Msg) {
	select {
	case lb.Inbox() <- m:
	case <-lb.Done():
	}
}
