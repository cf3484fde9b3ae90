package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/DoyleJ11/taleforge-client/internal/lobby"
	wire "github.com/DoyleJ11/taleforge-client/internal/types"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

const writeTimeout = 3 * time.Second

// Stream pushes every view update of the session's room over a websocket and
// accepts AckTwist, Refresh and SendMessage from the client.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	lb, err := h.current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.Origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	out := make(chan lobby.Update, 16)
	clientID := uuid.NewString()
	log := h.Log.With(slog.String("client_id", clientID), slog.String("room", lb.Code()))

	post(lb, lobby.Join{ClientID: clientID, Outbox: out})
	defer post(lb, lobby.Leave{ClientID: clientID})

	// Writer goroutine
	writeCtx, writeCancel := context.WithCancel(r.Context())
	defer writeCancel()
	go func() {
		for u := range out {
			v := u.View
			if err := writeMsg(writeCtx, conn, wire.ServerMessage{Type: "ViewUpdate", Version: u.Version, View: &v}); err != nil {
				log.Debug("view write failed", slog.Any("err", err))
				return
			}
		}
		// outbox closed: lobby gone or we fell behind
		conn.Close(websocket.StatusGoingAway, "view stream ended")
	}()

	// Reader loop
	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				log.Debug("view stream closed", slog.Any("err", err))
			}
			return
		}

		var cm wire.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			_ = writeMsg(r.Context(), conn, wire.ServerMessage{Type: "Error", Error: "bad json"})
			continue
		}

		switch cm.Type {
		case "AckTwist":
			post(lb, lobby.AckTwist{})
		case "Refresh":
			lb.Refresh()
		case "SendMessage":
			corr, err := h.Actions.SendMessage(r.Context(), cm.Content, types.MessageType(cm.MessageType))
			if err != nil {
				_ = writeMsg(r.Context(), conn, wire.ServerMessage{Type: "Error", Error: errs.Message(err)})
				continue
			}
			_ = writeMsg(r.Context(), conn, wire.ServerMessage{Type: "Sent", CorrelationID: corr})
		default:
			_ = writeMsg(r.Context(), conn, wire.ServerMessage{Type: "Error", Error: "unknown type"})
		}
	}
}

func writeMsg(ctx context.Context, conn *websocket.Conn, m wire.ServerMessage) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
