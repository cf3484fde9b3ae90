package actions

import (
	"context"

	"github.com/DoyleJ11/taleforge-client/internal/hub"
)

type hubRooms struct{ h *hub.Hub }

// HubRooms serves Rooms from the lobby hub.
func HubRooms(h *hub.Hub) Rooms { return hubRooms{h: h} }

func (r hubRooms) Open(ctx context.Context, code string) Room {
	if lb := r.h.Ensure(ctx, code); lb != nil {
		return lb
	}
	return nil
}

func (r hubRooms) Close(code string) { r.h.Remove(code) }
