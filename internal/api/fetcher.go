package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DoyleJ11/taleforge-client/internal/retry"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
)

type SnapshotGetter interface {
	GetRoom(ctx context.Context, code string) (types.Snapshot, error)
}

// Fetcher loads room snapshots, retrying network failures with a fixed delay.
// NotFound and malformed payloads are returned on the first attempt.
type Fetcher struct {
	src    SnapshotGetter
	policy retry.Policy
	log    *slog.Logger
}

func NewFetcher(src SnapshotGetter, attempts int, delay time.Duration, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		src:    src,
		policy: retry.Policy{Attempts: attempts, Delay: delay, Retryable: errs.IsRetryable},
		log:    log.With(slog.String("component", "fetcher")),
	}
}

func (f *Fetcher) Fetch(ctx context.Context, code string) (types.Snapshot, error) {
	var snap types.Snapshot
	attempt := 0
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		s, err := f.src.GetRoom(ctx, code)
		if err != nil {
			if errs.IsRetryable(err) {
				f.log.Warn("snapshot fetch failed",
					slog.String("room", code), slog.Int("attempt", attempt), slog.Any("err", err))
			}
			return err
		}
		if err := checkSnapshot(code, s); err != nil {
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		return types.Snapshot{}, err
	}
	return snap, nil
}

func checkSnapshot(code string, s types.Snapshot) error {
	switch {
	case !s.Room.Status.Valid():
		return fmt.Errorf("%w: unknown room status %q", errs.ErrProtocol, s.Room.Status)
	case s.Room.RoomCode != "" && s.Room.RoomCode != code:
		return fmt.Errorf("%w: snapshot for %s, asked for %s", errs.ErrProtocol, s.Room.RoomCode, code)
	}
	for _, p := range s.Players {
		if p.ID == "" {
			return fmt.Errorf("%w: player without id", errs.ErrProtocol)
		}
	}
	return nil
}

// IsTerminal reports whether a fetch error means the room is gone.
func IsTerminal(err error) bool { return errors.Is(err, errs.ErrNotFound) }
