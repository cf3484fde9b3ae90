// Package retry holds the fixed-delay backoff shared by the snapshot fetcher
// and the realtime channel's reconnect timer.
package retry

import (
	"context"
	"time"
)

type Policy struct {
	Attempts int // total tries, including the first
	Delay    time.Duration
	// Retryable decides whether an error is worth another try. nil retries everything.
	Retryable func(error) bool
}

// Do runs op until it succeeds, returns a non-retryable error, or attempts run out.
// The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt >= attempts || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}
		if werr := p.Wait(ctx); werr != nil {
			return err
		}
	}
}

// Wait blocks for one delay, or until ctx is done.
func (p Policy) Wait(ctx context.Context) error {
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// After calls fire once the delay has elapsed unless the returned cancel
// func runs first. gen is handed back so the receiver can drop stale fires.
func (p Policy) After(parent context.Context, gen int, fire func(gen int)) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		if p.Wait(ctx) == nil {
			fire(gen)
		}
	}()
	return cancel
}
