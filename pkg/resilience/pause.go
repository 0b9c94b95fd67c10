package resilience

import (
	"context"
	"time"
)

// Sleeper blocks for d or until ctx is done. Tests swap it for a recorder.
type Sleeper func(ctx context.Context, d time.Duration) error

// Pause is the real Sleeper. A non-positive d returns immediately.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
