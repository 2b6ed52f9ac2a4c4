package engine

import (
	"context"
	"math/rand/v2"
	"time"
)

// backoff is exponential with ±25% jitter, capped at max.
type backoff struct {
	base time.Duration
	max  time.Duration
}

func (b backoff) delay(retry int) time.Duration {
	base := b.base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	limit := b.max
	if limit < base {
		limit = base
	}
	delay := base << uint(min(retry, 16))
	if delay <= 0 || delay > limit {
		delay = limit
	}
	if half := int64(delay / 2); half > 0 {
		jitter := time.Duration(rand.Int64N(half))
		delay = delay - delay/4 + jitter
	}
	return delay
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
