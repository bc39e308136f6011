package slackapi

import (
	"context"
	"sync"
	"time"
)

// Rate limit categories. Send operations count against the tighter
// "message" ceiling; everything else is "api".
const (
	CategoryMessage = "message"
	CategoryAPI     = "api"
)

const admitRetryInterval = time.Second

// RateLimiter enforces a rolling per-minute cap per category. Windows are
// per-client and reset on restart.
type RateLimiter struct {
	mu       sync.Mutex
	ceilings map[string]int
	windows  map[string][]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(messagesPerMinute, apiCallsPerMinute int) *RateLimiter {
	return &RateLimiter{
		ceilings: map[string]int{
			CategoryMessage: messagesPerMinute,
			CategoryAPI:     apiCallsPerMinute,
		},
		windows: map[string][]time.Time{},
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Admit reports whether a call may proceed now, recording it if so.
func (r *RateLimiter) Admit(category string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-time.Minute)

	window := r.windows[category]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	ceiling, ok := r.ceilings[category]
	if !ok {
		ceiling = r.ceilings[CategoryAPI]
	}
	if len(kept) >= ceiling {
		r.windows[category] = kept
		return false
	}
	r.windows[category] = append(kept, now)
	return true
}

// Await blocks until admission succeeds, retrying on a fixed short
// interval. Returns early only when ctx is cancelled.
func (r *RateLimiter) Await(ctx context.Context, category string) error {
	for !r.Admit(category) {
		if err := r.sleep(ctx, admitRetryInterval); err != nil {
			return err
		}
	}
	return nil
}
