package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// WindowLimiter enforces a cost-weighted quota of limit units per window,
// approximated as a fixed window that rolls over on bucket boundaries. The
// counter lives in the shared store; this type only derives keys and
// interprets results.
type WindowLimiter struct {
	store CounterStore
	nowFn func() time.Time
}

func NewWindowLimiter(store CounterStore) *WindowLimiter {
	return &WindowLimiter{
		store: store,
		nowFn: time.Now,
	}
}

// The bucket index is derived from wall time, but expiry and retry-after
// always come from the store's own TTL so caller clock skew stays harmless.
func windowKey(userID, resource string, window time.Duration, now time.Time) string {
	bucket := now.Unix() / int64(window.Seconds())
	return fmt.Sprintf("quota:win:%s:%s:%d", userID, resource, bucket)
}

// Consume admits and records cost against the user's window, or denies with
// the time until the window rolls over. A cost above the whole limit is
// denied outright, never partially admitted.
func (w *WindowLimiter) Consume(ctx context.Context, userID, resource string, cost, limit int64, window time.Duration) (WindowResult, error) {
	key := windowKey(userID, resource, window, w.nowFn())
	return w.store.ConsumeWindow(ctx, key, cost, limit, window)
}

// Peek reads the current window state without consuming.
func (w *WindowLimiter) Peek(ctx context.Context, userID, resource string, window time.Duration) (WindowResult, error) {
	key := windowKey(userID, resource, window, w.nowFn())
	return w.store.PeekWindow(ctx, key, window)
}

// Reset clears the current window counter for the user+resource.
func (w *WindowLimiter) Reset(ctx context.Context, userID, resource string, window time.Duration) error {
	key := windowKey(userID, resource, window, w.nowFn())
	return w.store.Reset(ctx, key)
}
