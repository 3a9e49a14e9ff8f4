package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// BurstBucket is the secondary token bucket drawn before the window: it
// absorbs short spikes above the steady-state rate, refilling continuously
// at limit/window tokens per second up to burstSize.
type BurstBucket struct {
	store CounterStore
}

func NewBurstBucket(store CounterStore) *BurstBucket {
	return &BurstBucket{store: store}
}

func burstKey(userID, resource string) string {
	return fmt.Sprintf("quota:burst:%s:%s", userID, resource)
}

// RefillRate converts a window quota into the bucket's tokens-per-second
// refill cadence.
func RefillRate(limit int64, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	return float64(limit) / window.Seconds()
}

// Draw attempts to take cost tokens from the user's burst bucket.
func (b *BurstBucket) Draw(ctx context.Context, userID, resource string, cost, capacity int64, refillPerSec float64) (BurstResult, error) {
	if capacity <= 0 {
		return BurstResult{Allowed: false}, nil
	}
	return b.store.DrawBurst(ctx, burstKey(userID, resource), cost, capacity, refillPerSec)
}

// Tokens reports the refilled token count without drawing.
func (b *BurstBucket) Tokens(ctx context.Context, userID, resource string, capacity int64, refillPerSec float64) (float64, error) {
	if capacity <= 0 {
		return 0, nil
	}
	return b.store.PeekBurst(ctx, burstKey(userID, resource), capacity, refillPerSec)
}

// Reset empties the user's burst state, independent of the window counter.
func (b *BurstBucket) Reset(ctx context.Context, userID, resource string) error {
	return b.store.Reset(ctx, burstKey(userID, resource))
}
