package ratelimit

import (
	"context"
	"time"
)

// WindowResult is the outcome of a window consumption attempt.
type WindowResult struct {
	Allowed bool
	Count   int64 // consumed cost in the current window, after the call
	ResetIn time.Duration
}

// BurstResult is the outcome of a burst-token draw.
type BurstResult struct {
	Allowed bool
	Tokens  float64 // tokens left in the bucket, after the call
}

// CounterStore is the shared counter backend every consumption attempt goes
// through. ConsumeWindow and DrawBurst MUST be atomic: when two calls race
// for the same key, the store must never admit both past the limit. A naive
// read-compare-increment sequence does not satisfy this contract.
//
// Keys carry their own expiry; callers never delete them except via Reset.
type CounterStore interface {
	// Atomically admits and records cost against key if count+cost <= limit,
	// creating the key with TTL=window on first use.
	ConsumeWindow(ctx context.Context, key string, cost, limit int64, window time.Duration) (WindowResult, error)

	// Reads the current window count without consuming.
	PeekWindow(ctx context.Context, key string, window time.Duration) (WindowResult, error)

	// Atomically refills the bucket at refillPerSec (capped at capacity) and
	// draws cost tokens if available.
	DrawBurst(ctx context.Context, key string, cost, capacity int64, refillPerSec float64) (BurstResult, error)

	// Reads the current token count without drawing.
	PeekBurst(ctx context.Context, key string, capacity int64, refillPerSec float64) (float64, error)

	// Deletes counter state. Missing keys are not an error.
	Reset(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
}
