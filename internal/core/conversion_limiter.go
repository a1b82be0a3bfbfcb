package core

// conversion_limiter.go bounds how many conversions stream from the backend
// at once.
//
// Each conversion holds one slot for as long as its stream is open. When all
// slots are taken, new requests wait up to maxWait before failing with
// ErrTooManyConversions. WaitForDrain blocks until every slot is free and is
// used during graceful shutdown.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTooManyConversions is returned when all slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyConversions = errors.New("too many concurrent conversions, please try again later")

// DefaultMaxConcurrentConversions is the default limit for parallel conversions.
const DefaultMaxConcurrentConversions = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// ConversionLimiter is a weighted semaphore with counters for monitoring.
type ConversionLimiter struct {
	sem     *semaphore.Weighted
	max     int64
	maxWait time.Duration

	active  atomic.Int64
	waiting atomic.Int64
}

// NewConversionLimiter allows at most maxConcurrent simultaneous conversions.
func NewConversionLimiter(maxConcurrent int, maxWait time.Duration) *ConversionLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentConversions
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &ConversionLimiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		max:     int64(maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire waits for a slot. It returns ErrTooManyConversions once maxWait
// elapses, or ctx.Err() if ctx ends first.
// The caller MUST call Release() when the conversion completes.
func (l *ConversionLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	l.waiting.Add(1)
	err := l.sem.Acquire(waitCtx, 1)
	l.waiting.Add(-1)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyConversions
	}

	l.active.Add(1)
	return nil
}

// TryAcquire takes a slot without blocking.
func (l *ConversionLimiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.active.Add(1)
	return true
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *ConversionLimiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// ActiveCount returns the number of running conversions.
func (l *ConversionLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// MaxConcurrent returns the configured slot count.
func (l *ConversionLimiter) MaxConcurrent() int {
	return int(l.max)
}

// Available returns the number of free slots.
func (l *ConversionLimiter) Available() int {
	return int(l.max - l.active.Load())
}

// WaitForDrain blocks until no conversion holds a slot or ctx ends.
// It takes every slot while checking, so new conversions wait behind it.
func (l *ConversionLimiter) WaitForDrain(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, l.max); err != nil {
		return err
	}
	l.sem.Release(l.max)
	return nil
}

// ConversionLimiterStatus is a snapshot of the limiter for monitoring.
type ConversionLimiterStatus struct {
	Active        int `json:"active"`
	Waiting       int `json:"waiting"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *ConversionLimiter) Status() ConversionLimiterStatus {
	active := int(l.active.Load())
	return ConversionLimiterStatus{
		Active:        active,
		Waiting:       int(l.waiting.Load()),
		Available:     int(l.max) - active,
		MaxConcurrent: int(l.max),
	}
}
