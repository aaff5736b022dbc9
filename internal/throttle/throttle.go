// Package throttle provides admission control for generation backend calls.
//
// A Gate bounds in-flight calls with a weighted semaphore and spaces
// successive admissions with a rate limiter, so external API quotas are
// respected regardless of how many pipeline components issue calls.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sopaco/cowork-forge-sub001/internal/telemetry"
)

// Gate is a process-wide admission gate. Construct one and inject it into
// every component that calls a generator; do not reach for ambient state.
//
// Gate is safe for concurrent use.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewGate creates a gate admitting at most maxConcurrent calls, with at
// least pacing between successive admissions. pacing <= 0 disables spacing.
func NewGate(maxConcurrent int, pacing time.Duration) (*Gate, error) {
	if maxConcurrent < 1 {
		return nil, fmt.Errorf("maxConcurrent must be >= 1, got %d", maxConcurrent)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(pacing), 1)
	}

	return &Gate{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		limiter: limiter,
	}, nil
}

// Acquire claims a slot, honoring pacing. It blocks until a slot is free or
// the context is done. Callers must Release the slot on completion, success
// or failure.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("admission wait cancelled: %w", err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.sem.Release(1)
		return fmt.Errorf("pacing wait cancelled: %w", err)
	}
	telemetry.ThrottleWaitDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Release frees a previously acquired slot.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Do runs fn while holding a slot.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

var (
	defaultOnce sync.Once
	defaultGate *Gate
)

// Init configures the shared default gate. The first call wins; subsequent
// calls are no-ops and return the already-configured gate.
func Init(maxConcurrent int, pacing time.Duration) (*Gate, error) {
	var err error
	defaultOnce.Do(func() {
		defaultGate, err = NewGate(maxConcurrent, pacing)
	})
	if err != nil {
		return nil, err
	}
	return Default(), nil
}

// Default returns the shared gate, initializing it with conservative
// settings if Init was never called.
func Default() *Gate {
	defaultOnce.Do(func() {
		defaultGate, _ = NewGate(1, time.Second)
	})
	return defaultGate
}
