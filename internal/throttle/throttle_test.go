package throttle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGate_InvalidConcurrency(t *testing.T) {
	_, err := NewGate(0, 0)
	require.Error(t, err)
}

func TestGate_BoundsConcurrency(t *testing.T) {
	gate, err := NewGate(2, 0)
	require.NoError(t, err)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := gate.Do(context.Background(), func(context.Context) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestGate_Pacing(t *testing.T) {
	gate, err := NewGate(4, 50*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, gate.Acquire(context.Background()))
		gate.Release()
	}
	// Three admissions with 50ms spacing need at least ~100ms total.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestGate_AcquireRespectsContext(t *testing.T) {
	gate, err := NewGate(1, 0)
	require.NoError(t, err)

	require.NoError(t, gate.Acquire(context.Background()))
	defer gate.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = gate.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_ReleasedOnError(t *testing.T) {
	gate, err := NewGate(1, 0)
	require.NoError(t, err)

	_ = gate.Do(context.Background(), func(context.Context) error {
		return assert.AnError
	})

	// Slot must be free again.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, gate.Acquire(ctx))
	gate.Release()
}

func TestGate_AcquireRecordsWaitDuration(t *testing.T) {
	gate, err := NewGate(1, 0)
	require.NoError(t, err)

	before := histogramSampleCount(t, "coworkforge_throttle_wait_duration_seconds")

	require.NoError(t, gate.Acquire(context.Background()))
	gate.Release()

	after := histogramSampleCount(t, "coworkforge_throttle_wait_duration_seconds")
	assert.Equal(t, before+1, after)
}

func histogramSampleCount(t *testing.T, name string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func TestInit_SubsequentCallsAreNoOps(t *testing.T) {
	first, err := Init(3, 0)
	require.NoError(t, err)

	second, err := Init(99, time.Hour)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first, Default())
}
