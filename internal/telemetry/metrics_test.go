package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(StageTransitionsTotal.WithLabelValues("design", "completed"))
	StageTransitionsTotal.WithLabelValues("design", "completed").Inc()
	after := testutil.ToFloat64(StageTransitionsTotal.WithLabelValues("design", "completed"))
	assert.Equal(t, before+1, after)

	before = testutil.ToFloat64(BusDroppedEventsTotal)
	BusDroppedEventsTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(BusDroppedEventsTotal))
}
