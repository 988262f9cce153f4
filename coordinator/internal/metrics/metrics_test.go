package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSession(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.JobsDispatched.Add(4)
	m.ObserveSession("done", 250*time.Millisecond)
	m.ObserveSession("failed", time.Second)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.JobsDispatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("failed")))

	n, err := testutil.GatherAndCount(reg, "matdist_session_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDroppedByReason(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Dropped(DropDuplicate)
	m.Dropped(DropDuplicate)
	m.Dropped(DropMalformed)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DroppedResults.WithLabelValues(DropDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedResults.WithLabelValues(DropMalformed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DroppedResults.WithLabelValues(DropUnknownJob)))
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
