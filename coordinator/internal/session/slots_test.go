package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matdist/common/models"
)

func row(vals ...float64) models.Matrix {
	return models.Matrix{Rows: 1, Cols: len(vals), Data: vals}
}

func TestSlotsAssembleInIDOrder(t *testing.T) {
	s := NewSlots(3)
	for _, id := range []int{2, 0, 1} {
		stored, err := s.Put(id, row(float64(id), float64(id)))
		require.NoError(t, err)
		require.True(t, stored)
	}
	require.True(t, s.Full())

	m, err := s.Assemble()
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1, 1, 2, 2}, m.Data)
	assert.Equal(t, 3, m.Rows)
}

func TestSlotsDropDuplicates(t *testing.T) {
	s := NewSlots(1)
	stored, err := s.Put(0, row(1))
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = s.Put(0, row(9))
	require.NoError(t, err)
	assert.False(t, stored)

	m, err := s.Assemble()
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, m.Data)
}

func TestSlotsRejectUnknownID(t *testing.T) {
	s := NewSlots(2)
	_, err := s.Put(2, row(1))
	require.Error(t, err)
	_, err = s.Put(-1, row(1))
	require.Error(t, err)
	assert.False(t, s.Filled(2))
}

func TestSlotsRefuseGaps(t *testing.T) {
	s := NewSlots(3)
	_, err := s.Put(1, row(1))
	require.NoError(t, err)

	assert.False(t, s.Full())
	assert.Equal(t, []int{0, 2}, s.Missing())
	_, err = s.Assemble()
	require.ErrorIs(t, err, ErrIncomplete)
}

func TestTrackerDeadlines(t *testing.T) {
	tr := newTracker(3, true)
	base := time.Unix(1000, 0)
	assert.Equal(t, 1, tr.dispatched(0, base, time.Second))
	tr.dispatched(1, base.Add(500*time.Millisecond), time.Second)
	tr.dispatched(2, base.Add(100*time.Millisecond), time.Second)

	next, ok := tr.nextDeadline()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Second), next)

	assert.Equal(t, []int{0, 2}, tr.expired(base.Add(1100*time.Millisecond)))
	tr.complete(0)
	assert.Equal(t, 2, tr.pending())
	assert.Equal(t, []int{1, 2}, tr.unfinished())
	assert.Equal(t, 2, tr.dispatched(2, base.Add(2*time.Second), time.Second))
	assert.Equal(t, []int{1}, tr.expired(base.Add(1600*time.Millisecond)))
}

func TestTrackerPerJobAllowance(t *testing.T) {
	tr := newTracker(2, true)
	base := time.Unix(1000, 0)
	tr.dispatched(0, base, time.Second)
	tr.dispatched(1, base, 3*time.Second)

	assert.Equal(t, []int{0}, tr.expired(base.Add(2*time.Second)))
	assert.Equal(t, []int{0, 1}, tr.expired(base.Add(3*time.Second)))
}

func TestTrackerWithoutDeadline(t *testing.T) {
	tr := newTracker(1, false)
	tr.dispatched(0, time.Unix(0, 0), 0)
	_, ok := tr.nextDeadline()
	assert.False(t, ok)
	assert.Empty(t, tr.expired(time.Now()))
	assert.Equal(t, []int{0}, tr.unfinished())
}

func TestAllowanceScalesWithQueueDepth(t *testing.T) {
	s := &Session{cfg: Config{JobDeadline: 100 * time.Millisecond}}
	assert.Equal(t, 100*time.Millisecond, s.allowance(0, 2))
	assert.Equal(t, 100*time.Millisecond, s.allowance(1, 2))
	assert.Equal(t, 200*time.Millisecond, s.allowance(2, 2))
	assert.Equal(t, 400*time.Millisecond, s.allowance(3, 1))
	assert.Equal(t, 300*time.Millisecond, s.allowance(2, 0))
}
