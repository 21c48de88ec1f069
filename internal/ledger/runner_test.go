package ledger

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_Success(t *testing.T) {
	s := newTestState()

	var renders int
	var observed []Status
	r := NewRunner(s, func(st *State) {
		renders++
		observed = append(observed, st.Entry("staphylococcus_aureus", "upload").Status)
	})

	err := r.Run("staphylococcus_aureus", "upload", 7, func() error { return nil })
	require.NoError(t, err)

	e := s.Entry("staphylococcus_aureus", "upload")
	assert.Equal(t, StatusDone, e.Status)
	assert.Equal(t, 7, e.Count)
	assert.False(t, e.StartedAt.IsZero())
	assert.False(t, e.FinishedAt.IsZero())

	// Rendered once entering running and once after completion.
	assert.Equal(t, 2, renders)
	assert.Equal(t, []Status{StatusRunning, StatusDone}, observed)
}

func TestRunner_FailureReturnsOriginalError(t *testing.T) {
	s := newTestState()
	r := NewRunner(s, nil)

	boom := eris.New("reportree exited 1")
	err := r.Run("staphylococcus_aureus", "analyze", 0, func() error { return boom })
	require.ErrorIs(t, err, boom)

	e := s.Entry("staphylococcus_aureus", "analyze")
	assert.Equal(t, StatusFailed, e.Status)
	assert.False(t, e.FinishedAt.IsZero())
	assert.GreaterOrEqual(t, e.Duration, e.FinishedAt.Sub(e.StartedAt))
}

func TestRunner_ZeroCountLeavesCounter(t *testing.T) {
	s := newTestState()
	r := NewRunner(s, nil)

	s.SetCount("staphylococcus_aureus", "prepare", 12)
	require.NoError(t, r.Run("staphylococcus_aureus", "prepare", 0, func() error { return nil }))
	assert.Equal(t, 12, s.Entry("staphylococcus_aureus", "prepare").Count)
}

func TestRunner_TransitionsAreMonotonic(t *testing.T) {
	s := newTestState()
	r := NewRunner(s, nil)

	require.Error(t, r.Run(GlobalScope, "analyze", 0, func() error { return eris.New("x") }))

	// A failed stage stays failed; skip never follows running.
	s.MarkSkipped(GlobalScope, "analyze")
	assert.Equal(t, StatusFailed, s.Entry(GlobalScope, "analyze").Status)
}
