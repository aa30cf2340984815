// File: api/schemas/resolution_test.go
package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolution(t *testing.T) *Resolution {
	t.Helper()
	inc, err := NewIncident("", "a.java", "r1", "msg", 3, 3, "")
	require.NoError(t, err)
	return NewResolution(inc)
}

func TestResolutionLifecycle(t *testing.T) {
	t.Run("happy path to solved", func(t *testing.T) {
		r := newTestResolution(t)
		assert.Equal(t, StatusPending, r.Status)
		require.NoError(t, r.Transition(StatusInProgress))
		require.NoError(t, r.Transition(StatusSolved))
		assert.True(t, r.Status.Terminal())
	})

	t.Run("pending may be skipped directly", func(t *testing.T) {
		r := newTestResolution(t)
		require.NoError(t, r.Transition(StatusSkipped))
	})

	t.Run("pending cannot jump to terminal success", func(t *testing.T) {
		r := newTestResolution(t)
		assert.Error(t, r.Transition(StatusSolved))
		assert.Error(t, r.Transition(StatusFailed))
	})

	t.Run("terminal states are final", func(t *testing.T) {
		r := newTestResolution(t)
		require.NoError(t, r.Transition(StatusInProgress))
		require.NoError(t, r.Transition(StatusFailed))
		assert.Error(t, r.Transition(StatusInProgress))
		assert.Error(t, r.Transition(StatusSolved))
	})

	t.Run("no demotion from in progress", func(t *testing.T) {
		r := newTestResolution(t)
		require.NoError(t, r.Transition(StatusInProgress))
		assert.Error(t, r.Transition(StatusPending))
	})
}

func TestResolutionReopen(t *testing.T) {
	t.Run("failed can be reopened", func(t *testing.T) {
		r := newTestResolution(t)
		require.NoError(t, r.Transition(StatusInProgress))
		require.NoError(t, r.Transition(StatusFailed))
		r.FailureReason = "backends exhausted"

		require.NoError(t, r.Reopen())
		assert.Equal(t, StatusInProgress, r.Status)
		assert.Empty(t, r.FailureReason)
		require.NoError(t, r.Transition(StatusSolved))
	})

	t.Run("only failed can be reopened", func(t *testing.T) {
		for _, status := range []ResolutionStatus{StatusPending, StatusInProgress, StatusSolved, StatusSkipped} {
			r := newTestResolution(t)
			r.Status = status
			assert.Error(t, r.Reopen(), "status %s", status)
		}
	})
}
