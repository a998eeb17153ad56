package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
)

func conflictsObserved(pids ...int) domain.ConflictsResult {
	var r domain.ConflictsResult
	for _, pid := range pids {
		r.Conflicts = append(r.Conflicts, grabberConflict(pid))
	}
	r.CanAutoResolve = true
	return r
}

// TestDebounce_FirstObservationAccepted verifies the state arms itself on
// first use without suppressing anything.
func TestDebounce_FirstObservationAccepted(t *testing.T) {
	var d debounceState
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	out := d.apply(conflictsObserved(100), base, DefaultDebounceWindow, zap.NewNop())

	assert.True(t, out.HasConflicts())
}

// TestDebounce_FlipWithinWindowSuppressed verifies a disappear-reappear
// shorter than the window republishes the previous observation.
func TestDebounce_FlipWithinWindowSuppressed(t *testing.T) {
	var d debounceState
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	logger := zap.NewNop()

	first := d.apply(conflictsObserved(100), base, DefaultDebounceWindow, logger)
	require.True(t, first.HasConflicts())

	// conflict vanishes 300ms later, inside the window
	second := d.apply(domain.ConflictsResult{}, base.Add(300*time.Millisecond), DefaultDebounceWindow, logger)

	assert.True(t, second.HasConflicts(), "flip inside the window must be suppressed")
	require.Len(t, second.Conflicts, 1)
	assert.Equal(t, 100, second.Conflicts[0].PID, "suppression republishes the prior observation")
}

// TestDebounce_FlipAfterWindowAccepted verifies the window only holds for
// its duration.
func TestDebounce_FlipAfterWindowAccepted(t *testing.T) {
	var d debounceState
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	logger := zap.NewNop()

	d.apply(conflictsObserved(100), base, DefaultDebounceWindow, logger)
	out := d.apply(domain.ConflictsResult{}, base.Add(600*time.Millisecond), DefaultDebounceWindow, logger)

	assert.False(t, out.HasConflicts())
}

// TestDebounce_RapidFlapSequence verifies that none, conflict, none inside
// one window reports none throughout.
func TestDebounce_RapidFlapSequence(t *testing.T) {
	var d debounceState
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	logger := zap.NewNop()

	first := d.apply(domain.ConflictsResult{}, base, DefaultDebounceWindow, logger)
	second := d.apply(conflictsObserved(100), base.Add(100*time.Millisecond), DefaultDebounceWindow, logger)
	third := d.apply(domain.ConflictsResult{}, base.Add(200*time.Millisecond), DefaultDebounceWindow, logger)

	assert.False(t, first.HasConflicts())
	assert.False(t, second.HasConflicts(), "blip inside the window is invisible")
	assert.False(t, third.HasConflicts())
}

// TestDebounce_UnchangedObservationRearmsWindow verifies an unchanged
// reading updates the change timestamp, so the window measures from the most
// recent accepted observation.
func TestDebounce_UnchangedObservationRearmsWindow(t *testing.T) {
	var d debounceState
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	logger := zap.NewNop()

	d.apply(domain.ConflictsResult{}, base, DefaultDebounceWindow, logger)
	// unchanged reading 400ms in: accepted, timestamp re-arms
	d.apply(domain.ConflictsResult{}, base.Add(400*time.Millisecond), DefaultDebounceWindow, logger)
	// flip 300ms after the re-arm, 700ms after the first reading
	out := d.apply(conflictsObserved(100), base.Add(700*time.Millisecond), DefaultDebounceWindow, logger)

	assert.False(t, out.HasConflicts(), "window measures from the last accepted reading")
}

// TestDebounce_ContentChangeWithoutFlipAccepted verifies debouncing tracks
// only the has-conflicts boolean; a changed pid set with conflicts still
// present passes through.
func TestDebounce_ContentChangeWithoutFlipAccepted(t *testing.T) {
	var d debounceState
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	logger := zap.NewNop()

	d.apply(conflictsObserved(100), base, DefaultDebounceWindow, logger)
	out := d.apply(conflictsObserved(200), base.Add(100*time.Millisecond), DefaultDebounceWindow, logger)

	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, 200, out.Conflicts[0].PID)
}
