package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
)

const grabberBin = "/Library/Application Support/org.pqrs/Karabiner-Elements/bin/karabiner_grabber"

// TestConflictProbe_GrabberDetected verifies the fundamental case.
func TestConflictProbe_GrabberDetected(t *testing.T) {
	pm := newFakeProcessManager(domain.ProcessInfo{PID: 100, Command: grabberBin})
	p := NewConflictProbe(pm, newFakeServiceManager(), true, zap.NewNop())

	res, err := p.Check(context.Background())

	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, domain.ConflictKarabinerGrabber, res.Conflicts[0].Kind)
	assert.Equal(t, 100, res.Conflicts[0].PID)
	assert.NotEmpty(t, res.Description)
}

// TestConflictProbe_GrabberNotAutoResolvableWhileAppRuns verifies the
// respawn guard: killing the grabber is futile while the Karabiner Elements
// app is up.
func TestConflictProbe_GrabberNotAutoResolvableWhileAppRuns(t *testing.T) {
	pm := newFakeProcessManager(
		domain.ProcessInfo{PID: 100, Command: grabberBin},
		domain.ProcessInfo{PID: 200, Command: "/Applications/Karabiner-Elements.app/Contents/MacOS/Karabiner-Elements"},
	)
	p := NewConflictProbe(pm, newFakeServiceManager(), true, zap.NewNop())

	res, err := p.Check(context.Background())

	require.NoError(t, err)
	require.True(t, res.HasConflicts())
	assert.False(t, res.CanAutoResolve)
}

// TestConflictProbe_GrabberAutoResolvableWhenAppQuit verifies the same
// grabber is terminateable once the app is gone.
func TestConflictProbe_GrabberAutoResolvableWhenAppQuit(t *testing.T) {
	pm := newFakeProcessManager(domain.ProcessInfo{PID: 100, Command: grabberBin})
	p := NewConflictProbe(pm, newFakeServiceManager(), true, zap.NewNop())

	res, err := p.Check(context.Background())

	require.NoError(t, err)
	assert.True(t, res.CanAutoResolve)
}

// TestConflictProbe_OrphanAwareExcludesExternalKanata verifies external
// kanata processes are left to the orphan check when one is wired in.
func TestConflictProbe_OrphanAwareExcludesExternalKanata(t *testing.T) {
	pm := newFakeProcessManager(domain.ProcessInfo{PID: 300, Command: "/opt/homebrew/bin/kanata --cfg /tmp/other.kbd"})
	p := NewConflictProbe(pm, newFakeServiceManager(), true, zap.NewNop())

	res, err := p.Check(context.Background())

	require.NoError(t, err)
	assert.False(t, res.HasConflicts())
}

// TestConflictProbe_ExternalKanataWithoutOrphanCheck verifies the fallback:
// with no orphan check, an external kanata is a plain conflict.
func TestConflictProbe_ExternalKanataWithoutOrphanCheck(t *testing.T) {
	pm := newFakeProcessManager(domain.ProcessInfo{PID: 300, Command: "/opt/homebrew/bin/kanata --cfg /tmp/other.kbd"})
	p := NewConflictProbe(pm, newFakeServiceManager(), false, zap.NewNop())

	res, err := p.Check(context.Background())

	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, domain.ConflictExternalKanata, res.Conflicts[0].Kind)
	assert.True(t, res.CanAutoResolve, "no grabber, so termination sticks")
}

// TestConflictProbe_SelfAndManagedExcluded verifies neither our own process
// nor the managed service's pid is ever reported.
func TestConflictProbe_SelfAndManagedExcluded(t *testing.T) {
	pm := newFakeProcessManager(
		domain.ProcessInfo{PID: 999, Command: "/opt/homebrew/bin/kanata --cfg /tmp/a.kbd"},
		domain.ProcessInfo{PID: 500, Command: "/opt/homebrew/bin/kanata --cfg /tmp/b.kbd"},
	)
	sm := newFakeServiceManager()
	sm.setStatus(domain.ServiceStatus{ID: domain.ServiceKanata, Installed: true, Loaded: true, PID: 500})
	p := NewConflictProbe(pm, sm, false, zap.NewNop())

	res, err := p.Check(context.Background())

	require.NoError(t, err)
	assert.False(t, res.HasConflicts())
}

// TestConflictProbe_ListFailure verifies the error propagates so the engine
// can degrade the probe.
func TestConflictProbe_ListFailure(t *testing.T) {
	pm := newFakeProcessManager()
	pm.listErr = errors.New("proc table unavailable")
	p := NewConflictProbe(pm, newFakeServiceManager(), true, zap.NewNop())

	_, err := p.Check(context.Background())

	assert.Error(t, err)
}
