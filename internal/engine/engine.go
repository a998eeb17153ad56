// Package engine implements the reconciliation pass: concurrent probe
// fan-out into an immutable snapshot, state synthesis, issue generation and
// auto-fix recommendation. A pass is always triggered explicitly by a
// caller, never by an internal timer.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
)

// ErrPassInProgress is returned when Reconcile is called while another pass
// on the same engine has not finished.
var ErrPassInProgress = errors.New("reconciliation pass already in progress")

// Probes bundles the detector adapters. Orphans may be nil, which disables
// the orphaned-process check.
type Probes struct {
	Conflicts     domain.ConflictProbe
	Permissions   domain.PermissionProbe
	Components    domain.ComponentProbe
	Health        domain.HealthProbe
	Compatibility domain.CompatibilityProbe
	Orphans       domain.OrphanProbe
}

// Options tune pass behavior. Zero values select the defaults.
type Options struct {
	// ProbeTimeout bounds each probe call.
	ProbeTimeout time.Duration
	// HealthTimeout bounds the health probe, which tails logs and dials
	// the config server and needs more headroom than the others.
	HealthTimeout time.Duration
	// DebounceWindow is the conflict flip suppression window.
	DebounceWindow time.Duration
}

const (
	defaultProbeTimeout  = 5 * time.Second
	defaultHealthTimeout = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = defaultProbeTimeout
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = defaultHealthTimeout
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	return o
}

// Engine runs reconciliation passes. Apart from the conflict debounce state
// it holds nothing between passes: every pass observes the system fresh.
type Engine struct {
	probes Probes
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex // enforces single pass at a time
	debounce debounceState
}

// New creates an engine with the wall clock.
func New(probes Probes, opts Options, logger *zap.Logger) *Engine {
	return NewWithClock(probes, opts, logger, time.Now)
}

// NewWithClock creates an engine with an injected clock for tests.
func NewWithClock(probes Probes, opts Options, logger *zap.Logger, now func() time.Time) *Engine {
	return &Engine{
		probes: probes,
		opts:   opts.withDefaults(),
		logger: logger,
		now:    now,
	}
}

// Reconcile runs one full pass: snapshot, conflict debounce, synthesis,
// issue generation, recommendations. A second caller while a pass is running
// gets ErrPassInProgress; a cancelled context aborts without publishing
// anything. Every completed pass produces a result, even when every probe
// failed, by degrading to the conservative defaults.
func (e *Engine) Reconcile(ctx context.Context) (*domain.SystemStateResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrPassInProgress
	}
	defer e.mu.Unlock()

	passID := uuid.NewString()
	logger := e.logger.With(zap.String("pass_id", passID))
	start := e.now()

	logger.Debug("reconciliation pass started")

	snap, err := e.buildSnapshot(ctx, logger)
	if err != nil {
		logger.Warn("reconciliation pass abandoned", zap.Error(err))
		return nil, err
	}

	snap.Conflicts = e.debounce.apply(snap.Conflicts, start, e.opts.DebounceWindow, logger)

	state := Synthesize(snap)
	issues := GenerateIssues(snap)
	actions := Recommend(snap)

	logger.Info("reconciliation pass completed",
		zap.String("state", state.String()),
		zap.Int("issues", len(issues)),
		zap.Int("actions", len(actions)),
		zap.Duration("elapsed", e.now().Sub(start)))

	return &domain.SystemStateResult{
		State:     state,
		Issues:    issues,
		Actions:   actions,
		Snapshot:  snap,
		Timestamp: snap.Timestamp,
		PassID:    passID,
	}, nil
}
