package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
)

// DefaultDebounceWindow suppresses conflict flips shorter than this.
// Terminating processes churns for a few hundred milliseconds; without
// hysteresis the state would visibly flap during that churn.
const DefaultDebounceWindow = 500 * time.Millisecond

// debounceState is the only data carried across passes. It remembers the
// last accepted conflict observation; a flip of the has-conflicts boolean
// within the window republishes that observation instead of the fresh one.
type debounceState struct {
	primed     bool
	lastHas    bool
	lastChange time.Time
	lastResult domain.ConflictsResult
}

// apply filters one fresh observation through the hysteresis window and
// returns the observation to publish. An unchanged boolean or an elapsed
// window accepts the fresh observation and re-arms the window.
func (d *debounceState) apply(fresh domain.ConflictsResult, now time.Time, window time.Duration, logger *zap.Logger) domain.ConflictsResult {
	has := fresh.HasConflicts()
	if d.primed && has != d.lastHas && now.Sub(d.lastChange) < window {
		logger.Debug("conflict flip suppressed",
			zap.Bool("observed", has),
			zap.Bool("reported", d.lastHas),
			zap.Duration("since_last_change", now.Sub(d.lastChange)))
		return d.lastResult
	}
	d.primed = true
	d.lastHas = has
	d.lastChange = now
	d.lastResult = fresh
	return fresh
}
