package probe

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
)

// ConflictProbeImpl detects externally-started processes competing for the
// keyboard. Self-managed processes (our own pid and pids owned by the
// managed launchd services) are filtered here and never reach the engine.
type ConflictProbeImpl struct {
	pm     domain.ProcessManager
	sm     domain.ServiceManager
	logger *zap.Logger
	// orphanAware removes external kanata processes from conflict scope:
	// when the orphaned-process check is enabled, those belong to its
	// adopt-or-replace matrix instead.
	orphanAware bool
}

// NewConflictProbe creates a conflict probe.
func NewConflictProbe(pm domain.ProcessManager, sm domain.ServiceManager, orphanAware bool, logger *zap.Logger) *ConflictProbeImpl {
	return &ConflictProbeImpl{pm: pm, sm: sm, orphanAware: orphanAware, logger: logger}
}

// Check returns the current conflicts.
func (p *ConflictProbeImpl) Check(ctx context.Context) (domain.ConflictsResult, error) {
	var result domain.ConflictsResult

	grabbers, err := p.pm.ListByName(ctx, karabinerGrabberName)
	if err != nil {
		return domain.ConflictsResult{}, fmt.Errorf("list grabber processes: %w", err)
	}
	for _, proc := range filterBinary(grabbers, karabinerGrabberName) {
		result.Conflicts = append(result.Conflicts, domain.Conflict{
			Kind:    domain.ConflictKarabinerGrabber,
			PID:     proc.PID,
			Command: proc.Command,
		})
	}

	if !p.orphanAware {
		kanatas, err := p.pm.ListByName(ctx, kanataProcessName)
		if err != nil {
			return domain.ConflictsResult{}, fmt.Errorf("list kanata processes: %w", err)
		}
		managed := p.managedPIDs(ctx)
		self := p.pm.GetCurrentPID()
		for _, proc := range filterBinary(kanatas, kanataProcessName) {
			if proc.PID == self || managed[proc.PID] {
				continue
			}
			result.Conflicts = append(result.Conflicts, domain.Conflict{
				Kind:    domain.ConflictExternalKanata,
				PID:     proc.PID,
				Command: proc.Command,
			})
		}
	}

	if !result.HasConflicts() {
		return result, nil
	}

	result.CanAutoResolve = p.canAutoResolve(ctx, result)
	result.Description = describeResult(result)
	return result, nil
}

// canAutoResolve decides between the bulk terminate action and manual
// instructions. Killing the grabber is futile while the Karabiner Elements
// app is running: launchd respawns it, so the user has to quit the app.
func (p *ConflictProbeImpl) canAutoResolve(ctx context.Context, result domain.ConflictsResult) bool {
	if len(result.ByKind(domain.ConflictKarabinerGrabber)) == 0 {
		return true
	}
	apps, err := p.pm.ListByName(ctx, karabinerAppName)
	if err != nil {
		p.logger.Warn("could not check for Karabiner Elements app", zap.Error(err))
		return false
	}
	// the grabber's own path contains the app name, so narrow to argv[0]
	return len(filterBinary(apps, karabinerAppName)) == 0
}

func (p *ConflictProbeImpl) managedPIDs(ctx context.Context) map[int]bool {
	pids := make(map[int]bool)
	for _, st := range p.sm.StatusAll(ctx) {
		if st.PID > 0 {
			pids[st.PID] = true
		}
	}
	return pids
}

func describeResult(r domain.ConflictsResult) string {
	if len(r.Conflicts) == 1 {
		c := r.Conflicts[0]
		return fmt.Sprintf("1 conflicting process: %s (pid %d)", c.Kind, c.PID)
	}
	return fmt.Sprintf("%d conflicting processes detected", len(r.Conflicts))
}

var _ domain.ConflictProbe = (*ConflictProbeImpl)(nil)
