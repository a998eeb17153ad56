// Package remedy executes recommended auto-fix actions. It is the only
// layer that mutates the system; the reconciliation engine observes and
// recommends but never touches anything.
package remedy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
	"github.com/keymend/keymend/internal/probe"
)

// kanataFormula is the Homebrew formula the install action pulls.
const kanataFormula = "kanata"

// ExecutorImpl implements domain.FixExecutor.
type ExecutorImpl struct {
	pm        domain.ProcessManager
	sm        domain.ServiceManager
	installer domain.PackageInstaller
	runner    probe.CommandRunner
	logger    *zap.Logger
}

// NewExecutor creates a fix executor.
func NewExecutor(pm domain.ProcessManager, sm domain.ServiceManager, installer domain.PackageInstaller, logger *zap.Logger) domain.FixExecutor {
	return NewExecutorWithDeps(pm, sm, installer, &probe.RealCommandRunner{}, logger)
}

// NewExecutorWithDeps creates a fix executor with an injectable command
// runner (for testing).
func NewExecutorWithDeps(pm domain.ProcessManager, sm domain.ServiceManager, installer domain.PackageInstaller, runner probe.CommandRunner, logger *zap.Logger) domain.FixExecutor {
	return &ExecutorImpl{
		pm:        pm,
		sm:        sm,
		installer: installer,
		runner:    runner,
		logger:    logger,
	}
}

// Execute runs a single recommended action against the snapshot it was
// recommended for. Failures come back as structured outcomes with the
// violated requirement and a reason, never as bare errors.
func (e *ExecutorImpl) Execute(ctx context.Context, action domain.AutoFixAction, snap *domain.SystemSnapshot) domain.FixOutcome {
	outcome := domain.FixOutcome{Action: action}
	var err error

	switch action {
	case domain.ActionTerminateConflicts:
		outcome.Requirement = "no conflicting processes"
		err = e.terminateConflicts(snap)
	case domain.ActionStartKanataService:
		outcome.Requirement = "kanata service running"
		err = e.startOrKickstart(ctx, domain.ServiceKanata)
	case domain.ActionRestartVHIDDaemon:
		outcome.Requirement = "virtual device daemon healthy"
		err = e.startOrKickstart(ctx, domain.ServiceVHIDDaemon)
	case domain.ActionInstallMissingComponents:
		outcome.Requirement = "all components installed"
		err = e.installMissing(ctx, snap)
	case domain.ActionActivateVHIDDriver:
		outcome.Requirement = "driver extension activated"
		err = e.activateDriver(ctx)
	case domain.ActionInstallLaunchdServices:
		outcome.Requirement = "launchd services installed"
		err = e.installServices(ctx)
	case domain.ActionRepairLaunchdServices:
		outcome.Requirement = "launchd services match their definitions"
		err = e.repairServices(ctx, snap)
	case domain.ActionInstallViaBrew:
		outcome.Requirement = "kanata binary installed"
		err = e.installer.Install(ctx, kanataFormula)
	case domain.ActionAdoptOrphanedProcess:
		outcome.Requirement = "running process adopted"
		err = e.adoptOrphan(ctx, snap)
	case domain.ActionReplaceOrphanedProcess:
		outcome.Requirement = "managed service owns the keyboard"
		err = e.replaceOrphan(ctx, snap)
	case domain.ActionSynchronizeConfigPaths:
		outcome.Requirement = "service runs the expected config"
		err = e.sm.Repair(ctx, domain.ServiceKanata)
	case domain.ActionRestartUnhealthyServices:
		outcome.Requirement = "all services healthy"
		err = e.restartUnhealthy(ctx, snap)
	default:
		err = fmt.Errorf("no handler for action %s", action)
	}

	if err != nil {
		outcome.Reason = err.Error()
		e.logger.Warn("fix failed",
			zap.String("action", action.String()),
			zap.Error(err))
		return outcome
	}
	outcome.Success = true
	e.logger.Info("fix applied", zap.String("action", action.String()))
	return outcome
}

func (e *ExecutorImpl) terminateConflicts(snap *domain.SystemSnapshot) error {
	if snap == nil || !snap.Conflicts.HasConflicts() {
		return nil
	}
	var errs []error
	for _, c := range snap.Conflicts.Conflicts {
		if err := e.pm.Kill(c.PID); err != nil {
			errs = append(errs, fmt.Errorf("kill pid %d (%s): %w", c.PID, c.Kind, err))
			continue
		}
		e.logger.Info("terminated conflicting process",
			zap.Int("pid", c.PID),
			zap.String("kind", string(c.Kind)))
	}
	return errors.Join(errs...)
}

// startOrKickstart restarts a loaded service and installs an unloaded one,
// which also starts it.
func (e *ExecutorImpl) startOrKickstart(ctx context.Context, id domain.ServiceID) error {
	if e.sm.Status(ctx, id).Loaded {
		return e.sm.Kickstart(ctx, id)
	}
	return e.sm.Install(ctx, id)
}

// installMissing walks the missing set in dependency order and installs
// what can be installed without user interaction. Components that need a
// manual step (Homebrew itself, the driver package) are skipped and left
// to their issue instructions.
func (e *ExecutorImpl) installMissing(ctx context.Context, snap *domain.SystemSnapshot) error {
	if snap == nil {
		return fmt.Errorf("no snapshot to install from")
	}
	comps := snap.Components
	installed := 0
	var errs []error

	if comps.IsMissing(domain.ComponentKanataBinary) && !comps.IsMissing(domain.ComponentPackageManager) {
		if err := e.installer.Install(ctx, kanataFormula); err != nil {
			errs = append(errs, err)
		} else {
			installed++
		}
	}
	if comps.IsMissing(domain.ComponentVHIDDriverActivated) && !comps.IsMissing(domain.ComponentVHIDDriver) {
		if err := e.activateDriver(ctx); err != nil {
			errs = append(errs, err)
		} else {
			installed++
		}
	}
	if comps.IsMissing(domain.ComponentLaunchdServices) {
		if err := e.installServices(ctx); err != nil {
			errs = append(errs, err)
		} else {
			installed++
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if installed == 0 {
		return fmt.Errorf("no component could be installed without user action")
	}
	return nil
}

func (e *ExecutorImpl) activateDriver(ctx context.Context) error {
	if err := e.runner.Run(ctx, probe.VHIDManagerBin, "activate"); err != nil {
		return fmt.Errorf("activate driver extension: %w", err)
	}
	return nil
}

func (e *ExecutorImpl) installServices(ctx context.Context) error {
	var errs []error
	for _, id := range domain.ManagedServices() {
		if err := e.sm.Install(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *ExecutorImpl) repairServices(ctx context.Context, snap *domain.SystemSnapshot) error {
	if snap == nil {
		return fmt.Errorf("no snapshot to repair from")
	}
	var errs []error
	for _, id := range domain.ManagedServices() {
		st := snap.Components.Services[id]
		if !st.Installed || !st.NeedsRepair {
			continue
		}
		if err := e.sm.Repair(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// adoptOrphan accepts the running process: the managed plist is written to
// disk but not loaded, so the process keeps the keyboard. Convergence to
// the managed lifecycle happens on a later explicit replace.
func (e *ExecutorImpl) adoptOrphan(ctx context.Context, snap *domain.SystemSnapshot) error {
	orphan := orphanFrom(snap)
	if orphan == nil {
		return fmt.Errorf("no orphaned process in snapshot")
	}
	if err := e.sm.Stage(ctx, domain.ServiceKanata); err != nil {
		return err
	}
	for _, p := range orphan.Processes {
		e.logger.Info("adopted running kanata process", zap.Int("pid", p.PID))
	}
	return nil
}

// replaceOrphan kills the external processes and lets the managed service
// take over.
func (e *ExecutorImpl) replaceOrphan(ctx context.Context, snap *domain.SystemSnapshot) error {
	orphan := orphanFrom(snap)
	if orphan == nil {
		return fmt.Errorf("no orphaned process in snapshot")
	}
	var errs []error
	for _, p := range orphan.Processes {
		if err := e.pm.Kill(p.PID); err != nil {
			errs = append(errs, fmt.Errorf("kill orphan pid %d: %w", p.PID, err))
			continue
		}
		e.logger.Info("replaced external kanata process", zap.Int("pid", p.PID))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return e.startOrKickstart(ctx, domain.ServiceKanata)
}

func (e *ExecutorImpl) restartUnhealthy(ctx context.Context, snap *domain.SystemSnapshot) error {
	if snap == nil {
		return fmt.Errorf("no snapshot to restart from")
	}
	var errs []error
	restarted := 0
	for _, id := range domain.ManagedServices() {
		st := snap.Components.Services[id]
		if !st.Loaded || st.WarmingUp() {
			continue
		}
		unhealthy := !st.Healthy
		if id == domain.ServiceKanata && st.Healthy {
			// launchd may consider kanata fine while it is not functional
			unhealthy = !snap.Health.KanataFunctional || !snap.Health.CommServerResponding
		}
		if !unhealthy {
			continue
		}
		if err := e.sm.Kickstart(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		restarted++
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if restarted == 0 {
		return fmt.Errorf("no service needed a restart")
	}
	return nil
}

func orphanFrom(snap *domain.SystemSnapshot) *domain.OrphanCheck {
	if snap == nil || !snap.Components.Orphan.Detected() {
		return nil
	}
	return snap.Components.Orphan
}

// ApplyAll executes actions in recommendation order and collects the
// outcomes. It does not stop on failure: later actions usually target
// different requirements and still deserve their attempt.
func ApplyAll(ctx context.Context, executor domain.FixExecutor, actions []domain.AutoFixAction, snap *domain.SystemSnapshot) []domain.FixOutcome {
	outcomes := make([]domain.FixOutcome, 0, len(actions))
	for _, action := range actions {
		outcomes = append(outcomes, executor.Execute(ctx, action, snap))
	}
	return outcomes
}

var _ domain.FixExecutor = (*ExecutorImpl)(nil)
