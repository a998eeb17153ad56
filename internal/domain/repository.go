package domain

import "context"

// ConflictProbe detects externally-started processes competing for the
// keyboard. Implementations must filter out self-managed processes and
// enforce their own timeout, degrading to an empty result instead of
// blocking or failing the pass.
type ConflictProbe interface {
	// Check returns the current conflicts.
	Check(ctx context.Context) (ConflictsResult, error)
}

// PermissionProbe queries the TCC grant state for both principals.
// A probe that cannot determine truth reports the permission as missing.
type PermissionProbe interface {
	// Check returns the granted/missing flags for every principal and kind.
	Check(ctx context.Context) (PermissionsResult, error)
}

// ComponentProbe determines which required components are installed, plus
// the richer per-service status from the service manager.
type ComponentProbe interface {
	// Check partitions the required component set.
	Check(ctx context.Context) (ComponentsResult, error)
}

// OrphanProbe looks for kanata processes running outside the managed
// launchd lifecycle. Optional: a nil probe disables the check.
type OrphanProbe interface {
	// Check returns the orphan findings, or nil when nothing is orphaned.
	Check(ctx context.Context) (*OrphanCheck, error)
}

// HealthProbe reports functional health of the remapping stack.
type HealthProbe interface {
	// Check returns daemon and service health.
	Check(ctx context.Context) (HealthResult, error)
}

// CompatibilityProbe verifies OS and driver version compatibility.
// Unparseable versions are reported as incompatible.
type CompatibilityProbe interface {
	// Check returns the compatibility verdict.
	Check(ctx context.Context) (CompatibilityResult, error)
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// ListByName returns processes whose name or command line matches the
	// pattern (case-insensitive substring).
	ListByName(ctx context.Context, pattern string) ([]ProcessInfo, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// ServiceManager handles launchd plist operations and status queries for the
// managed services. It is both the component probe's status source and the
// remediation executor's mutation surface.
type ServiceManager interface {
	// Status returns the richer launchd view of one managed service.
	Status(ctx context.Context, id ServiceID) ServiceStatus

	// StatusAll returns the status of every managed service.
	StatusAll(ctx context.Context) map[ServiceID]ServiceStatus

	// Install writes and bootstraps the plist for one service.
	Install(ctx context.Context, id ServiceID) error

	// Stage writes the plist for one service without loading it, so the
	// managed definition exists on disk while an adopted process keeps
	// running.
	Stage(ctx context.Context, id ServiceID) error

	// Repair rewrites a drifted plist and reloads the service.
	Repair(ctx context.Context, id ServiceID) error

	// Kickstart restarts a loaded service and records the restart time
	// so Status can report RecentlyRestarted.
	Kickstart(ctx context.Context, id ServiceID) error

	// Uninstall boots out and removes the plist for one service.
	Uninstall(ctx context.Context, id ServiceID) error
}

// PackageInstaller installs packages through the system package manager.
type PackageInstaller interface {
	// Available reports whether the package manager is usable.
	Available() bool

	// Install installs a formula, waiting for completion.
	Install(ctx context.Context, formula string) error
}

// FixExecutor runs recommended actions. Execution is deliberately outside
// the reconciliation engine; outcomes are structured, never bare booleans.
type FixExecutor interface {
	// Execute runs a single recommended action against the snapshot it
	// was recommended for.
	Execute(ctx context.Context, action AutoFixAction, snap *SystemSnapshot) FixOutcome
}
