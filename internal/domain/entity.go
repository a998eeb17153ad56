// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Principal identifies one of the two programs whose permissions matter.
type Principal string

const (
	// PrincipalGUIApp is the keymend app itself (bundle id).
	PrincipalGUIApp Principal = "gui-app"
	// PrincipalKanata is the background remapping daemon (binary path).
	PrincipalKanata Principal = "kanata"
)

// PermissionKind is one of the TCC permission kinds we care about.
type PermissionKind string

const (
	PermissionInputMonitoring    PermissionKind = "input-monitoring"
	PermissionAccessibility      PermissionKind = "accessibility"
	PermissionBackgroundServices PermissionKind = "background-services"
)

// PermissionCheck is the granted/missing flag for one principal and one kind.
type PermissionCheck struct {
	Principal Principal      `json:"principal"`
	Kind      PermissionKind `json:"kind"`
	Granted   bool           `json:"granted"`
}

// PermissionsResult holds the outcome of the permission probe for both
// principals and both per-principal permission kinds, plus the system-level
// background-services toggle.
type PermissionsResult struct {
	Checks []PermissionCheck `json:"checks"`
	// BackgroundServicesEnabled reports whether our launchd services are
	// allowed to run in the background (none of the labels disabled).
	BackgroundServicesEnabled bool `json:"background_services_enabled"`
	// TCCReadable is false when the TCC database could not be opened
	// (usually: keymend itself lacks Full Disk Access). All checks degrade
	// to missing in that case; this flag explains why in the UI.
	TCCReadable bool `json:"tcc_readable"`
}

// AllGranted reports whether every permission check passed and background
// services are enabled. A kind is satisfied system-wide only if both
// principals hold it, which is exactly what iterating all checks enforces.
func (r PermissionsResult) AllGranted() bool {
	for _, c := range r.Checks {
		if !c.Granted {
			return false
		}
	}
	return r.BackgroundServicesEnabled
}

// Missing returns the failed per-principal checks.
func (r PermissionsResult) Missing() []PermissionCheck {
	var out []PermissionCheck
	for _, c := range r.Checks {
		if !c.Granted {
			out = append(out, c)
		}
	}
	return out
}

// KindSatisfied reports whether every principal holds the given kind.
func (r PermissionsResult) KindSatisfied(kind PermissionKind) bool {
	for _, c := range r.Checks {
		if c.Kind == kind && !c.Granted {
			return false
		}
	}
	return true
}

// ComponentKind is an installable unit required for remapping to function.
type ComponentKind string

const (
	ComponentKanataBinary        ComponentKind = "kanata-binary"
	ComponentPackageManager      ComponentKind = "package-manager"
	ComponentVHIDDriver          ComponentKind = "vhid-driver"
	ComponentVHIDDriverActivated ComponentKind = "vhid-driver-activated"
	ComponentVHIDDaemon          ComponentKind = "vhid-daemon"
	ComponentLaunchdServices     ComponentKind = "launchd-services"
)

// RequiredComponents is the full required set, in display order.
func RequiredComponents() []ComponentKind {
	return []ComponentKind{
		ComponentPackageManager,
		ComponentKanataBinary,
		ComponentVHIDDriver,
		ComponentVHIDDriverActivated,
		ComponentVHIDDaemon,
		ComponentLaunchdServices,
	}
}

// ServiceID is a launchd service label managed by keymend.
type ServiceID string

const (
	ServiceKanata      ServiceID = "com.keymend.kanata"
	ServiceVHIDDaemon  ServiceID = "com.keymend.vhiddaemon"
	ServiceVHIDManager ServiceID = "com.keymend.vhidmanager"
)

// ManagedServices lists every launchd label keymend owns.
func ManagedServices() []ServiceID {
	return []ServiceID{ServiceKanata, ServiceVHIDDaemon, ServiceVHIDManager}
}

// ServiceStatus is the service manager's view of one managed service.
type ServiceStatus struct {
	ID        ServiceID `json:"id"`
	Installed bool      `json:"installed"` // plist present on disk
	Loaded    bool      `json:"loaded"`    // known to launchd
	Healthy   bool      `json:"healthy"`   // running with a clean last exit
	PID       int       `json:"pid,omitempty"`
	// ConfigPath is the --cfg argument found in the installed plist
	// (kanata service only, empty otherwise).
	ConfigPath string `json:"config_path,omitempty"`
	// RecentlyRestarted is set by the service manager when it completed a
	// restart of this service within the grace window.
	RecentlyRestarted bool `json:"recently_restarted,omitempty"`
	// NeedsRepair is set when the installed plist content has drifted from
	// what the service manager would write today.
	NeedsRepair bool `json:"needs_repair,omitempty"`
}

// WarmingUp reports whether an unhealthy-but-loaded service should be treated
// as still starting rather than broken.
func (s ServiceStatus) WarmingUp() bool {
	return s.Loaded && !s.Healthy && s.RecentlyRestarted
}

// ProcessInfo describes one observed OS process.
type ProcessInfo struct {
	PID     int    `json:"pid"`
	Command string `json:"command"`
}

// OrphanCheck is the result of looking for kanata processes that exist
// outside the managed launchd lifecycle.
type OrphanCheck struct {
	Processes          []ProcessInfo `json:"processes"`
	ServiceInstalled   bool          `json:"service_installed"`
	ServiceLoaded      bool          `json:"service_loaded"`
	ExpectedConfigPath string        `json:"expected_config_path"`
}

// Detected reports whether at least one orphaned process was found.
func (o *OrphanCheck) Detected() bool {
	return o != nil && len(o.Processes) > 0
}

// ComponentsResult partitions the required component set into installed and
// missing. Constructed via NewComponentsResult so the partition invariant
// (disjoint, union = required set) holds by construction.
type ComponentsResult struct {
	Installed []ComponentKind             `json:"installed"`
	Missing   []ComponentKind             `json:"missing"`
	Services  map[ServiceID]ServiceStatus `json:"services"`
	Orphan    *OrphanCheck                `json:"orphan,omitempty"`
	// ExpectedConfigPath is the keyboard config path the managed service
	// should be running with, resolved by the probe from app config.
	ExpectedConfigPath string `json:"expected_config_path,omitempty"`
}

// NewComponentsResult builds a ComponentsResult from a presence map. Any
// required component absent from the map counts as missing.
func NewComponentsResult(present map[ComponentKind]bool, services map[ServiceID]ServiceStatus) ComponentsResult {
	r := ComponentsResult{Services: services}
	for _, kind := range RequiredComponents() {
		if present[kind] {
			r.Installed = append(r.Installed, kind)
		} else {
			r.Missing = append(r.Missing, kind)
		}
	}
	return r
}

// AllInstalled reports whether nothing is missing.
func (r ComponentsResult) AllInstalled() bool {
	return len(r.Missing) == 0
}

// IsMissing reports whether the given component is in the missing partition.
func (r ComponentsResult) IsMissing(kind ComponentKind) bool {
	for _, k := range r.Missing {
		if k == kind {
			return true
		}
	}
	return false
}

// WithOrphan returns a copy of the result augmented with an orphan check.
func (r ComponentsResult) WithOrphan(o *OrphanCheck) ComponentsResult {
	r.Orphan = o
	return r
}

// ConflictKind categorizes a conflicting external process.
type ConflictKind string

const (
	// ConflictKarabinerGrabber is Karabiner Elements' grabber owning the
	// HID event stack the virtual device needs.
	ConflictKarabinerGrabber ConflictKind = "karabiner-grabber"
	// ConflictExternalKanata is a kanata process not started by our
	// launchd services.
	ConflictExternalKanata ConflictKind = "external-kanata"
)

// Conflict is one externally-started process competing for the keyboard.
type Conflict struct {
	Kind    ConflictKind `json:"kind"`
	PID     int          `json:"pid"`
	Command string       `json:"command"`
}

// ConflictsResult is the conflict probe outcome. Self-managed processes are
// filtered by the probe and never appear here.
type ConflictsResult struct {
	Conflicts      []Conflict `json:"conflicts"`
	CanAutoResolve bool       `json:"can_auto_resolve"`
	Description    string     `json:"description,omitempty"`
}

// HasConflicts reports whether any conflicting process was observed.
func (r ConflictsResult) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

// Kinds returns the distinct conflict kinds present, in stable order.
func (r ConflictsResult) Kinds() []ConflictKind {
	seen := make(map[ConflictKind]bool)
	var kinds []ConflictKind
	for _, c := range r.Conflicts {
		if !seen[c.Kind] {
			seen[c.Kind] = true
			kinds = append(kinds, c.Kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ByKind returns every conflict of the given kind.
func (r ConflictsResult) ByKind(kind ConflictKind) []Conflict {
	var out []Conflict
	for _, c := range r.Conflicts {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Diagnostic is one structured finding parsed from daemon logs.
type Diagnostic struct {
	Severity IssueSeverity `json:"severity"`
	Title    string        `json:"title"`
	Detail   string        `json:"detail,omitempty"`
}

// HealthResult reports functional health, which is stricter than "running".
type HealthResult struct {
	// KanataRunning is true when the kanata service process exists.
	KanataRunning bool `json:"kanata_running"`
	// KanataFunctional requires running + no active error diagnostics +
	// a healthy virtual-device connection.
	KanataFunctional bool `json:"kanata_functional"`
	// VHIDDaemonOperational is true when the virtual device daemon is
	// fully operational.
	VHIDDaemonOperational bool `json:"vhid_daemon_operational"`
	// DriverDaemonHealthy is true when the DriverKit client daemon is up.
	DriverDaemonHealthy bool `json:"driver_daemon_healthy"`
	// CommServerResponding is true when kanata's TCP config server accepts
	// connections. Only meaningful while KanataRunning.
	CommServerResponding bool         `json:"comm_server_responding"`
	Diagnostics          []Diagnostic `json:"diagnostics,omitempty"`
}

// DaemonHealthy reports whether the background virtual-device plumbing
// (VHID daemon + driver daemon) is healthy.
func (r HealthResult) DaemonHealthy() bool {
	return r.VHIDDaemonOperational && r.DriverDaemonHealthy
}

// CompatibilityResult is the outcome of the OS/driver compatibility probe.
// Unresolvable versions are reported as incompatible, never as compatible.
type CompatibilityResult struct {
	Compatible    bool   `json:"compatible"`
	OSVersion     string `json:"os_version,omitempty"`
	DriverVersion string `json:"driver_version,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// SystemSnapshot is the immutable, timestamped aggregate of every probe
// result. Created fresh on every reconciliation pass and never mutated.
type SystemSnapshot struct {
	Timestamp     time.Time           `json:"timestamp"`
	Permissions   PermissionsResult   `json:"permissions"`
	Components    ComponentsResult    `json:"components"`
	Conflicts     ConflictsResult     `json:"conflicts"`
	Health        HealthResult        `json:"health"`
	Compatibility CompatibilityResult `json:"compatibility"`
}

// SystemStateKind enumerates the canonical overall states.
type SystemStateKind string

const (
	StateInitializing       SystemStateKind = "initializing"
	StateConflictsDetected  SystemStateKind = "conflicts-detected"
	StateMissingComponents  SystemStateKind = "missing-components"
	StateMissingPermissions SystemStateKind = "missing-permissions"
	StateDaemonNotRunning   SystemStateKind = "daemon-not-running"
	StateServiceNotRunning  SystemStateKind = "service-not-running"
	StateReady              SystemStateKind = "ready"
	StateActive             SystemStateKind = "active"
)

// SystemState is the single synthesized state for one pass. Exactly one kind
// holds; the payload fields carry data only for the kinds that need it.
type SystemState struct {
	Kind               SystemStateKind   `json:"kind"`
	Conflicts          []Conflict        `json:"conflicts,omitempty"`
	MissingComponents  []ComponentKind   `json:"missing_components,omitempty"`
	MissingPermissions []PermissionCheck `json:"missing_permissions,omitempty"`
}

// String returns the state kind as text.
func (s SystemState) String() string { return string(s.Kind) }

// Blocked reports whether the state describes a blocking problem
// (anything other than ready/active).
func (s SystemState) Blocked() bool {
	return s.Kind != StateReady && s.Kind != StateActive
}

// IssueSeverity grades an issue for display ordering.
type IssueSeverity string

const (
	SeverityInfo     IssueSeverity = "info"
	SeverityWarning  IssueSeverity = "warning"
	SeverityError    IssueSeverity = "error"
	SeverityCritical IssueSeverity = "critical"
)

// IssueCategory groups issues for navigation.
type IssueCategory string

const (
	CategoryConflicts          IssueCategory = "conflicts"
	CategoryPermissions        IssueCategory = "permissions"
	CategoryBackgroundServices IssueCategory = "background-services"
	CategoryInstallation       IssueCategory = "installation"
	CategoryDaemon             IssueCategory = "daemon"
	CategorySystemRequirements IssueCategory = "system-requirements"
)

// DaemonAspect distinguishes the synthetic daemon issues.
type DaemonAspect string

const (
	DaemonAspectNotRunning DaemonAspect = "not-running"
	DaemonAspectCommServer DaemonAspect = "comm-server"
)

// IssueID is a closed tagged union over the issue families. The
// unexported marker keeps the set sealed.
type IssueID interface {
	issueID()
	String() string
}

// PermissionIssueID identifies a missing permission for one principal.
type PermissionIssueID struct {
	Principal Principal
	Kind      PermissionKind
}

func (PermissionIssueID) issueID() {}

func (id PermissionIssueID) String() string {
	if id.Principal == "" {
		return fmt.Sprintf("permission/%s", id.Kind)
	}
	return fmt.Sprintf("permission/%s/%s", id.Principal, id.Kind)
}

// ComponentIssueID identifies a missing component.
type ComponentIssueID struct {
	Component ComponentKind
}

func (ComponentIssueID) issueID() {}

func (id ComponentIssueID) String() string {
	return fmt.Sprintf("component/%s", id.Component)
}

// ConflictIssueID identifies a grouped conflict finding.
type ConflictIssueID struct {
	Kind ConflictKind
}

func (ConflictIssueID) issueID() {}

func (id ConflictIssueID) String() string {
	return fmt.Sprintf("conflict/%s", id.Kind)
}

// DaemonIssueID identifies a synthetic daemon-health issue.
type DaemonIssueID struct {
	Aspect DaemonAspect
}

func (DaemonIssueID) issueID() {}

func (id DaemonIssueID) String() string {
	return fmt.Sprintf("daemon/%s", id.Aspect)
}

// CompatibilityIssueID identifies the single system-requirements issue.
type CompatibilityIssueID struct{}

func (CompatibilityIssueID) issueID() {}

func (CompatibilityIssueID) String() string {
	return "compatibility"
}

// Issue is one user-facing problem. Issues are regenerated every pass and
// carry no identity across passes.
type Issue struct {
	ID          IssueID
	Severity    IssueSeverity
	Category    IssueCategory
	Title       string
	Description string
	// AutoFix is the recommended safe remediation, when one exists.
	AutoFix *AutoFixAction
	// Instruction is human guidance for components that need a manual step.
	Instruction string
}

// MarshalJSON flattens the tagged ID into a string code.
func (i Issue) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID          string        `json:"id"`
		Severity    IssueSeverity `json:"severity"`
		Category    IssueCategory `json:"category"`
		Title       string        `json:"title"`
		Description string        `json:"description"`
		AutoFix     string        `json:"auto_fix,omitempty"`
		Instruction string        `json:"instruction,omitempty"`
	}
	a := alias{
		Severity:    i.Severity,
		Category:    i.Category,
		Title:       i.Title,
		Description: i.Description,
		Instruction: i.Instruction,
	}
	if i.ID != nil {
		a.ID = i.ID.String()
	}
	if i.AutoFix != nil {
		a.AutoFix = i.AutoFix.String()
	}
	return json.Marshal(a)
}

// AutoFixAction is a closed enumeration of safe remediation verbs. Actions
// are recommendations; execution belongs to the remediation executor.
type AutoFixAction int

const (
	ActionTerminateConflicts AutoFixAction = iota
	ActionStartKanataService
	ActionRestartVHIDDaemon
	ActionInstallMissingComponents
	ActionActivateVHIDDriver
	ActionInstallLaunchdServices
	ActionRepairLaunchdServices
	ActionInstallViaBrew
	ActionAdoptOrphanedProcess
	ActionReplaceOrphanedProcess
	ActionSynchronizeConfigPaths
	ActionRestartUnhealthyServices
)

var autoFixNames = map[AutoFixAction]string{
	ActionTerminateConflicts:       "terminate-conflicts",
	ActionStartKanataService:       "start-kanata-service",
	ActionRestartVHIDDaemon:        "restart-vhid-daemon",
	ActionInstallMissingComponents: "install-missing-components",
	ActionActivateVHIDDriver:       "activate-vhid-driver",
	ActionInstallLaunchdServices:   "install-launchd-services",
	ActionRepairLaunchdServices:    "repair-launchd-services",
	ActionInstallViaBrew:           "install-via-brew",
	ActionAdoptOrphanedProcess:     "adopt-orphaned-process",
	ActionReplaceOrphanedProcess:   "replace-orphaned-process",
	ActionSynchronizeConfigPaths:   "synchronize-config-paths",
	ActionRestartUnhealthyServices: "restart-unhealthy-services",
}

// String returns the stable text name of the action.
func (a AutoFixAction) String() string {
	if n, ok := autoFixNames[a]; ok {
		return n
	}
	return fmt.Sprintf("unknown-action(%d)", int(a))
}

// MarshalJSON serializes actions by name.
func (a AutoFixAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// OrphanDecision is the outcome of the orphaned-process matrix.
type OrphanDecision string

const (
	OrphanAdopt   OrphanDecision = "adopt"
	OrphanReplace OrphanDecision = "replace"
)

// SystemStateResult bundles everything one reconciliation pass produces.
type SystemStateResult struct {
	State   SystemState     `json:"state"`
	Issues  []Issue         `json:"issues"`
	Actions []AutoFixAction `json:"actions"`
	// Snapshot is the exact observation the pass was computed from, carried
	// so executors act on what was seen, not on a fresh read.
	Snapshot  SystemSnapshot `json:"snapshot"`
	Timestamp time.Time      `json:"timestamp"`
	// PassID correlates log lines belonging to one pass.
	PassID string `json:"pass_id"`
}

// FixOutcome reports what happened when the executor ran one action.
// Failures carry a reason and the affected requirement, never a bare boolean.
type FixOutcome struct {
	Action      AutoFixAction `json:"action"`
	Requirement string        `json:"requirement"`
	Success     bool          `json:"success"`
	Reason      string        `json:"reason,omitempty"`
}

// WizardPage is one page of the setup wizard.
type WizardPage string

const (
	PageSummary             WizardPage = "summary"
	PageFullDiskAccess      WizardPage = "full-disk-access"
	PageConflicts           WizardPage = "conflicts"
	PageInputMonitoring     WizardPage = "input-monitoring"
	PageAccessibility       WizardPage = "accessibility"
	PageCommunication       WizardPage = "communication"
	PageKarabinerComponents WizardPage = "karabiner-components"
	PageKanataComponents    WizardPage = "kanata-components"
	PageService             WizardPage = "service"
)
