package engine

import (
	"fmt"
	"strings"

	"github.com/keymend/keymend/internal/domain"
)

// GenerateIssues turns a snapshot into the user-facing issue list. Issues
// are rebuilt from scratch every pass, never diffed against the previous
// pass. Ordering follows the same priority as Synthesize so the first issue
// always matches the headline state.
func GenerateIssues(snap domain.SystemSnapshot) []domain.Issue {
	var issues []domain.Issue
	issues = append(issues, compatibilityIssues(snap.Compatibility)...)
	issues = append(issues, conflictIssues(snap.Conflicts)...)
	issues = append(issues, componentIssues(snap.Components)...)
	issues = append(issues, permissionIssues(snap.Permissions)...)
	issues = append(issues, daemonIssues(snap.Health)...)
	return issues
}

func compatibilityIssues(r domain.CompatibilityResult) []domain.Issue {
	if r.Compatible {
		return nil
	}
	desc := r.Reason
	if desc == "" {
		desc = "The installed keyboard driver does not match this macOS version."
	}
	return []domain.Issue{{
		ID:          domain.CompatibilityIssueID{},
		Severity:    domain.SeverityCritical,
		Category:    domain.CategorySystemRequirements,
		Title:       "System requirements not met",
		Description: desc,
		Instruction: "Install a Karabiner VirtualHIDDevice driver release that supports this macOS version.",
	}}
}

// conflictIssues emits exactly one issue per conflict kind, no matter how
// many processes of that kind were observed.
func conflictIssues(r domain.ConflictsResult) []domain.Issue {
	if !r.HasConflicts() {
		return nil
	}
	var issues []domain.Issue
	for _, kind := range r.Kinds() {
		meta := conflictCatalog[kind]
		issue := domain.Issue{
			ID:          domain.ConflictIssueID{Kind: kind},
			Severity:    domain.SeverityCritical,
			Category:    domain.CategoryConflicts,
			Title:       meta.Title,
			Description: describeConflicts(r.ByKind(kind)),
		}
		if r.CanAutoResolve {
			issue.AutoFix = action(domain.ActionTerminateConflicts)
		} else {
			issue.Instruction = meta.Instruction
		}
		issues = append(issues, issue)
	}
	return issues
}

func describeConflicts(group []domain.Conflict) string {
	parts := make([]string, 0, len(group))
	for _, c := range group {
		parts = append(parts, fmt.Sprintf("pid %d (%s)", c.PID, c.Command))
	}
	return strings.Join(parts, ", ")
}

func componentIssues(r domain.ComponentsResult) []domain.Issue {
	var issues []domain.Issue
	for _, kind := range r.Missing {
		meta := componentCatalog[kind]
		issue := domain.Issue{
			ID:          domain.ComponentIssueID{Component: kind},
			Severity:    meta.Severity,
			Category:    domain.CategoryInstallation,
			Title:       meta.Title,
			Description: meta.Description,
			AutoFix:     meta.AutoFix,
			Instruction: meta.Instruction,
		}
		switch kind {
		case domain.ComponentKanataBinary:
			// brew install is only offered when brew itself is present
			if r.IsMissing(domain.ComponentPackageManager) {
				issue.AutoFix = nil
				issue.Instruction = "Install Homebrew first, then install kanata with: brew install kanata"
			}
		case domain.ComponentLaunchdServices:
			fix, desc := launchdServicesRemedy(r.Services)
			issue.AutoFix = fix
			if desc != "" {
				issue.Description = desc
			}
		}
		issues = append(issues, issue)
	}
	return issues
}

func permissionIssues(r domain.PermissionsResult) []domain.Issue {
	var issues []domain.Issue
	for _, check := range r.Missing() {
		issues = append(issues, domain.Issue{
			ID:       domain.PermissionIssueID{Principal: check.Principal, Kind: check.Kind},
			Severity: domain.SeverityError,
			Category: domain.CategoryPermissions,
			Title: fmt.Sprintf("%s needs %s permission",
				principalDisplay[check.Principal], permissionDisplay[check.Kind]),
			Description: fmt.Sprintf("macOS has not granted %s to %s; keyboard events cannot be captured without it.",
				permissionDisplay[check.Kind], principalDisplay[check.Principal]),
			Instruction: permissionInstructions[check.Kind],
		})
	}
	if !r.BackgroundServicesEnabled {
		issues = append(issues, domain.Issue{
			ID: domain.PermissionIssueID{
				Principal: domain.PrincipalGUIApp,
				Kind:      domain.PermissionBackgroundServices,
			},
			Severity:    domain.SeverityError,
			Category:    domain.CategoryBackgroundServices,
			Title:       "Background services are disabled",
			Description: "macOS is blocking the keymend launchd services from running in the background.",
			Instruction: permissionInstructions[domain.PermissionBackgroundServices],
		})
	}
	return issues
}

// daemonIssues appends the synthetic health issues. These are independent of
// the component-level issues: the daemon component can look installed while
// its process is wedged.
func daemonIssues(h domain.HealthResult) []domain.Issue {
	var issues []domain.Issue
	if !h.DaemonHealthy() {
		desc := "The VirtualHIDDevice daemon is not fully operational."
		if h.VHIDDaemonOperational && !h.DriverDaemonHealthy {
			desc = "The DriverKit daemon is not responding."
		}
		issues = append(issues, domain.Issue{
			ID:          domain.DaemonIssueID{Aspect: domain.DaemonAspectNotRunning},
			Severity:    domain.SeverityCritical,
			Category:    domain.CategoryDaemon,
			Title:       "Virtual device daemon is not working",
			Description: desc,
			AutoFix:     action(domain.ActionRestartVHIDDaemon),
		})
	}
	if h.KanataRunning && !h.CommServerResponding {
		issues = append(issues, domain.Issue{
			ID:          domain.DaemonIssueID{Aspect: domain.DaemonAspectCommServer},
			Severity:    domain.SeverityWarning,
			Category:    domain.CategoryDaemon,
			Title:       "Config server is not responding",
			Description: "kanata is running but its TCP config server is not accepting connections.",
			AutoFix:     action(domain.ActionRestartUnhealthyServices),
		})
	}
	return issues
}
