package engine

import "github.com/keymend/keymend/internal/domain"

// Synthesize reduces a snapshot to the single highest-priority state. The
// order is fixed: a live conflict makes component work pointless, missing
// components make permission prompts pointless, and missing permissions make
// health readings unreliable. Exactly one state holds per pass.
func Synthesize(snap domain.SystemSnapshot) domain.SystemState {
	if !snap.Compatibility.Compatible {
		return domain.SystemState{Kind: domain.StateInitializing}
	}
	if snap.Conflicts.HasConflicts() {
		return domain.SystemState{
			Kind:      domain.StateConflictsDetected,
			Conflicts: snap.Conflicts.Conflicts,
		}
	}
	if !snap.Components.AllInstalled() {
		return domain.SystemState{
			Kind:              domain.StateMissingComponents,
			MissingComponents: snap.Components.Missing,
		}
	}
	if !snap.Permissions.AllGranted() {
		return domain.SystemState{
			Kind:               domain.StateMissingPermissions,
			MissingPermissions: missingPermissions(snap.Permissions),
		}
	}
	if !snap.Health.DaemonHealthy() {
		return domain.SystemState{Kind: domain.StateDaemonNotRunning}
	}
	kanata := snap.Components.Services[domain.ServiceKanata]
	if !snap.Health.KanataFunctional && !kanata.RecentlyRestarted {
		return domain.SystemState{Kind: domain.StateServiceNotRunning}
	}
	if snap.Health.KanataRunning && snap.Health.KanataFunctional {
		return domain.SystemState{Kind: domain.StateActive}
	}
	// Either the service was just restarted and is still coming up, or
	// everything is in place and kanata simply has not been started.
	return domain.SystemState{Kind: domain.StateReady}
}

// missingPermissions builds the state payload: every failed per-principal
// check plus a synthetic entry when background services are disabled.
func missingPermissions(r domain.PermissionsResult) []domain.PermissionCheck {
	missing := r.Missing()
	if !r.BackgroundServicesEnabled {
		missing = append(missing, domain.PermissionCheck{
			Principal: domain.PrincipalGUIApp,
			Kind:      domain.PermissionBackgroundServices,
		})
	}
	return missing
}
