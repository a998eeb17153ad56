package engine

import (
	"time"

	"github.com/keymend/keymend/internal/domain"
)

const testConfigPath = "/Users/me/.config/keymend/keymend.kbd"

// healthySnapshot describes a fully working setup. Tests start from it and
// break exactly the thing under test.
func healthySnapshot() domain.SystemSnapshot {
	return domain.SystemSnapshot{
		Timestamp:   time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Permissions: grantedPermissions(),
		Components:  installedComponents(),
		Conflicts:   domain.ConflictsResult{CanAutoResolve: true},
		Health: domain.HealthResult{
			KanataRunning:         true,
			KanataFunctional:      true,
			VHIDDaemonOperational: true,
			DriverDaemonHealthy:   true,
			CommServerResponding:  true,
		},
		Compatibility: domain.CompatibilityResult{
			Compatible:    true,
			OSVersion:     "15.3.1",
			DriverVersion: "5.0.0",
		},
	}
}

func grantedPermissions() domain.PermissionsResult {
	return domain.PermissionsResult{
		Checks: []domain.PermissionCheck{
			{Principal: domain.PrincipalGUIApp, Kind: domain.PermissionInputMonitoring, Granted: true},
			{Principal: domain.PrincipalGUIApp, Kind: domain.PermissionAccessibility, Granted: true},
			{Principal: domain.PrincipalKanata, Kind: domain.PermissionInputMonitoring, Granted: true},
			{Principal: domain.PrincipalKanata, Kind: domain.PermissionAccessibility, Granted: true},
		},
		BackgroundServicesEnabled: true,
		TCCReadable:               true,
	}
}

func installedComponents() domain.ComponentsResult {
	present := make(map[domain.ComponentKind]bool)
	for _, kind := range domain.RequiredComponents() {
		present[kind] = true
	}
	r := domain.NewComponentsResult(present, healthyServices())
	r.ExpectedConfigPath = testConfigPath
	return r
}

func healthyServices() map[domain.ServiceID]domain.ServiceStatus {
	services := make(map[domain.ServiceID]domain.ServiceStatus)
	for _, id := range domain.ManagedServices() {
		st := domain.ServiceStatus{ID: id, Installed: true, Loaded: true, Healthy: true, PID: 500 + len(services)}
		if id == domain.ServiceKanata {
			st.ConfigPath = testConfigPath
		}
		services[id] = st
	}
	return services
}

// withMissing rebuilds the component result with the given kinds absent.
func withMissing(kinds ...domain.ComponentKind) domain.ComponentsResult {
	missing := make(map[domain.ComponentKind]bool)
	for _, k := range kinds {
		missing[k] = true
	}
	present := make(map[domain.ComponentKind]bool)
	for _, kind := range domain.RequiredComponents() {
		present[kind] = !missing[kind]
	}
	r := domain.NewComponentsResult(present, healthyServices())
	r.ExpectedConfigPath = testConfigPath
	return r
}

func grabberConflict(pid int) domain.Conflict {
	return domain.Conflict{
		Kind:    domain.ConflictKarabinerGrabber,
		PID:     pid,
		Command: "/Library/Application Support/org.pqrs/Karabiner-Elements/bin/karabiner_grabber",
	}
}

func revokePermission(r domain.PermissionsResult, principal domain.Principal, kind domain.PermissionKind) domain.PermissionsResult {
	for i, c := range r.Checks {
		if c.Principal == principal && c.Kind == kind {
			r.Checks[i].Granted = false
		}
	}
	return r
}
