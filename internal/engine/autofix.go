package engine

import "github.com/keymend/keymend/internal/domain"

// installFamily groups the actions that set up a missing component, as
// opposed to restarting one that exists. When two or more of these fire at
// once they collapse into a single install-missing-components action.
var installFamily = map[domain.AutoFixAction]bool{
	domain.ActionInstallViaBrew:         true,
	domain.ActionInstallLaunchdServices: true,
	domain.ActionActivateVHIDDriver:     true,
}

// Recommend derives the ordered auto-fix list from a snapshot. The order
// mirrors Synthesize: conflicts, then installation (including the orphan
// decision), then daemon health, then service-level repairs. Each action
// appears at most once; every recommended action is safe to run blind,
// meaning reversible, idempotent and touching no user data.
func Recommend(snap domain.SystemSnapshot) []domain.AutoFixAction {
	r := &recommender{seen: make(map[domain.AutoFixAction]bool)}
	r.conflicts(snap.Conflicts)
	r.components(snap.Components)
	r.daemon(snap)
	r.service(snap)
	return r.actions
}

type recommender struct {
	actions []domain.AutoFixAction
	seen    map[domain.AutoFixAction]bool
}

func (r *recommender) add(a domain.AutoFixAction) {
	if r.seen[a] {
		return
	}
	r.seen[a] = true
	r.actions = append(r.actions, a)
}

func (r *recommender) conflicts(c domain.ConflictsResult) {
	if c.HasConflicts() && c.CanAutoResolve {
		r.add(domain.ActionTerminateConflicts)
	}
}

func (r *recommender) components(c domain.ComponentsResult) {
	if c.Orphan.Detected() {
		switch DecideOrphan(c.Orphan) {
		case domain.OrphanAdopt:
			r.add(domain.ActionAdoptOrphanedProcess)
		case domain.OrphanReplace:
			r.add(domain.ActionReplaceOrphanedProcess)
		}
	}

	var fixable []domain.AutoFixAction
	for _, kind := range c.Missing {
		switch kind {
		case domain.ComponentKanataBinary:
			if c.IsMissing(domain.ComponentPackageManager) {
				continue // nothing to install with
			}
			fixable = append(fixable, domain.ActionInstallViaBrew)
		case domain.ComponentLaunchdServices:
			if fix, _ := launchdServicesRemedy(c.Services); fix != nil {
				fixable = append(fixable, *fix)
			}
		default:
			if meta := componentCatalog[kind]; meta.AutoFix != nil {
				fixable = append(fixable, *meta.AutoFix)
			}
		}
	}
	installs := 0
	for _, a := range fixable {
		if installFamily[a] {
			installs++
		}
	}
	if installs > 1 {
		r.add(domain.ActionInstallMissingComponents)
	}
	for _, a := range fixable {
		if installs > 1 && installFamily[a] {
			continue
		}
		r.add(a)
	}

	// plist drift and config divergence are repairable even when every
	// component is nominally present
	for _, id := range domain.ManagedServices() {
		if st := c.Services[id]; st.Installed && st.NeedsRepair {
			r.add(domain.ActionRepairLaunchdServices)
			break
		}
	}
	if c.ExpectedConfigPath != "" {
		st := c.Services[domain.ServiceKanata]
		if st.ConfigPath != "" && st.ConfigPath != c.ExpectedConfigPath {
			r.add(domain.ActionSynchronizeConfigPaths)
		}
	}
}

func (r *recommender) daemon(snap domain.SystemSnapshot) {
	if !snap.Components.AllInstalled() {
		// restarting a daemon whose driver is missing cannot help
		return
	}
	if !snap.Health.DaemonHealthy() {
		r.add(domain.ActionRestartVHIDDaemon)
	}
}

// service recommends the kanata-level fix, but only once nothing upstream is
// blocking and only outside the post-restart grace window, so a service that
// was just kicked is left alone to come up.
func (r *recommender) service(snap domain.SystemSnapshot) {
	blocked := snap.Conflicts.HasConflicts() ||
		!snap.Components.AllInstalled() ||
		!snap.Permissions.AllGranted() ||
		!snap.Health.DaemonHealthy()
	if blocked {
		return
	}
	kanata := snap.Components.Services[domain.ServiceKanata]
	if kanata.RecentlyRestarted {
		return
	}
	switch {
	case !snap.Health.KanataRunning:
		r.add(domain.ActionStartKanataService)
	case !snap.Health.KanataFunctional, !snap.Health.CommServerResponding:
		r.add(domain.ActionRestartUnhealthyServices)
	}
}
