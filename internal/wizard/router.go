// Package wizard decides which setup page to show for a reconciliation
// result. Routing is a pure function of the latest result, with one
// exception: the informational full-disk-access page is shown at most once
// per run.
package wizard

import "github.com/keymend/keymend/internal/domain"

// Router picks the next wizard page. Construct a fresh Router per run.
type Router struct {
	fdaShown bool
}

// NewRouter returns a router that has not yet shown the full-disk-access
// page.
func NewRouter() *Router { return &Router{} }

// Route returns the page to show next. Rules apply in a fixed order so the
// page never contradicts the headline state: conflicts, then permission
// grants, then the config server, then component installation, then service
// start. The current page never influences the target, which keeps routing
// stable: feeding the returned page back in yields the same answer.
func (r *Router) Route(current domain.WizardPage, state domain.SystemState, issues []domain.Issue) domain.WizardPage {
	if !r.fdaShown && state.Kind != domain.StateActive {
		r.fdaShown = true
		return domain.PageFullDiskAccess
	}
	if hasCategory(issues, domain.CategoryConflicts) {
		return domain.PageConflicts
	}
	if hasPermissionIssue(issues, domain.PermissionInputMonitoring) {
		return domain.PageInputMonitoring
	}
	if hasPermissionIssue(issues, domain.PermissionAccessibility) {
		return domain.PageAccessibility
	}
	if hasDaemonAspect(issues, domain.DaemonAspectCommServer) {
		return domain.PageCommunication
	}
	if page, ok := componentPage(issues); ok {
		return page
	}
	if state.Kind == domain.StateServiceNotRunning || state.Kind == domain.StateReady ||
		hasCategory(issues, domain.CategoryBackgroundServices) {
		return domain.PageService
	}
	return domain.PageSummary
}

func hasCategory(issues []domain.Issue, cat domain.IssueCategory) bool {
	for _, i := range issues {
		if i.Category == cat {
			return true
		}
	}
	return false
}

func hasPermissionIssue(issues []domain.Issue, kind domain.PermissionKind) bool {
	for _, i := range issues {
		if id, ok := i.ID.(domain.PermissionIssueID); ok && id.Kind == kind {
			return true
		}
	}
	return false
}

func hasDaemonAspect(issues []domain.Issue, aspect domain.DaemonAspect) bool {
	for _, i := range issues {
		if id, ok := i.ID.(domain.DaemonIssueID); ok && id.Aspect == aspect {
			return true
		}
	}
	return false
}

// componentPage maps installation and daemon issues onto the two component
// pages. The Karabiner page (driver, driver activation, virtual device
// daemon) wins over the kanata page: the driver stack is the deeper
// prerequisite.
func componentPage(issues []domain.Issue) (domain.WizardPage, bool) {
	var karabiner, kanata bool
	for _, i := range issues {
		switch id := i.ID.(type) {
		case domain.ComponentIssueID:
			switch id.Component {
			case domain.ComponentVHIDDriver, domain.ComponentVHIDDriverActivated, domain.ComponentVHIDDaemon:
				karabiner = true
			case domain.ComponentPackageManager, domain.ComponentKanataBinary, domain.ComponentLaunchdServices:
				kanata = true
			}
		case domain.DaemonIssueID:
			if id.Aspect == domain.DaemonAspectNotRunning {
				karabiner = true
			}
		}
	}
	switch {
	case karabiner:
		return domain.PageKarabinerComponents, true
	case kanata:
		return domain.PageKanataComponents, true
	}
	return "", false
}
