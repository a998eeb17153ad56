package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keymend/keymend/internal/domain"
)

func permissionIssue(principal domain.Principal, kind domain.PermissionKind) domain.Issue {
	return domain.Issue{
		ID:       domain.PermissionIssueID{Principal: principal, Kind: kind},
		Category: domain.CategoryPermissions,
	}
}

func componentIssue(kind domain.ComponentKind) domain.Issue {
	return domain.Issue{
		ID:       domain.ComponentIssueID{Component: kind},
		Category: domain.CategoryInstallation,
	}
}

func daemonIssue(aspect domain.DaemonAspect) domain.Issue {
	return domain.Issue{
		ID:       domain.DaemonIssueID{Aspect: aspect},
		Category: domain.CategoryDaemon,
	}
}

func conflictIssue() domain.Issue {
	return domain.Issue{
		ID:       domain.ConflictIssueID{Kind: domain.ConflictKarabinerGrabber},
		Category: domain.CategoryConflicts,
	}
}

func bgServicesIssue() domain.Issue {
	return domain.Issue{
		ID:       domain.PermissionIssueID{Kind: domain.PermissionBackgroundServices},
		Category: domain.CategoryBackgroundServices,
	}
}

func blocked(kind domain.SystemStateKind) domain.SystemState {
	return domain.SystemState{Kind: kind}
}

// TestRoute_FullDiskAccessShownOncePerRun verifies the informational page
// appears exactly once, then routing falls through to the real target.
func TestRoute_FullDiskAccessShownOncePerRun(t *testing.T) {
	r := NewRouter()
	state := blocked(domain.StateConflictsDetected)
	issues := []domain.Issue{conflictIssue()}

	first := r.Route(domain.PageSummary, state, issues)
	second := r.Route(first, state, issues)
	third := r.Route(second, state, issues)

	assert.Equal(t, domain.PageFullDiskAccess, first)
	assert.Equal(t, domain.PageConflicts, second)
	assert.Equal(t, domain.PageConflicts, third)
}

// TestRoute_ActiveSystemSkipsFullDiskAccess verifies a run that starts
// healthy goes straight to the summary, but keeps the informational page in
// reserve for a later regression.
func TestRoute_ActiveSystemSkipsFullDiskAccess(t *testing.T) {
	r := NewRouter()

	page := r.Route(domain.PageSummary, blocked(domain.StateActive), nil)
	assert.Equal(t, domain.PageSummary, page)

	page = r.Route(page, blocked(domain.StateConflictsDetected), []domain.Issue{conflictIssue()})
	assert.Equal(t, domain.PageFullDiskAccess, page)
}

// TestRoute_RuleOrder verifies the fixed precedence between issue families:
// each row stacks the issue under test on top of everything lower priority.
func TestRoute_RuleOrder(t *testing.T) {
	lower := []domain.Issue{
		permissionIssue(domain.PrincipalKanata, domain.PermissionInputMonitoring),
		permissionIssue(domain.PrincipalGUIApp, domain.PermissionAccessibility),
		daemonIssue(domain.DaemonAspectCommServer),
		componentIssue(domain.ComponentKanataBinary),
	}

	tests := []struct {
		name   string
		issues []domain.Issue
		want   domain.WizardPage
	}{
		{
			name:   "conflicts beat everything",
			issues: append([]domain.Issue{conflictIssue()}, lower...),
			want:   domain.PageConflicts,
		},
		{
			name:   "input monitoring beats accessibility",
			issues: lower,
			want:   domain.PageInputMonitoring,
		},
		{
			name:   "accessibility beats communication",
			issues: lower[1:],
			want:   domain.PageAccessibility,
		},
		{
			name:   "communication beats components",
			issues: lower[2:],
			want:   domain.PageCommunication,
		},
		{
			name:   "components beat service",
			issues: lower[3:],
			want:   domain.PageKanataComponents,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Router{fdaShown: true}
			got := r.Route(domain.PageSummary, blocked(domain.StateConflictsDetected), tt.issues)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestRoute_ComponentFamilySplit verifies driver-stack problems land on the
// Karabiner page and tool-stack problems on the kanata page, with the driver
// stack winning when both are present.
func TestRoute_ComponentFamilySplit(t *testing.T) {
	tests := []struct {
		name   string
		issues []domain.Issue
		want   domain.WizardPage
	}{
		{"driver missing", []domain.Issue{componentIssue(domain.ComponentVHIDDriver)}, domain.PageKarabinerComponents},
		{"driver not activated", []domain.Issue{componentIssue(domain.ComponentVHIDDriverActivated)}, domain.PageKarabinerComponents},
		{"virtual device daemon missing", []domain.Issue{componentIssue(domain.ComponentVHIDDaemon)}, domain.PageKarabinerComponents},
		{"daemon not running", []domain.Issue{daemonIssue(domain.DaemonAspectNotRunning)}, domain.PageKarabinerComponents},
		{"package manager missing", []domain.Issue{componentIssue(domain.ComponentPackageManager)}, domain.PageKanataComponents},
		{"binary missing", []domain.Issue{componentIssue(domain.ComponentKanataBinary)}, domain.PageKanataComponents},
		{"launchd services missing", []domain.Issue{componentIssue(domain.ComponentLaunchdServices)}, domain.PageKanataComponents},
		{
			name: "driver stack wins over tool stack",
			issues: []domain.Issue{
				componentIssue(domain.ComponentKanataBinary),
				componentIssue(domain.ComponentVHIDDaemon),
			},
			want: domain.PageKarabinerComponents,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Router{fdaShown: true}
			got := r.Route(domain.PageSummary, blocked(domain.StateMissingComponents), tt.issues)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestRoute_ServicePage verifies the three ways to land on the service page.
func TestRoute_ServicePage(t *testing.T) {
	tests := []struct {
		name   string
		state  domain.SystemState
		issues []domain.Issue
	}{
		{"service not running", blocked(domain.StateServiceNotRunning), nil},
		{"ready to start", blocked(domain.StateReady), nil},
		{"background services disabled", blocked(domain.StateMissingPermissions), []domain.Issue{bgServicesIssue()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Router{fdaShown: true}
			got := r.Route(domain.PageSummary, tt.state, tt.issues)
			assert.Equal(t, domain.PageService, got)
		})
	}
}

// TestRoute_HealthySystemLandsOnSummary verifies the fallthrough.
func TestRoute_HealthySystemLandsOnSummary(t *testing.T) {
	r := &Router{fdaShown: true}
	got := r.Route(domain.PageConflicts, blocked(domain.StateActive), nil)
	assert.Equal(t, domain.PageSummary, got)
}

// TestRoute_StableUnderRefeed verifies routing ignores the current page:
// feeding the returned page back yields the same answer.
func TestRoute_StableUnderRefeed(t *testing.T) {
	r := &Router{fdaShown: true}
	state := blocked(domain.StateMissingPermissions)
	issues := []domain.Issue{permissionIssue(domain.PrincipalKanata, domain.PermissionInputMonitoring)}

	first := r.Route(domain.PageSummary, state, issues)
	second := r.Route(first, state, issues)

	assert.Equal(t, first, second)
	assert.Equal(t, domain.PageInputMonitoring, first)
}
