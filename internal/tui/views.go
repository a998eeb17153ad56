package tui

import (
	"fmt"
	"strings"

	"github.com/keymend/keymend/internal/domain"
)

var pageTitles = map[domain.WizardPage]string{
	domain.PageSummary:             "Summary",
	domain.PageFullDiskAccess:      "Full Disk Access",
	domain.PageConflicts:           "Keyboard Conflicts",
	domain.PageInputMonitoring:     "Input Monitoring",
	domain.PageAccessibility:       "Accessibility",
	domain.PageCommunication:       "Config Server",
	domain.PageKarabinerComponents: "Karabiner Driver Stack",
	domain.PageKanataComponents:    "Kanata Installation",
	domain.PageService:             "Keyboard Service",
}

func (m Model) render() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.styles.PageName.Render(pageTitles[m.page]))
	b.WriteString("\n\n")
	b.WriteString(m.renderPage())

	if len(m.outcomes) > 0 {
		b.WriteString("\n")
		b.WriteString(m.renderOutcomes())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	state := m.result.State
	badge := m.styles.stateStyle(state.Kind).Render("[" + state.String() + "]")
	title := m.styles.Title.Render("keymend setup")

	pad := m.width - lenVisible(title) - lenVisible(badge)
	if pad < 1 {
		pad = 1
	}
	return title + strings.Repeat(" ", pad) + badge
}

// lenVisible is the printed width ignoring style escapes. Styles here only
// color, never pad, so the unstyled text length is the printed width.
func lenVisible(styled string) int {
	n := 0
	inEscape := false
	for _, r := range styled {
		switch {
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			n++
		}
	}
	return n
}

func (m Model) renderPage() string {
	switch m.page {
	case domain.PageFullDiskAccess:
		return m.renderFullDiskAccess()
	case domain.PageConflicts:
		return m.renderConflicts()
	case domain.PageInputMonitoring:
		return m.renderPermissionPage(domain.PermissionInputMonitoring)
	case domain.PageAccessibility:
		return m.renderPermissionPage(domain.PermissionAccessibility)
	case domain.PageCommunication:
		return m.renderCommunication()
	case domain.PageKarabinerComponents, domain.PageKanataComponents:
		return m.renderComponents()
	case domain.PageService:
		return m.renderService()
	default:
		return m.renderSummary()
	}
}

func (m Model) renderFullDiskAccess() string {
	var b strings.Builder
	b.WriteString(m.styles.Body.Render(
		"keymend reads the macOS permission database (TCC) to tell which\n" +
			"permissions are already granted. That read needs Full Disk Access\n" +
			"for the terminal running keymend."))
	b.WriteString("\n\n")
	b.WriteString(m.styles.Body.Render(
		"System Settings > Privacy & Security > Full Disk Access"))
	b.WriteString("\n\n")
	b.WriteString(m.styles.Muted.Render(
		"Skipping is fine: without it every permission shows as missing and\n" +
			"the wizard walks you through granting each one."))
	b.WriteString("\n")

	if !m.result.Snapshot.Permissions.TCCReadable {
		b.WriteString("\n")
		b.WriteString(m.styles.Severity[domain.SeverityWarning].Render(
			"The permission database is not readable right now."))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderConflicts() string {
	var b strings.Builder
	conflicts := m.result.Snapshot.Conflicts

	b.WriteString(m.styles.Body.Render(
		"Another program is holding the keyboard. It has to stop before the\n" +
			"remapper can grab keys."))
	b.WriteString("\n\n")

	for _, c := range conflicts.Conflicts {
		line := fmt.Sprintf("  %s  pid %d  %s", c.Kind, c.PID, c.Command)
		b.WriteString(m.styles.Severity[domain.SeverityCritical].Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if conflicts.CanAutoResolve {
		b.WriteString(m.styles.Body.Render("Press enter to stop these processes."))
	} else {
		for _, is := range issuesInCategory(m.result.Issues, domain.CategoryConflicts) {
			if is.Instruction != "" {
				b.WriteString(m.styles.Body.Render(is.Instruction))
				b.WriteString("\n")
			}
		}
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderPermissionPage(kind domain.PermissionKind) string {
	var b strings.Builder

	for _, is := range permissionIssuesOfKind(m.result.Issues, kind) {
		b.WriteString(m.styles.Severity[is.Severity].Render("  " + is.Title))
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render("  " + is.Description))
		b.WriteString("\n")
		if is.Instruction != "" {
			b.WriteString(m.styles.Body.Render("  " + is.Instruction))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Muted.Render(
		"The wizard re-checks every few seconds; it moves on by itself once\n" +
			"the permission is granted."))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderCommunication() string {
	var b strings.Builder
	for _, is := range m.result.Issues {
		id, ok := is.ID.(domain.DaemonIssueID)
		if !ok || id.Aspect != domain.DaemonAspectCommServer {
			continue
		}
		b.WriteString(m.styles.Severity[is.Severity].Render("  " + is.Title))
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render("  " + is.Description))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.styles.Body.Render("Press enter to restart the service."))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderComponents() string {
	var b strings.Builder

	for _, is := range m.result.Issues {
		if !onComponentPage(is, m.page) {
			continue
		}
		b.WriteString(m.styles.Severity[is.Severity].Render("  " + is.Title))
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render("  " + is.Description))
		b.WriteString("\n")
		switch {
		case is.AutoFix != nil:
			b.WriteString(m.styles.Success.Render("  fixable: " + is.AutoFix.String()))
		case is.Instruction != "":
			b.WriteString(m.styles.Body.Render("  " + is.Instruction))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m Model) renderService() string {
	var b strings.Builder
	services := m.result.Snapshot.Components.Services

	for _, id := range domain.ManagedServices() {
		st := services[id]
		var status string
		switch {
		case st.Healthy:
			status = m.styles.Success.Render("running")
		case st.WarmingUp():
			status = m.styles.Severity[domain.SeverityWarning].Render("starting")
		case st.Loaded:
			status = m.styles.Severity[domain.SeverityWarning].Render("loaded, not healthy")
		case st.Installed:
			status = m.styles.Failure.Render("not loaded")
		default:
			status = m.styles.Failure.Render("not installed")
		}
		b.WriteString(fmt.Sprintf("  %-28s %s\n", string(id), status))
	}

	for _, is := range issuesInCategory(m.result.Issues, domain.CategoryBackgroundServices) {
		b.WriteString("\n")
		b.WriteString(m.styles.Severity[is.Severity].Render("  " + is.Title))
		b.WriteString("\n")
		if is.Instruction != "" {
			b.WriteString(m.styles.Body.Render("  " + is.Instruction))
			b.WriteString("\n")
		}
	}

	if len(m.result.Actions) > 0 {
		b.WriteString("\n")
		b.WriteString(m.styles.Body.Render("Press enter to start the keyboard service."))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderSummary() string {
	var b strings.Builder

	if m.result.State.Kind == domain.StateActive {
		b.WriteString(m.styles.StateGood.Render("  Your keyboard remapping is active."))
		b.WriteString("\n\n")
		b.WriteString(m.styles.Muted.Render("  Press enter or q to leave the wizard."))
		b.WriteString("\n")
		return b.String()
	}

	if len(m.result.Issues) == 0 {
		b.WriteString(m.styles.Body.Render("  No issues found."))
		b.WriteString("\n")
		return b.String()
	}

	for _, is := range m.result.Issues {
		b.WriteString(m.styles.Severity[is.Severity].Render(fmt.Sprintf("  [%s] %s", is.Severity, is.Title)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderOutcomes() string {
	var b strings.Builder
	for _, o := range m.outcomes {
		if o.Success {
			b.WriteString(m.styles.Success.Render(fmt.Sprintf("  ✓ %s", o.Action)))
		} else {
			b.WriteString(m.styles.Failure.Render(fmt.Sprintf("  ✗ %s: %s", o.Action, o.Reason)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderFooter() string {
	var b strings.Builder

	switch {
	case m.fixing:
		b.WriteString(m.spinner.View())
		b.WriteString(m.styles.Muted.Render(" applying fixes..."))
	case m.checking:
		b.WriteString(m.spinner.View())
		b.WriteString(m.styles.Muted.Render(" checking..."))
	case m.checkErr != nil:
		b.WriteString(m.styles.Failure.Render("check failed: " + m.checkErr.Error()))
	default:
		b.WriteString(m.styles.Muted.Render("checked " + m.lastChecked.Format("15:04:05")))
	}

	b.WriteString("\n")
	hints := "enter: continue"
	if m.result != nil && len(m.result.Actions) > 0 {
		hints = fmt.Sprintf("enter: apply %d fixes", len(m.result.Actions))
	}
	b.WriteString(m.styles.KeyHint.Render(hints + "  r: re-check  q: quit"))
	return b.String()
}

func issuesInCategory(issues []domain.Issue, cat domain.IssueCategory) []domain.Issue {
	var out []domain.Issue
	for _, is := range issues {
		if is.Category == cat {
			out = append(out, is)
		}
	}
	return out
}

func permissionIssuesOfKind(issues []domain.Issue, kind domain.PermissionKind) []domain.Issue {
	var out []domain.Issue
	for _, is := range issues {
		if id, ok := is.ID.(domain.PermissionIssueID); ok && id.Kind == kind {
			out = append(out, is)
		}
	}
	return out
}

// onComponentPage reports whether an issue belongs on the given component
// page, mirroring how the router splits the two component families.
func onComponentPage(is domain.Issue, page domain.WizardPage) bool {
	switch id := is.ID.(type) {
	case domain.ComponentIssueID:
		switch id.Component {
		case domain.ComponentVHIDDriver, domain.ComponentVHIDDriverActivated, domain.ComponentVHIDDaemon:
			return page == domain.PageKarabinerComponents
		default:
			return page == domain.PageKanataComponents
		}
	case domain.DaemonIssueID:
		return page == domain.PageKarabinerComponents && id.Aspect == domain.DaemonAspectNotRunning
	}
	return false
}
