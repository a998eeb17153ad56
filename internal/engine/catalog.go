package engine

import (
	"sort"
	"strings"

	"github.com/keymend/keymend/internal/domain"
)

func action(a domain.AutoFixAction) *domain.AutoFixAction { return &a }

// componentMeta drives the issue text and the default remediation for one
// component kind. A nil AutoFix means the user has to act manually and
// Instruction tells them how.
type componentMeta struct {
	Title       string
	Severity    domain.IssueSeverity
	AutoFix     *domain.AutoFixAction
	Instruction string
	Description string
}

var componentCatalog = map[domain.ComponentKind]componentMeta{
	domain.ComponentPackageManager: {
		Title:       "Homebrew is not installed",
		Severity:    domain.SeverityError,
		Instruction: "Install Homebrew from https://brew.sh, then run the setup again.",
		Description: "Homebrew is needed to install and upgrade the kanata binary.",
	},
	domain.ComponentKanataBinary: {
		Title:       "kanata is not installed",
		Severity:    domain.SeverityError,
		AutoFix:     action(domain.ActionInstallViaBrew),
		Description: "The kanata remapping binary was not found on this system.",
	},
	domain.ComponentVHIDDriver: {
		Title:       "Keyboard driver is not installed",
		Severity:    domain.SeverityCritical,
		Instruction: "Download the Karabiner-DriverKit-VirtualHIDDevice package, install it, then approve the extension under System Settings, Privacy & Security.",
		Description: "The virtual keyboard driver that kanata types through is missing.",
	},
	domain.ComponentVHIDDriverActivated: {
		Title:       "Keyboard driver is not activated",
		Severity:    domain.SeverityCritical,
		AutoFix:     action(domain.ActionActivateVHIDDriver),
		Description: "The virtual keyboard driver is installed but its system extension has not been activated.",
	},
	domain.ComponentVHIDDaemon: {
		Title:       "Virtual device daemon is not running",
		Severity:    domain.SeverityError,
		AutoFix:     action(domain.ActionRestartVHIDDaemon),
		Description: "The VirtualHIDDevice daemon is not running or reported itself unhealthy.",
	},
	domain.ComponentLaunchdServices: {
		Title:       "Background services are not set up",
		Severity:    domain.SeverityError,
		AutoFix:     action(domain.ActionInstallLaunchdServices),
		Description: "The keymend launchd services are not all installed, loaded and running cleanly.",
	},
}

// conflictMeta drives the grouped conflict issues. Instruction is shown only
// when the conflict cannot be auto-resolved.
type conflictMeta struct {
	Title       string
	Instruction string
}

var conflictCatalog = map[domain.ConflictKind]conflictMeta{
	domain.ConflictKarabinerGrabber: {
		Title:       "Karabiner Elements is grabbing the keyboard",
		Instruction: "Quit Karabiner Elements from its menu bar icon, or uninstall it if you no longer use it, then run the setup again.",
	},
	domain.ConflictExternalKanata: {
		Title:       "Another kanata instance is running",
		Instruction: "Stop the other kanata process, then run the setup again.",
	},
}

// Permissions can never be granted programmatically; each kind maps to the
// System Settings steps that grant it.
var permissionInstructions = map[domain.PermissionKind]string{
	domain.PermissionInputMonitoring:    "Open System Settings, Privacy & Security, Input Monitoring, and enable the listed program. After an upgrade you may need to remove and re-add it.",
	domain.PermissionAccessibility:      "Open System Settings, Privacy & Security, Accessibility, and enable the listed program.",
	domain.PermissionBackgroundServices: "Open System Settings, General, Login Items & Extensions, and allow Keymend to run in the background.",
}

var principalDisplay = map[domain.Principal]string{
	domain.PrincipalGUIApp: "Keymend",
	domain.PrincipalKanata: "kanata",
}

var permissionDisplay = map[domain.PermissionKind]string{
	domain.PermissionInputMonitoring:    "Input Monitoring",
	domain.PermissionAccessibility:      "Accessibility",
	domain.PermissionBackgroundServices: "background services",
}

// launchdServicesRemedy picks the fix for the launchd-services component:
// install when any entry is missing from launchd, restart when every entry
// is present but one is unhealthy past its warm-up window. The second return
// value names the unhealthy services for the issue description.
func launchdServicesRemedy(services map[domain.ServiceID]domain.ServiceStatus) (*domain.AutoFixAction, string) {
	if len(services) == 0 {
		return action(domain.ActionInstallLaunchdServices), ""
	}
	allLoaded := true
	var unhealthy []string
	for _, id := range domain.ManagedServices() {
		st := services[id]
		if !st.Installed || !st.Loaded {
			allLoaded = false
		} else if !st.Healthy && !st.WarmingUp() {
			unhealthy = append(unhealthy, string(id))
		}
	}
	if !allLoaded {
		return action(domain.ActionInstallLaunchdServices), ""
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		return action(domain.ActionRestartUnhealthyServices),
			"Services not running cleanly: " + strings.Join(unhealthy, ", ") + "."
	}
	return action(domain.ActionInstallLaunchdServices), ""
}
