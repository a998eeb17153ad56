package probe

// Karabiner VirtualHIDDevice artifacts. The hidden manager app ships with
// the driver package; the daemon lives under the org.pqrs support tree.
const (
	vhidManagerApp      = "/Applications/.Karabiner-VirtualHIDDevice-Manager.app"
	vhidManagerInfoPath = vhidManagerApp + "/Contents/Info.plist"
	vhidDaemonBin       = "/Library/Application Support/org.pqrs/Karabiner-DriverKit-VirtualHIDDevice/Applications/Karabiner-VirtualHIDDevice-Daemon.app/Contents/MacOS/Karabiner-VirtualHIDDevice-Daemon"

	driverExtensionID = "org.pqrs.Karabiner-DriverKit-VirtualHIDDevice"
)

// VHIDManagerBin runs driver extension activation; the remediation executor
// invokes it directly with the activate verb.
const VHIDManagerBin = vhidManagerApp + "/Contents/MacOS/Karabiner-VirtualHIDDevice-Manager"

// Process names observed via the process list.
const (
	kanataProcessName       = "kanata"
	karabinerGrabberName    = "karabiner_grabber"
	karabinerAppName        = "Karabiner-Elements"
	vhidDaemonProcessName   = "Karabiner-VirtualHIDDevice-Daemon"
	driverDaemonProcessName = "Karabiner-DriverKit-VirtualHIDDevice"
)

// keymendBundleID is the TCC client identifier for the GUI app principal.
const keymendBundleID = "com.keymend.app"

var brewPaths = []string{
	"/opt/homebrew/bin/brew",
	"/usr/local/bin/brew",
}

var kanataPaths = []string{
	"/opt/homebrew/bin/kanata",
	"/usr/local/bin/kanata",
}

// DiscoverKanata returns the kanata binary path: the override when set and
// present, otherwise the first Homebrew location that exists, otherwise
// empty.
func DiscoverKanata(checker FileChecker, override string) string {
	if override != "" {
		if checker.Exists(override) {
			return override
		}
		return ""
	}
	for _, p := range kanataPaths {
		if checker.Exists(p) {
			return p
		}
	}
	return ""
}

// DiscoverBrew returns the brew binary path, or empty when not installed.
func DiscoverBrew(checker FileChecker) string {
	for _, p := range brewPaths {
		if checker.Exists(p) {
			return p
		}
	}
	return ""
}
