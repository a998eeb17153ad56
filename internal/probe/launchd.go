package probe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"
	"howett.net/plist"

	"github.com/keymend/keymend/internal/config"
	"github.com/keymend/keymend/internal/domain"
)

const launchDaemonsDir = "/Library/LaunchDaemons"

// restartGraceWindow is how long after a restart a service may report
// unhealthy before that counts against it. Kanata takes a few seconds to
// open devices and connect to the virtual HID daemon.
const restartGraceWindow = 30 * time.Second

// launchDaemonTemplate renders the system daemon plists. KeepAlive is off
// for the one-shot activation manager and crash-only for the daemons.
const launchDaemonTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
{{- range .ProgramArguments}}
        <string>{{.}}</string>
{{- end}}
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
{{- if .KeepAlive}}
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>
{{- else}}
    <false/>
{{- end}}

    <key>StandardOutPath</key>
    <string>{{.StdoutPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.StderrPath}}</string>

    <key>ProcessType</key>
    <string>Interactive</string>
</dict>
</plist>`

// serviceDefinition is what the plist template renders from.
type serviceDefinition struct {
	Label            string
	ProgramArguments []string
	KeepAlive        bool
	StdoutPath       string
	StderrPath       string
}

// serviceDefinitions builds the canonical definition of every managed
// service from the app config and the resolved kanata binary.
func serviceDefinitions(cfg config.Config, kanataBinary string) map[domain.ServiceID]serviceDefinition {
	return map[domain.ServiceID]serviceDefinition{
		domain.ServiceKanata: {
			Label: string(domain.ServiceKanata),
			ProgramArguments: []string{
				kanataBinary,
				"--cfg", cfg.KanataConfig,
				"--port", strconv.Itoa(cfg.TCPPort),
			},
			KeepAlive:  true,
			StdoutPath: cfg.KanataStdoutLog(),
			StderrPath: cfg.KanataStderrLog(),
		},
		domain.ServiceVHIDDaemon: {
			Label:            string(domain.ServiceVHIDDaemon),
			ProgramArguments: []string{vhidDaemonBin},
			KeepAlive:        true,
			StdoutPath:       filepath.Join(cfg.LogDir, "keymend-vhiddaemon.out.log"),
			StderrPath:       filepath.Join(cfg.LogDir, "keymend-vhiddaemon.err.log"),
		},
		domain.ServiceVHIDManager: {
			Label:            string(domain.ServiceVHIDManager),
			ProgramArguments: []string{VHIDManagerBin, "activate"},
			KeepAlive:        false,
			StdoutPath:       filepath.Join(cfg.LogDir, "keymend-vhidmanager.out.log"),
			StderrPath:       filepath.Join(cfg.LogDir, "keymend-vhidmanager.err.log"),
		},
	}
}

// ServiceManagerImpl implements domain.ServiceManager on top of launchctl
// and the LaunchDaemons directory. It also keeps the restart bookkeeping
// that backs ServiceStatus.RecentlyRestarted.
type ServiceManagerImpl struct {
	runner      CommandRunner
	logger      *zap.Logger
	definitions map[domain.ServiceID]serviceDefinition
	plistDir    string
	graceWindow time.Duration
	now         func() time.Time

	mu       sync.Mutex
	restarts map[domain.ServiceID]time.Time
}

// NewServiceManager creates a service manager for the managed daemons.
func NewServiceManager(cfg config.Config, kanataBinary string, logger *zap.Logger) *ServiceManagerImpl {
	return NewServiceManagerWithDeps(cfg, kanataBinary, logger, &RealCommandRunner{}, time.Now)
}

// NewServiceManagerWithDeps creates a service manager with injectable
// dependencies (for testing).
func NewServiceManagerWithDeps(cfg config.Config, kanataBinary string, logger *zap.Logger, runner CommandRunner, now func() time.Time) *ServiceManagerImpl {
	return &ServiceManagerImpl{
		runner:      runner,
		logger:      logger,
		definitions: serviceDefinitions(cfg, kanataBinary),
		plistDir:    launchDaemonsDir,
		graceWindow: restartGraceWindow,
		now:         now,
		restarts:    make(map[domain.ServiceID]time.Time),
	}
}

func (m *ServiceManagerImpl) plistPath(id domain.ServiceID) string {
	return filepath.Join(m.plistDir, string(id)+".plist")
}

func (m *ServiceManagerImpl) renderPlist(id domain.ServiceID) ([]byte, error) {
	def, ok := m.definitions[id]
	if !ok {
		return nil, fmt.Errorf("unknown service %s", id)
	}
	tmpl, err := template.New("plist").Parse(launchDaemonTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse plist template: %w", err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, def); err != nil {
		return nil, fmt.Errorf("render plist for %s: %w", id, err)
	}
	return []byte(buf.String()), nil
}

// plistContent is the slice of a launchd plist we compare and inspect.
type plistContent struct {
	Label            string   `plist:"Label"`
	ProgramArguments []string `plist:"ProgramArguments"`
}

func parsePlist(data []byte) (plistContent, error) {
	var pc plistContent
	if _, err := plist.Unmarshal(data, &pc); err != nil {
		return plistContent{}, fmt.Errorf("parse plist: %w", err)
	}
	return pc, nil
}

// configArg extracts the --cfg value from kanata program arguments.
func configArg(args []string) string {
	for i, a := range args {
		if a == "--cfg" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func sameArguments(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Status returns the richer launchd view of one managed service.
func (m *ServiceManagerImpl) Status(ctx context.Context, id domain.ServiceID) domain.ServiceStatus {
	st := domain.ServiceStatus{ID: id}

	if data, err := os.ReadFile(m.plistPath(id)); err == nil {
		st.Installed = true
		if onDisk, perr := parsePlist(data); perr == nil {
			st.ConfigPath = configArg(onDisk.ProgramArguments)
			if rendered, rerr := m.renderPlist(id); rerr == nil {
				if expected, eerr := parsePlist(rendered); eerr == nil {
					st.NeedsRepair = !sameArguments(onDisk.ProgramArguments, expected.ProgramArguments)
				}
			}
		} else {
			// unparseable plist is exactly what Repair exists for
			st.NeedsRepair = true
		}
	}

	out, err := m.runner.Output(ctx, "launchctl", "print", "system/"+string(id))
	if err == nil {
		ls := parseLaunchctlPrint(string(out))
		st.Loaded = true
		st.PID = ls.pid
		st.Healthy = m.healthyFor(id, ls)
	}

	m.mu.Lock()
	if t, ok := m.restarts[id]; ok && m.now().Sub(t) < m.graceWindow {
		st.RecentlyRestarted = true
	}
	m.mu.Unlock()

	return st
}

// StatusAll returns the status of every managed service.
func (m *ServiceManagerImpl) StatusAll(ctx context.Context) map[domain.ServiceID]domain.ServiceStatus {
	statuses := make(map[domain.ServiceID]domain.ServiceStatus, len(m.definitions))
	for _, id := range domain.ManagedServices() {
		statuses[id] = m.Status(ctx, id)
	}
	return statuses
}

// healthyFor interprets launchctl state per service flavor: daemons must be
// running with a clean last exit, the one-shot activation manager just has
// to have exited cleanly.
func (m *ServiceManagerImpl) healthyFor(id domain.ServiceID, ls launchctlState) bool {
	cleanExit := !ls.everExited || ls.lastExit == 0
	if def, ok := m.definitions[id]; ok && !def.KeepAlive {
		return (ls.everExited && ls.lastExit == 0) || ls.running
	}
	return ls.running && cleanExit
}

// Install writes and bootstraps the plist for one service.
func (m *ServiceManagerImpl) Install(ctx context.Context, id domain.ServiceID) error {
	rendered, err := m.renderPlist(id)
	if err != nil {
		return err
	}
	path := m.plistPath(id)

	// a stale registration would shadow the new plist
	_ = m.runner.Run(ctx, "launchctl", "bootout", "system/"+string(id))

	if err := os.WriteFile(path, rendered, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := m.runner.Run(ctx, "launchctl", "enable", "system/"+string(id)); err != nil {
		m.logger.Warn("launchctl enable failed", zap.String("service", string(id)), zap.Error(err))
	}
	if err := m.runner.Run(ctx, "launchctl", "bootstrap", "system", path); err != nil {
		return fmt.Errorf("bootstrap %s: %w", id, err)
	}

	m.recordRestart(id)
	m.logger.Info("service installed", zap.String("service", string(id)))
	return nil
}

// Stage writes the plist for one service without loading it. Used when
// adopting a running process: the managed definition lands on disk while
// the adopted process keeps the keyboard.
func (m *ServiceManagerImpl) Stage(ctx context.Context, id domain.ServiceID) error {
	rendered, err := m.renderPlist(id)
	if err != nil {
		return err
	}
	path := m.plistPath(id)
	if err := os.WriteFile(path, rendered, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	m.logger.Info("service staged", zap.String("service", string(id)))
	return nil
}

// Repair rewrites a drifted plist and reloads the service.
func (m *ServiceManagerImpl) Repair(ctx context.Context, id domain.ServiceID) error {
	if err := m.Install(ctx, id); err != nil {
		return fmt.Errorf("repair %s: %w", id, err)
	}
	m.logger.Info("service repaired", zap.String("service", string(id)))
	return nil
}

// Kickstart restarts a loaded service and records the restart time so
// Status can report RecentlyRestarted.
func (m *ServiceManagerImpl) Kickstart(ctx context.Context, id domain.ServiceID) error {
	if err := m.runner.Run(ctx, "launchctl", "kickstart", "-k", "system/"+string(id)); err != nil {
		return fmt.Errorf("kickstart %s: %w", id, err)
	}
	m.recordRestart(id)
	m.logger.Info("service kickstarted", zap.String("service", string(id)))
	return nil
}

// Uninstall boots out and removes the plist for one service.
func (m *ServiceManagerImpl) Uninstall(ctx context.Context, id domain.ServiceID) error {
	_ = m.runner.Run(ctx, "launchctl", "bootout", "system/"+string(id))
	path := m.plistPath(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	m.logger.Info("service uninstalled", zap.String("service", string(id)))
	return nil
}

func (m *ServiceManagerImpl) recordRestart(id domain.ServiceID) {
	m.mu.Lock()
	m.restarts[id] = m.now()
	m.mu.Unlock()
}

// launchctlState is the parsed slice of `launchctl print` output we use.
type launchctlState struct {
	running    bool
	pid        int
	lastExit   int
	everExited bool
}

// parseLaunchctlPrint scans the flat `key = value` lines of launchctl
// print output. The keys we read appear once at the top level.
func parseLaunchctlPrint(out string) launchctlState {
	var ls launchctlState
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "state":
			ls.running = value == "running"
		case "pid":
			ls.pid, _ = strconv.Atoi(value)
		case "last exit code":
			// printed bare or parenthesized depending on the macOS release
			if strings.Trim(value, "()") == "never exited" {
				ls.everExited = false
			} else {
				ls.everExited = true
				ls.lastExit, _ = strconv.Atoi(value)
			}
		}
	}
	return ls
}

// Ensure ServiceManagerImpl implements domain.ServiceManager.
var _ domain.ServiceManager = (*ServiceManagerImpl)(nil)
