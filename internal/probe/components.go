package probe

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
)

// ComponentProbeImpl determines which required components are installed. It
// composes filesystem checks, the process list, systemextensionsctl output
// and the service manager's launchd view.
type ComponentProbeImpl struct {
	checker        FileChecker
	runner         CommandRunner
	pm             domain.ProcessManager
	sm             domain.ServiceManager
	kanataOverride string
	expectedConfig string
	logger         *zap.Logger
}

// NewComponentProbe creates a component probe.
func NewComponentProbe(pm domain.ProcessManager, sm domain.ServiceManager, kanataOverride, expectedConfig string, logger *zap.Logger) *ComponentProbeImpl {
	return NewComponentProbeWithDeps(pm, sm, kanataOverride, expectedConfig, logger, &RealCommandRunner{}, &RealFileChecker{})
}

// NewComponentProbeWithDeps creates a component probe with injectable
// dependencies (for testing).
func NewComponentProbeWithDeps(pm domain.ProcessManager, sm domain.ServiceManager, kanataOverride, expectedConfig string, logger *zap.Logger, runner CommandRunner, checker FileChecker) *ComponentProbeImpl {
	return &ComponentProbeImpl{
		checker:        checker,
		runner:         runner,
		pm:             pm,
		sm:             sm,
		kanataOverride: kanataOverride,
		expectedConfig: expectedConfig,
		logger:         logger,
	}
}

// Check partitions the required component set.
func (p *ComponentProbeImpl) Check(ctx context.Context) (domain.ComponentsResult, error) {
	services := p.sm.StatusAll(ctx)

	present := map[domain.ComponentKind]bool{
		domain.ComponentPackageManager:      DiscoverBrew(p.checker) != "",
		domain.ComponentKanataBinary:        DiscoverKanata(p.checker, p.kanataOverride) != "",
		domain.ComponentVHIDDriver:          p.checker.Exists(vhidManagerApp),
		domain.ComponentVHIDDriverActivated: p.driverActivated(ctx),
		domain.ComponentVHIDDaemon:          p.daemonRunning(ctx),
		domain.ComponentLaunchdServices:     allServicesHealthy(services),
	}

	result := domain.NewComponentsResult(present, services)
	result.ExpectedConfigPath = p.expectedConfig

	if len(result.Missing) > 0 {
		p.logger.Debug("components missing",
			zap.Int("count", len(result.Missing)))
	}
	return result, nil
}

// driverActivated parses systemextensionsctl list for our extension in the
// activated enabled state. Any other state (activated waiting for user,
// terminated) counts as not activated.
func (p *ComponentProbeImpl) driverActivated(ctx context.Context) bool {
	out, err := p.runner.Output(ctx, "systemextensionsctl", "list")
	if err != nil {
		p.logger.Warn("systemextensionsctl list failed", zap.Error(err))
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, driverExtensionID) && strings.Contains(line, "[activated enabled]") {
			return true
		}
	}
	return false
}

func (p *ComponentProbeImpl) daemonRunning(ctx context.Context) bool {
	procs, err := p.pm.ListByName(ctx, vhidDaemonProcessName)
	if err != nil {
		p.logger.Warn("could not list virtual device daemon processes", zap.Error(err))
		return false
	}
	return len(procs) > 0
}

// allServicesHealthy is the launchd-services component predicate: every
// managed entry installed, loaded, and either healthy or still inside its
// post-restart warm-up window.
func allServicesHealthy(services map[domain.ServiceID]domain.ServiceStatus) bool {
	for _, id := range domain.ManagedServices() {
		st, ok := services[id]
		if !ok || !st.Installed || !st.Loaded {
			return false
		}
		if !st.Healthy && !st.WarmingUp() {
			return false
		}
	}
	return true
}

var _ domain.ComponentProbe = (*ComponentProbeImpl)(nil)
