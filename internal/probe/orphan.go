package probe

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
)

// OrphanProbeImpl finds kanata processes running outside the managed
// launchd lifecycle, typically left over from manual runs or a previous
// install. The engine decides whether to adopt or replace them.
type OrphanProbeImpl struct {
	pm             domain.ProcessManager
	sm             domain.ServiceManager
	expectedConfig string
	logger         *zap.Logger
}

// NewOrphanProbe creates an orphan probe.
func NewOrphanProbe(pm domain.ProcessManager, sm domain.ServiceManager, expectedConfig string, logger *zap.Logger) *OrphanProbeImpl {
	return &OrphanProbeImpl{pm: pm, sm: sm, expectedConfig: expectedConfig, logger: logger}
}

// Check returns the orphan findings, or nil when nothing is orphaned.
func (p *OrphanProbeImpl) Check(ctx context.Context) (*domain.OrphanCheck, error) {
	procs, err := p.pm.ListByName(ctx, kanataProcessName)
	if err != nil {
		return nil, fmt.Errorf("list kanata processes: %w", err)
	}

	st := p.sm.Status(ctx, domain.ServiceKanata)
	self := p.pm.GetCurrentPID()

	var externals []domain.ProcessInfo
	for _, proc := range filterBinary(procs, kanataProcessName) {
		if proc.PID == self || (st.PID > 0 && proc.PID == st.PID) {
			continue
		}
		externals = append(externals, proc)
	}
	if len(externals) == 0 {
		return nil, nil
	}

	p.logger.Info("orphaned kanata processes found",
		zap.Int("count", len(externals)),
		zap.Bool("service_installed", st.Installed),
		zap.Bool("service_loaded", st.Loaded))

	return &domain.OrphanCheck{
		Processes:          externals,
		ServiceInstalled:   st.Installed,
		ServiceLoaded:      st.Loaded,
		ExpectedConfigPath: p.expectedConfig,
	}, nil
}

var _ domain.OrphanProbe = (*OrphanProbeImpl)(nil)
