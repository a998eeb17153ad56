package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/diag"
	"github.com/keymend/keymend/internal/domain"
)

// tailedLogLines bounds how many recent kanata log lines are scanned.
const tailedLogLines = 200

// dialTimeout bounds the config server connectivity check on its own, so a
// filtered port cannot eat the whole probe budget.
const dialTimeout = 2 * time.Second

// HealthProbeImpl reports functional health, which is stricter than
// "running": kanata must also log no errors and hold a live connection to
// the virtual HID daemon.
type HealthProbeImpl struct {
	pm      domain.ProcessManager
	logPath string
	tcpPort int
	logger  *zap.Logger
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewHealthProbe creates a health probe. logPath is the managed kanata
// service's stdout log.
func NewHealthProbe(pm domain.ProcessManager, logPath string, tcpPort int, logger *zap.Logger) *HealthProbeImpl {
	dialer := &net.Dialer{Timeout: dialTimeout}
	return NewHealthProbeWithDeps(pm, logPath, tcpPort, logger, dialer.DialContext)
}

// NewHealthProbeWithDeps creates a health probe with an injectable dialer
// (for testing).
func NewHealthProbeWithDeps(pm domain.ProcessManager, logPath string, tcpPort int, logger *zap.Logger, dial func(ctx context.Context, network, addr string) (net.Conn, error)) *HealthProbeImpl {
	return &HealthProbeImpl{
		pm:      pm,
		logPath: logPath,
		tcpPort: tcpPort,
		logger:  logger,
		dial:    dial,
	}
}

// Check returns daemon and service health.
func (p *HealthProbeImpl) Check(ctx context.Context) (domain.HealthResult, error) {
	var h domain.HealthResult

	h.KanataRunning = p.processExists(ctx, kanataProcessName, true)
	h.VHIDDaemonOperational = p.processExists(ctx, vhidDaemonProcessName, false)
	h.DriverDaemonHealthy = p.processExists(ctx, driverDaemonProcessName, false)

	if h.KanataRunning {
		h.CommServerResponding = p.commServerResponding(ctx)
	}

	lines, err := diag.TailLines(p.logPath, tailedLogLines)
	if err != nil {
		p.logger.Warn("could not read kanata log", zap.String("path", p.logPath), zap.Error(err))
	}
	report := diag.Scan(lines)
	h.Diagnostics = report.Diagnostics

	h.KanataFunctional = h.KanataRunning && !report.HasErrors() && report.VHIDConnected

	return h, nil
}

// processExists reports whether a process with the given name is running.
// exact restricts the match to argv[0], which keeps "kanata" from matching
// unrelated processes with kanata in their arguments.
func (p *HealthProbeImpl) processExists(ctx context.Context, name string, exact bool) bool {
	procs, err := p.pm.ListByName(ctx, name)
	if err != nil {
		p.logger.Warn("process listing failed", zap.String("name", name), zap.Error(err))
		return false
	}
	if exact {
		procs = filterBinary(procs, name)
	}
	return len(procs) > 0
}

func (p *HealthProbeImpl) commServerResponding(ctx context.Context) bool {
	addr := fmt.Sprintf("127.0.0.1:%d", p.tcpPort)
	conn, err := p.dial(ctx, "tcp", addr)
	if err != nil {
		p.logger.Debug("config server not responding", zap.String("addr", addr), zap.Error(err))
		return false
	}
	conn.Close()
	return true
}

var _ domain.HealthProbe = (*HealthProbeImpl)(nil)
