package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/keymend/keymend/internal/domain"
)

// fakeRunner is a test double for CommandRunner. Results are scripted per
// command line; an unscripted Output fails the way a real missing service or
// utility would, an unscripted Run succeeds.
type fakeRunner struct {
	outputs map[string][]byte
	errs    map[string]error
	calls   []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: make(map[string][]byte),
		errs:    make(map[string]error),
	}
}

func commandKey(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func (r *fakeRunner) script(out string, name string, args ...string) {
	r.outputs[commandKey(name, args...)] = []byte(out)
}

func (r *fakeRunner) fail(err error, name string, args ...string) {
	r.errs[commandKey(name, args...)] = err
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	key := commandKey(name, args...)
	r.calls = append(r.calls, key)
	return r.errs[key]
}

func (r *fakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	key := commandKey(name, args...)
	r.calls = append(r.calls, key)
	if err := r.errs[key]; err != nil {
		return nil, err
	}
	out, ok := r.outputs[key]
	if !ok {
		return nil, fmt.Errorf("exit status 113: %s", key)
	}
	return out, nil
}

func (r *fakeRunner) called(name string, args ...string) bool {
	key := commandKey(name, args...)
	for _, c := range r.calls {
		if c == key {
			return true
		}
	}
	return false
}

// fakeChecker is a test double for FileChecker.
type fakeChecker struct {
	paths map[string]bool
}

func newFakeChecker(existing ...string) *fakeChecker {
	c := &fakeChecker{paths: make(map[string]bool)}
	for _, p := range existing {
		c.paths[p] = true
	}
	return c
}

func (c *fakeChecker) Exists(path string) bool {
	return c.paths[path]
}

// fakeProcessManager is a test double for domain.ProcessManager. ListByName
// does the same case-insensitive substring match as the real one.
type fakeProcessManager struct {
	procs      []domain.ProcessInfo
	listErr    error
	killedPIDs []int
	killErr    error
	currentPID int
}

func newFakeProcessManager(procs ...domain.ProcessInfo) *fakeProcessManager {
	return &fakeProcessManager{procs: procs, currentPID: 999}
}

func (m *fakeProcessManager) ListByName(ctx context.Context, pattern string) ([]domain.ProcessInfo, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.ProcessInfo
	needle := strings.ToLower(pattern)
	for _, p := range m.procs {
		if strings.Contains(strings.ToLower(p.Command), needle) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *fakeProcessManager) Kill(pid int) error {
	if m.killErr != nil {
		return m.killErr
	}
	m.killedPIDs = append(m.killedPIDs, pid)
	return nil
}

func (m *fakeProcessManager) IsRunning(pid int) bool {
	for _, p := range m.procs {
		if p.PID == pid {
			return true
		}
	}
	return false
}

func (m *fakeProcessManager) GetCurrentPID() int {
	return m.currentPID
}

// fakeServiceManager is a test double for domain.ServiceManager. Statuses
// are scripted; mutations are recorded.
type fakeServiceManager struct {
	statuses    map[domain.ServiceID]domain.ServiceStatus
	installed   []domain.ServiceID
	staged      []domain.ServiceID
	repaired    []domain.ServiceID
	kickstarted []domain.ServiceID
	uninstalled []domain.ServiceID
	installErr  error
}

func newFakeServiceManager() *fakeServiceManager {
	return &fakeServiceManager{statuses: make(map[domain.ServiceID]domain.ServiceStatus)}
}

func (m *fakeServiceManager) setStatus(st domain.ServiceStatus) {
	m.statuses[st.ID] = st
}

func (m *fakeServiceManager) Status(ctx context.Context, id domain.ServiceID) domain.ServiceStatus {
	st := m.statuses[id]
	st.ID = id
	return st
}

func (m *fakeServiceManager) StatusAll(ctx context.Context) map[domain.ServiceID]domain.ServiceStatus {
	out := make(map[domain.ServiceID]domain.ServiceStatus, len(domain.ManagedServices()))
	for _, id := range domain.ManagedServices() {
		out[id] = m.Status(ctx, id)
	}
	return out
}

func (m *fakeServiceManager) Install(ctx context.Context, id domain.ServiceID) error {
	if m.installErr != nil {
		return m.installErr
	}
	m.installed = append(m.installed, id)
	return nil
}

func (m *fakeServiceManager) Stage(ctx context.Context, id domain.ServiceID) error {
	m.staged = append(m.staged, id)
	return nil
}

func (m *fakeServiceManager) Repair(ctx context.Context, id domain.ServiceID) error {
	m.repaired = append(m.repaired, id)
	return nil
}

func (m *fakeServiceManager) Kickstart(ctx context.Context, id domain.ServiceID) error {
	m.kickstarted = append(m.kickstarted, id)
	return nil
}

func (m *fakeServiceManager) Uninstall(ctx context.Context, id domain.ServiceID) error {
	m.uninstalled = append(m.uninstalled, id)
	return nil
}

// Ensure the doubles implement their domain interfaces.
var (
	_ domain.ProcessManager = (*fakeProcessManager)(nil)
	_ domain.ServiceManager = (*fakeServiceManager)(nil)
	_ CommandRunner         = (*fakeRunner)(nil)
	_ FileChecker           = (*fakeChecker)(nil)
)
