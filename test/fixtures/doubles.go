package fixtures

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/keymend/keymend/internal/domain"
	"github.com/keymend/keymend/internal/probe"
)

// ScriptedRunner is a CommandRunner returning canned output per command
// line. Probes run concurrently inside an engine pass, so access is
// locked. Unscripted Output calls fail the way a query against a missing
// target does; unscripted Run calls succeed the way mutation commands do.
type ScriptedRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

// NewScriptedRunner creates an empty runner.
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{
		outputs: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func commandKey(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

// Script registers canned output for a command.
func (r *ScriptedRunner) Script(output, name string, args ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[commandKey(name, args)] = output
}

// FailWith makes a command fail.
func (r *ScriptedRunner) FailWith(err error, name string, args ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[commandKey(name, args)] = err
}

// Calls returns every command line run so far.
func (r *ScriptedRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *ScriptedRunner) Run(ctx context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := commandKey(name, args)
	r.calls = append(r.calls, key)
	return r.errs[key]
}

func (r *ScriptedRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := commandKey(name, args)
	r.calls = append(r.calls, key)
	if err := r.errs[key]; err != nil {
		return nil, err
	}
	if out, ok := r.outputs[key]; ok {
		return []byte(out), nil
	}
	return nil, fmt.Errorf("exit status 113: %s", key)
}

// StaticChecker is a FileChecker over a fixed path set.
type StaticChecker struct {
	mu      sync.Mutex
	present map[string]bool
}

// NewStaticChecker creates a checker where exactly the given paths exist.
func NewStaticChecker(paths ...string) *StaticChecker {
	c := &StaticChecker{present: make(map[string]bool)}
	c.Add(paths...)
	return c
}

// Add marks paths as existing.
func (c *StaticChecker) Add(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		c.present[p] = true
	}
}

// Remove marks a path as absent.
func (c *StaticChecker) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.present, path)
}

func (c *StaticChecker) Exists(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.present[path]
}

// StaticProcesses is a ProcessManager over a fixed process table. Kill
// really removes the process, so a second probe pass observes the effect.
type StaticProcesses struct {
	mu     sync.Mutex
	procs  []domain.ProcessInfo
	self   int
	killed []int
}

// NewStaticProcesses creates a process table; self is the pid reported for
// the current process.
func NewStaticProcesses(self int) *StaticProcesses {
	return &StaticProcesses{self: self}
}

// Add registers a running process.
func (m *StaticProcesses) Add(pid int, command string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs = append(m.procs, domain.ProcessInfo{PID: pid, Command: command})
}

// RemovePID simulates a process exiting on its own.
func (m *StaticProcesses) RemovePID(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(pid)
}

func (m *StaticProcesses) removeLocked(pid int) {
	out := m.procs[:0]
	for _, p := range m.procs {
		if p.PID != pid {
			out = append(out, p)
		}
	}
	m.procs = out
}

// Killed returns the pids killed so far.
func (m *StaticProcesses) Killed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.killed...)
}

func (m *StaticProcesses) ListByName(ctx context.Context, pattern string) ([]domain.ProcessInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProcessInfo
	for _, p := range m.procs {
		if strings.Contains(strings.ToLower(p.Command), strings.ToLower(pattern)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *StaticProcesses) Kill(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killed = append(m.killed, pid)
	m.removeLocked(pid)
	return nil
}

func (m *StaticProcesses) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.procs {
		if p.PID == pid {
			return true
		}
	}
	return false
}

func (m *StaticProcesses) GetCurrentPID() int { return m.self }

// StaticServices is a ServiceManager over an in-memory launchd. Mutations
// succeed instantly: Install loads a healthy service, Kickstart marks a
// fresh restart, Repair clears drift. Convergence tests re-probe against
// the mutated table.
type StaticServices struct {
	mu       sync.Mutex
	statuses map[domain.ServiceID]domain.ServiceStatus

	Installs   []domain.ServiceID
	Stages     []domain.ServiceID
	Repairs    []domain.ServiceID
	Kickstarts []domain.ServiceID
	Uninstalls []domain.ServiceID
}

// NewStaticServices creates an empty launchd table: nothing installed.
func NewStaticServices() *StaticServices {
	return &StaticServices{statuses: make(map[domain.ServiceID]domain.ServiceStatus)}
}

// AllHealthyServices creates a table where every managed service is
// installed, loaded and healthy, with the kanata service owning the given
// pid and config path.
func AllHealthyServices(kanataPID int, configPath string) *StaticServices {
	s := NewStaticServices()
	for _, id := range domain.ManagedServices() {
		st := domain.ServiceStatus{ID: id, Installed: true, Loaded: true, Healthy: true}
		if id == domain.ServiceKanata {
			st.PID = kanataPID
			st.ConfigPath = configPath
		}
		s.SetStatus(st)
	}
	return s
}

// SetStatus overrides one service's status.
func (s *StaticServices) SetStatus(st domain.ServiceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[st.ID] = st
}

func (s *StaticServices) Status(ctx context.Context, id domain.ServiceID) domain.ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[id]
	st.ID = id
	return st
}

func (s *StaticServices) StatusAll(ctx context.Context) map[domain.ServiceID]domain.ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.ServiceID]domain.ServiceStatus, len(s.statuses))
	for id, st := range s.statuses {
		out[id] = st
	}
	return out
}

func (s *StaticServices) Install(ctx context.Context, id domain.ServiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Installs = append(s.Installs, id)
	s.statuses[id] = domain.ServiceStatus{
		ID: id, Installed: true, Loaded: true, Healthy: true, RecentlyRestarted: true,
	}
	return nil
}

func (s *StaticServices) Stage(ctx context.Context, id domain.ServiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stages = append(s.Stages, id)
	st := s.statuses[id]
	st.ID = id
	st.Installed = true
	s.statuses[id] = st
	return nil
}

func (s *StaticServices) Repair(ctx context.Context, id domain.ServiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Repairs = append(s.Repairs, id)
	st := s.statuses[id]
	st.ID = id
	st.NeedsRepair = false
	s.statuses[id] = st
	return nil
}

func (s *StaticServices) Kickstart(ctx context.Context, id domain.ServiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Kickstarts = append(s.Kickstarts, id)
	st := s.statuses[id]
	st.ID = id
	st.Loaded = true
	st.Healthy = true
	st.RecentlyRestarted = true
	s.statuses[id] = st
	return nil
}

func (s *StaticServices) Uninstall(ctx context.Context, id domain.ServiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Uninstalls = append(s.Uninstalls, id)
	delete(s.statuses, id)
	return nil
}

var (
	_ probe.CommandRunner   = (*ScriptedRunner)(nil)
	_ probe.FileChecker     = (*StaticChecker)(nil)
	_ domain.ProcessManager = (*StaticProcesses)(nil)
	_ domain.ServiceManager = (*StaticServices)(nil)
)
