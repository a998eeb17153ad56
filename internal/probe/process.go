package probe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/keymend/keymend/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// ListByName returns processes whose name or command line contains the
// pattern (case-insensitive).
func (pm *ProcessManagerImpl) ListByName(ctx context.Context, pattern string) ([]domain.ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var found []domain.ProcessInfo
	patternLower := strings.ToLower(pattern)

	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // process may have exited
		}
		cmdline, _ := p.CmdlineWithContext(ctx)
		if !strings.Contains(strings.ToLower(name), patternLower) &&
			!strings.Contains(strings.ToLower(cmdline), patternLower) {
			continue
		}
		if cmdline == "" {
			cmdline = name
		}
		found = append(found, domain.ProcessInfo{PID: int(p.Pid), Command: cmdline})
	}

	return found, nil
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// commandBinary extracts the executable basename from a command line, so
// "kanata" can be told apart from, say, an editor with kanata.kbd open.
func commandBinary(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

// filterBinary keeps only processes whose argv[0] basename matches name.
func filterBinary(procs []domain.ProcessInfo, name string) []domain.ProcessInfo {
	var out []domain.ProcessInfo
	for _, p := range procs {
		if commandBinary(p.Command) == name {
			out = append(out, p)
		}
	}
	return out
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
