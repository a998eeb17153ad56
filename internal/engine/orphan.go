package engine

import (
	"strings"

	"github.com/keymend/keymend/internal/domain"
)

// DecideOrphan applies the adopt-or-replace matrix to orphaned kanata
// processes. Adoption is only safe for a single process that already points
// at the expected config and predates any managed service entry; everything
// else converges back to the managed lifecycle. The two failure modes this
// guards against: adopting a process watching a stale config (looks alive,
// remaps wrong), and killing a correctly configured process for no reason.
func DecideOrphan(check *domain.OrphanCheck) domain.OrphanDecision {
	if len(check.Processes) > 1 {
		// multiple externals signal a state too inconsistent to adopt
		return domain.OrphanReplace
	}
	if !check.ServiceInstalled {
		if commandUsesConfig(check.Processes[0].Command, check.ExpectedConfigPath) {
			return domain.OrphanAdopt
		}
		return domain.OrphanReplace
	}
	// A managed entry exists, loaded or not. Converge to it.
	return domain.OrphanReplace
}

// commandUsesConfig reports whether a kanata command line names the given
// config path, via "--cfg path", "--cfg=path" or "-c path".
func commandUsesConfig(command, configPath string) bool {
	if configPath == "" {
		return false
	}
	fields := strings.Fields(command)
	for i, f := range fields {
		if f == "--cfg" || f == "-c" {
			return i+1 < len(fields) && fields[i+1] == configPath
		}
		if v, ok := strings.CutPrefix(f, "--cfg="); ok {
			return v == configPath
		}
	}
	return false
}
