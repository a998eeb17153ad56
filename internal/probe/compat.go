package probe

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"howett.net/plist"

	"github.com/keymend/keymend/internal/domain"
)

// minimumOSMajor is the oldest macOS that ships DriverKit support the
// virtual keyboard needs.
const minimumOSMajor = 11

// driverConstraints maps a macOS major version to the driver versions known
// to work on it. Majors newer than the table fall back to the latest entry.
var driverConstraints = map[uint64]string{
	11: ">= 1.15.0",
	12: ">= 1.15.0",
	13: ">= 1.30.0",
	14: ">= 3.1.0",
	15: ">= 5.0.0",
}

const latestDriverConstraint = ">= 5.0.0"

// CompatibilityProbeImpl verifies that the installed driver version is
// known to work with the running macOS version. Unparseable versions are
// reported as incompatible, never as compatible.
type CompatibilityProbeImpl struct {
	runner        CommandRunner
	checker       FileChecker
	logger        *zap.Logger
	driverInfoTab string
}

// NewCompatibilityProbe creates a compatibility probe.
func NewCompatibilityProbe(logger *zap.Logger) *CompatibilityProbeImpl {
	return NewCompatibilityProbeWithDeps(logger, &RealCommandRunner{}, &RealFileChecker{}, vhidManagerInfoPath)
}

// NewCompatibilityProbeWithDeps creates a compatibility probe with
// injectable dependencies (for testing).
func NewCompatibilityProbeWithDeps(logger *zap.Logger, runner CommandRunner, checker FileChecker, driverInfoPath string) *CompatibilityProbeImpl {
	return &CompatibilityProbeImpl{
		runner:        runner,
		checker:       checker,
		logger:        logger,
		driverInfoTab: driverInfoPath,
	}
}

// Check returns the compatibility verdict.
func (p *CompatibilityProbeImpl) Check(ctx context.Context) (domain.CompatibilityResult, error) {
	out, err := p.runner.Output(ctx, "sw_vers", "-productVersion")
	if err != nil {
		return domain.CompatibilityResult{
			Reason: "could not determine the macOS version",
		}, nil
	}
	osText := strings.TrimSpace(string(out))
	osVersion, err := semver.NewVersion(osText)
	if err != nil {
		p.logger.Warn("unparseable macOS version", zap.String("version", osText), zap.Error(err))
		return domain.CompatibilityResult{
			OSVersion: osText,
			Reason:    fmt.Sprintf("unrecognized macOS version %q", osText),
		}, nil
	}

	result := domain.CompatibilityResult{OSVersion: osText}

	if osVersion.Major() < minimumOSMajor {
		result.Reason = fmt.Sprintf("macOS %d or newer is required, found %s", minimumOSMajor, osText)
		return result, nil
	}

	driverText, ok := p.driverVersion()
	if !ok {
		// no driver installed means nothing to be incompatible with; the
		// component probe reports the missing driver separately
		result.Compatible = true
		return result, nil
	}
	result.DriverVersion = driverText

	driverVersion, err := semver.NewVersion(driverText)
	if err != nil {
		p.logger.Warn("unparseable driver version", zap.String("version", driverText), zap.Error(err))
		result.Reason = fmt.Sprintf("unrecognized driver version %q", driverText)
		return result, nil
	}

	constraintText, found := driverConstraints[osVersion.Major()]
	if !found {
		constraintText = latestDriverConstraint
	}
	constraint, err := semver.NewConstraint(constraintText)
	if err != nil {
		return domain.CompatibilityResult{}, fmt.Errorf("bad driver constraint %q: %w", constraintText, err)
	}

	if !constraint.Check(driverVersion) {
		result.Reason = fmt.Sprintf("driver %s does not support macOS %s (needs %s)",
			driverText, osText, constraintText)
		return result, nil
	}

	result.Compatible = true
	return result, nil
}

// driverVersion reads the installed driver's bundle version. The bool is
// false when no driver is installed at all.
func (p *CompatibilityProbeImpl) driverVersion() (string, bool) {
	if !p.checker.Exists(p.driverInfoTab) {
		return "", false
	}
	data, err := os.ReadFile(p.driverInfoTab)
	if err != nil {
		p.logger.Warn("could not read driver Info.plist", zap.Error(err))
		return "unreadable", true
	}
	var info struct {
		ShortVersion string `plist:"CFBundleShortVersionString"`
		Version      string `plist:"CFBundleVersion"`
	}
	if _, err := plist.Unmarshal(data, &info); err != nil {
		p.logger.Warn("could not parse driver Info.plist", zap.Error(err))
		return "unparseable", true
	}
	if info.ShortVersion != "" {
		return info.ShortVersion, true
	}
	return info.Version, true
}

var _ domain.CompatibilityProbe = (*CompatibilityProbeImpl)(nil)
