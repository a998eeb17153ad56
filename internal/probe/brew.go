package probe

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
)

// BrewInstallerImpl implements domain.PackageInstaller using Homebrew.
type BrewInstallerImpl struct {
	brewPath string
	runner   CommandRunner
	logger   *zap.Logger
}

// NewBrewInstaller creates a Homebrew installer.
func NewBrewInstaller(logger *zap.Logger) *BrewInstallerImpl {
	return NewBrewInstallerWithDeps(logger, &RealCommandRunner{}, &RealFileChecker{})
}

// NewBrewInstallerWithDeps creates a Homebrew installer with injectable
// dependencies (for testing).
func NewBrewInstallerWithDeps(logger *zap.Logger, runner CommandRunner, checker FileChecker) *BrewInstallerImpl {
	return &BrewInstallerImpl{
		brewPath: DiscoverBrew(checker),
		runner:   runner,
		logger:   logger,
	}
}

// Available reports whether brew was found.
func (b *BrewInstallerImpl) Available() bool {
	return b.brewPath != ""
}

// Install installs a formula, waiting for completion.
func (b *BrewInstallerImpl) Install(ctx context.Context, formula string) error {
	if !b.Available() {
		return fmt.Errorf("homebrew is not installed")
	}
	b.logger.Info("installing formula", zap.String("formula", formula))
	if err := b.runner.Run(ctx, b.brewPath, "install", formula); err != nil {
		return fmt.Errorf("brew install %s: %w", formula, err)
	}
	return nil
}

// IsInstalled checks the formula list without installing anything.
func (b *BrewInstallerImpl) IsInstalled(ctx context.Context, formula string) bool {
	if !b.Available() {
		return false
	}
	out, err := b.runner.Output(ctx, b.brewPath, "list", "--formula")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == formula {
			return true
		}
	}
	return false
}

var _ domain.PackageInstaller = (*BrewInstallerImpl)(nil)
