package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keymend/keymend/internal/domain"
)

// buildSnapshot fans out to every probe concurrently and assembles the
// snapshot, bounding pass latency to the slowest single probe. Each probe
// runs under its own timeout; a failed or timed-out probe degrades to its
// conservative default instead of failing the pass. Only caller cancellation
// aborts, and then nothing is published.
func (e *Engine) buildSnapshot(ctx context.Context, logger *zap.Logger) (domain.SystemSnapshot, error) {
	var (
		wg            sync.WaitGroup
		conflicts     domain.ConflictsResult
		permissions   = conservativePermissions()
		components    = conservativeComponents()
		health        domain.HealthResult
		compatibility = conservativeCompatibility()
		orphan        *domain.OrphanCheck
	)

	run := func(name string, timeout time.Duration, probe func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			if err := probe(pctx); err != nil {
				logger.Warn("probe degraded to conservative default",
					zap.String("probe", name),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err))
				return
			}
			logger.Debug("probe completed",
				zap.String("probe", name),
				zap.Duration("elapsed", time.Since(start)))
		}()
	}

	run("conflicts", e.opts.ProbeTimeout, func(ctx context.Context) error {
		res, err := e.probes.Conflicts.Check(ctx)
		if err != nil {
			// no conflict records can be fabricated, so failure reads as
			// "none observed" rather than inventing blocking state
			return err
		}
		conflicts = res
		return nil
	})
	run("permissions", e.opts.ProbeTimeout, func(ctx context.Context) error {
		res, err := e.probes.Permissions.Check(ctx)
		if err != nil {
			return err
		}
		permissions = res
		return nil
	})
	run("components", e.opts.ProbeTimeout, func(ctx context.Context) error {
		res, err := e.probes.Components.Check(ctx)
		if err != nil {
			return err
		}
		components = res
		return nil
	})
	run("health", e.opts.HealthTimeout, func(ctx context.Context) error {
		res, err := e.probes.Health.Check(ctx)
		if err != nil {
			return err
		}
		health = res
		return nil
	})
	run("compatibility", e.opts.ProbeTimeout, func(ctx context.Context) error {
		res, err := e.probes.Compatibility.Check(ctx)
		if err != nil {
			return err
		}
		compatibility = res
		return nil
	})
	if e.probes.Orphans != nil {
		run("orphan", e.opts.ProbeTimeout, func(ctx context.Context) error {
			res, err := e.probes.Orphans.Check(ctx)
			if err != nil {
				return err
			}
			orphan = res
			return nil
		})
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return domain.SystemSnapshot{}, err
	}

	if orphan != nil {
		components = components.WithOrphan(orphan)
	}

	return domain.SystemSnapshot{
		Timestamp:     e.now(),
		Permissions:   permissions,
		Components:    components,
		Conflicts:     conflicts,
		Health:        health,
		Compatibility: compatibility,
	}, nil
}

// conservativePermissions marks every check missing. A probe failure must
// read as "not granted", never as granted.
func conservativePermissions() domain.PermissionsResult {
	var checks []domain.PermissionCheck
	for _, p := range []domain.Principal{domain.PrincipalGUIApp, domain.PrincipalKanata} {
		for _, k := range []domain.PermissionKind{domain.PermissionInputMonitoring, domain.PermissionAccessibility} {
			checks = append(checks, domain.PermissionCheck{Principal: p, Kind: k})
		}
	}
	return domain.PermissionsResult{Checks: checks}
}

func conservativeComponents() domain.ComponentsResult {
	return domain.NewComponentsResult(nil, nil)
}

func conservativeCompatibility() domain.CompatibilityResult {
	return domain.CompatibilityResult{Reason: "compatibility probe did not complete"}
}
