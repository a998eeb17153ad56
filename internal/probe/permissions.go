package probe

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/keymend/keymend/internal/domain"
)

const (
	systemTCCDBPath = "/Library/Application Support/com.apple.TCC/TCC.db"
	userTCCDBSuffix = "Library/Application Support/com.apple.TCC/TCC.db"

	tccServiceListenEvent   = "kTCCServiceListenEvent"
	tccServiceAccessibility = "kTCCServiceAccessibility"

	// authValueAllowed is TCC's "granted" marker on macOS 11 and later.
	authValueAllowed = 2
)

// TCCPermissionProbeImpl reads the TCC databases directly, the only way to
// answer "is the permission granted" without triggering a prompt. Opening
// them requires Full Disk Access; when that fails every check degrades to
// missing and TCCReadable explains why.
type TCCPermissionProbeImpl struct {
	runner     CommandRunner
	logger     *zap.Logger
	kanataPath string
	dbPaths    []string
}

// NewTCCPermissionProbe creates a permission probe. kanataPath is the
// resolved binary path used as the daemon's TCC client identity.
func NewTCCPermissionProbe(kanataPath string, logger *zap.Logger) *TCCPermissionProbeImpl {
	paths := []string{systemTCCDBPath}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, userTCCDBSuffix))
	}
	return NewTCCPermissionProbeWithDeps(kanataPath, logger, &RealCommandRunner{}, paths)
}

// NewTCCPermissionProbeWithDeps creates a permission probe with injectable
// dependencies (for testing).
func NewTCCPermissionProbeWithDeps(kanataPath string, logger *zap.Logger, runner CommandRunner, dbPaths []string) *TCCPermissionProbeImpl {
	return &TCCPermissionProbeImpl{
		runner:     runner,
		logger:     logger,
		kanataPath: kanataPath,
		dbPaths:    dbPaths,
	}
}

type grantKey struct {
	client  string
	service string
}

// Check returns the granted/missing flags for every principal and kind.
func (p *TCCPermissionProbeImpl) Check(ctx context.Context) (domain.PermissionsResult, error) {
	grants, readable := p.readGrants(ctx)

	granted := func(client, service string) bool {
		return client != "" && grants[grantKey{client: client, service: service}]
	}

	result := domain.PermissionsResult{
		Checks: []domain.PermissionCheck{
			{
				Principal: domain.PrincipalGUIApp,
				Kind:      domain.PermissionInputMonitoring,
				Granted:   granted(keymendBundleID, tccServiceListenEvent),
			},
			{
				Principal: domain.PrincipalKanata,
				Kind:      domain.PermissionInputMonitoring,
				Granted:   granted(p.kanataPath, tccServiceListenEvent),
			},
			{
				Principal: domain.PrincipalGUIApp,
				Kind:      domain.PermissionAccessibility,
				Granted:   granted(keymendBundleID, tccServiceAccessibility),
			},
			{
				Principal: domain.PrincipalKanata,
				Kind:      domain.PermissionAccessibility,
				Granted:   granted(p.kanataPath, tccServiceAccessibility),
			},
		},
		BackgroundServicesEnabled: p.backgroundServicesEnabled(ctx),
		TCCReadable:               readable,
	}
	return result, nil
}

// readGrants merges the system and user TCC databases. readable is true
// when at least one database could be opened and queried.
func (p *TCCPermissionProbeImpl) readGrants(ctx context.Context) (map[grantKey]bool, bool) {
	grants := make(map[grantKey]bool)
	readable := false
	for _, path := range p.dbPaths {
		if err := p.readOneDB(ctx, path, grants); err != nil {
			p.logger.Debug("tcc database not readable",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		readable = true
	}
	return grants, readable
}

func (p *TCCPermissionProbeImpl) readOneDB(ctx context.Context, path string, grants map[grantKey]bool) error {
	// immutable read-only open: never contend with tccd's own writes
	uri := url.URL{Scheme: "file", Path: path, RawQuery: "mode=ro&immutable=1"}
	db, err := sql.Open("sqlite", uri.String())
	if err != nil {
		return fmt.Errorf("open tcc db: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT client, service, auth_value FROM access WHERE service IN (?, ?)`,
		tccServiceListenEvent, tccServiceAccessibility)
	if err != nil {
		return fmt.Errorf("query tcc db: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var client, service string
		var auth int
		if err := rows.Scan(&client, &service, &auth); err != nil {
			return fmt.Errorf("scan tcc row: %w", err)
		}
		if auth == authValueAllowed {
			grants[grantKey{client: client, service: service}] = true
		}
	}
	return rows.Err()
}

// backgroundServicesEnabled checks launchctl's disabled list for our
// labels. Labels never touched by the user are absent, which means enabled.
func (p *TCCPermissionProbeImpl) backgroundServicesEnabled(ctx context.Context) bool {
	out, err := p.runner.Output(ctx, "launchctl", "print-disabled", "system")
	if err != nil {
		p.logger.Warn("launchctl print-disabled failed", zap.Error(err))
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		for _, id := range domain.ManagedServices() {
			if !strings.Contains(line, `"`+string(id)+`"`) {
				continue
			}
			if strings.Contains(line, "true") || strings.Contains(line, "disabled") {
				return false
			}
		}
	}
	return true
}

var _ domain.PermissionProbe = (*TCCPermissionProbeImpl)(nil)
