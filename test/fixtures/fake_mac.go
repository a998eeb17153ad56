// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// FakeMac materializes the on-disk artifacts the probes read on a real
// machine (TCC databases, the driver bundle, kanata logs) under a temp
// root, so integration tests can run the real probes anywhere.
type FakeMac struct {
	Root string
}

// NewFakeMac creates a fake machine rooted at the given directory.
func NewFakeMac(root string) *FakeMac {
	return &FakeMac{Root: root}
}

// TCCGrant is one row of the fake TCC access table.
type TCCGrant struct {
	Service   string
	Client    string
	AuthValue int
}

// Granted builds an allowed grant for the given service and client.
func Granted(service, client string) TCCGrant {
	return TCCGrant{Service: service, Client: client, AuthValue: 2}
}

// CreateTCCDB writes a TCC database containing exactly the given grants,
// replacing any previous one at the same path.
func (f *FakeMac) CreateTCCDB(grants ...TCCGrant) (string, error) {
	path := filepath.Join(f.Root, "TCC.db")
	os.Remove(path)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", fmt.Errorf("open tcc db: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE access (service TEXT, client TEXT, client_type INTEGER, auth_value INTEGER)`); err != nil {
		return "", fmt.Errorf("create access table: %w", err)
	}
	for _, g := range grants {
		if _, err := db.Exec(`INSERT INTO access (service, client, client_type, auth_value) VALUES (?, ?, 0, ?)`,
			g.Service, g.Client, g.AuthValue); err != nil {
			return "", fmt.Errorf("insert grant: %w", err)
		}
	}
	return path, nil
}

const driverInfoTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleShortVersionString</key>
	<string>%s</string>
	<key>CFBundleVersion</key>
	<string>%s</string>
</dict>
</plist>
`

// CreateDriverInfoPlist writes a driver bundle Info.plist reporting the
// given version and returns its path.
func (f *FakeMac) CreateDriverInfoPlist(version string) (string, error) {
	dir := filepath.Join(f.Root, "Karabiner-VirtualHIDDevice-Manager.app", "Contents")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "Info.plist")
	content := fmt.Sprintf(driverInfoTemplate, version, version)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// CreateKanataLog writes the managed service's stdout log with the given
// lines, replacing any previous content.
func (f *FakeMac) CreateKanataLog(lines ...string) (string, error) {
	path := filepath.Join(f.Root, "keymend-kanata.out.log")
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// CreateConfigFile writes a keymend config file with the given TOML body.
func (f *FakeMac) CreateConfigFile(body string) (string, error) {
	path := filepath.Join(f.Root, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return "", err
	}
	return path, nil
}
