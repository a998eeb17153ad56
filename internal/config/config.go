// Package config loads the keymend settings file and resolves the paths the
// rest of the tool agrees on: where the keyboard config lives, where kanata
// logs, and which TCP port its config server listens on.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Config captures the fields keymend reads from its settings file.
type Config struct {
	// KanataConfig is the keyboard config path the managed service must run
	// with. Every probe and fix compares against this path.
	KanataConfig string
	// KanataBinary overrides binary discovery. Empty means search the
	// usual Homebrew locations.
	KanataBinary string
	// TCPPort is the kanata config server port.
	TCPPort int
	// LogDir holds the keymend log and the managed services' stdout/stderr.
	LogDir string
}

const (
	defaultConfigPath   = "~/.config/keymend/config.toml"
	defaultKanataConfig = "~/.config/keymend/keymend.kbd"
	defaultLogDir       = "/var/tmp"
	defaultTCPPort      = 37000
)

// Load locates and parses the settings file, falling back to defaults when
// it does not exist. An unreadable or malformed file is an error; a missing
// one is not.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := defaults()

	raw, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var file struct {
		KanataConfig string `toml:"kanata_config"`
		KanataBinary string `toml:"kanata_binary"`
		TCPPort      int    `toml:"tcp_port"`
		LogDir       string `toml:"log_dir"`
	}
	if err := toml.Unmarshal(raw, &file); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(file.KanataConfig); v != "" {
		cfg.KanataConfig = mustExpand(v)
	}
	if v := strings.TrimSpace(file.KanataBinary); v != "" {
		cfg.KanataBinary = mustExpand(v)
	}
	if file.TCPPort > 0 {
		cfg.TCPPort = file.TCPPort
	}
	if v := strings.TrimSpace(file.LogDir); v != "" {
		cfg.LogDir = mustExpand(v)
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		KanataConfig: mustExpand(defaultKanataConfig),
		TCPPort:      defaultTCPPort,
		LogDir:       defaultLogDir,
	}
}

// AppLogPath is where keymend writes its own structured log.
func (c Config) AppLogPath() string {
	return filepath.Join(c.LogDir, "keymend.log")
}

// KanataStdoutLog is the managed kanata service's stdout, the file the
// health probe tails for diagnostics.
func (c Config) KanataStdoutLog() string {
	return filepath.Join(c.LogDir, "keymend-kanata.out.log")
}

// KanataStderrLog is the managed kanata service's stderr.
func (c Config) KanataStderrLog() string {
	return filepath.Join(c.LogDir, "keymend-kanata.err.log")
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
