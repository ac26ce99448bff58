// Package config loads the ecuflash settings file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kimboflash/ecuflash/pkg/logging"
	"gopkg.in/yaml.v3"
)

const (
	appName    = "ecuflash"
	configFile = "config.yaml"
	version    = 1
)

type Config struct {
	Version int `yaml:"version"`
	// Adapter is a registered adapter name or alias.
	Adapter  string `yaml:"adapter"`
	Port     string `yaml:"port"`
	Baudrate int    `yaml:"baudrate"`
	// ReadTimeout is the serial poll interval.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// ResponseTimeout bounds each diagnostic response wait; 0 waits forever.
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	SeedKey         string        `yaml:"seed_key"`
	// Catalog replaces the built in patch catalog when set.
	Catalog string          `yaml:"catalog,omitempty"`
	Log     logging.Options `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Version:         version,
		Adapter:         "serial",
		Baudrate:        10400,
		ReadTimeout:     50 * time.Millisecond,
		ResponseTimeout: 5 * time.Second,
		SeedKey:         "complement",
	}
}

// Dir returns the OS configuration directory for ecuflash:
//   - Linux: $XDG_CONFIG_HOME/ecuflash or $HOME/.config/ecuflash
//   - macOS: $HOME/.config/ecuflash
//   - Windows: %LOCALAPPDATA%\ecuflash
func Dir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if d := os.Getenv("LOCALAPPDATA"); d != "" {
			return filepath.Join(d, appName), nil
		}
	case "darwin":
	default:
		if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
			return filepath.Join(d, appName), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "Local", appName), nil
	}
	return filepath.Join(home, ".config", appName), nil
}

func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads path, or the default location when path is empty. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Version != version {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", cfg.Version, version)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = Default().ReadTimeout
	}
	if cfg.ResponseTimeout < 0 {
		return nil, fmt.Errorf("response_timeout must not be negative")
	}
	return cfg, nil
}

// Save writes cfg to path through a temporary file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}
