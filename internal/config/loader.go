// Package config loads the bridge configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/devbridge/internal/constants"
)

// Loader handles loading and saving the config file.
type Loader struct {
	path string
}

// NewLoader creates a loader for path. An empty path is resolved in this order:
//  1. DEVBRIDGE_CONFIG environment variable.
//  2. ~/.devbridge/config.yaml.
//  3. A fallback under the temp dir when there is no home directory.
//
// A missing file is not an error; Load then returns defaults with environment
// overrides applied.
func NewLoader(path string) *Loader {
	if path != "" {
		return &Loader{path: path}
	}
	if env := os.Getenv(constants.EnvConfigPath); env != "" {
		return &Loader{path: env}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = filepath.Join(os.TempDir(), "devbridge-fallback")
	}
	return &Loader{path: filepath.Join(homeDir, constants.DefaultDir, constants.ConfigFile)}
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the config file, applies environment overrides and validates the
// result.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	//nolint:gosec // G304: Path is chosen by the user.
	data, err := os.ReadFile(l.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", l.path, err)
		}
	}

	if err := MergeFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg to the config file, creating its directory if needed.
func (l *Loader) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	//nolint:gosec // G301: Directory needs standard permissions for traversal
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(l.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
