// Package config loads the optional dmvault configuration file and
// resolves effective settings from flags, environment, and file, in that
// order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables honored by the CLI.
const (
	EnvRoot       = "DMVAULT_ROOT"
	EnvKeyring    = "DMVAULT_KEYRING"
	EnvPassphrase = "DMVAULT_PASSPHRASE"
)

// FileName is the default config file under the user home directory.
const FileName = ".dmvault.yaml"

// ExportDefaults holds default flags for 'file export'.
type ExportDefaults struct {
	Relative  bool `yaml:"relative"`
	AssumeYes bool `yaml:"assume_yes"`
}

// Config mirrors the YAML file. Zero values mean "not set".
type Config struct {
	VaultRoot  string `yaml:"vault_root"`
	KeyringDir string `yaml:"keyring_dir"`

	// ValidateBeforeMutate gates every mutating command behind key
	// validation. Defaults to true when unset.
	ValidateBeforeMutate *bool `yaml:"validate_before_mutate"`

	Export ExportDefaults `yaml:"export"`
}

// Load reads a config file. A missing file yields an empty config, not
// an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return &c, nil
}

// DefaultPath returns the config file location under the user home
// directory, or "" when the home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, FileName)
}

// ResolveRoot picks the vault root: flag, then environment, then config
// file, then the current directory (the vault lives where it was
// initialized, like a repository).
func (c *Config) ResolveRoot(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvRoot); env != "" {
		return env
	}
	if c.VaultRoot != "" {
		return c.VaultRoot
	}
	return "."
}

// ResolveKeyringDir picks the keyring directory: flag, environment,
// config file, then ~/.dmvault/keyring.
func (c *Config) ResolveKeyringDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvKeyring); env != "" {
		return env
	}
	if c.KeyringDir != "" {
		return c.KeyringDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "keyring"
	}
	return filepath.Join(home, ".dmvault", "keyring")
}

// ValidatePolicy reports whether mutating commands must re-validate the
// bound key first. Defaults to true.
func (c *Config) ValidatePolicy() bool {
	if c.ValidateBeforeMutate == nil {
		return true
	}
	return *c.ValidateBeforeMutate
}
