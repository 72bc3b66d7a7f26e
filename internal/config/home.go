package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables read by fcsort.
const (
	EnvConfigPath     = "NGI_CONFIG"
	EnvCharonBaseURL  = "CHARON_BASE_URL"
	EnvCharonAPIToken = "CHARON_API_TOKEN"
)

// homeDirName is the per-user pipeline directory under $HOME.
const homeDirName = ".ngipipeline"

// LocateConfig resolves the configuration file path.
// Priority order:
//  1. explicit path (from --config)
//  2. NGI_CONFIG environment variable
//  3. ~/.ngipipeline/ngi_config.yaml
func LocateConfig(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", &ConfigError{Msg: fmt.Sprintf("no config given, %s unset and home directory unknown: %v", EnvConfigPath, err)}
	}
	return filepath.Join(home, homeDirName, "ngi_config.yaml"), nil
}

// Load locates and loads the configuration.
func Load(explicit string) (*Config, error) {
	path, err := LocateConfig(explicit)
	if err != nil {
		return nil, err
	}
	return LoadConfig(path)
}

// LedgerDBPath returns the configured ledger path, or
// ~/.ngipipeline/fcsort/ledger.db when none is set.
func (c *Config) LedgerDBPath() (string, error) {
	if c.Ledger.DBPath != "" {
		return c.Ledger.DBPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, homeDirName, "fcsort", "ledger.db"), nil
}
