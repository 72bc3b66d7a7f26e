package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError reports a missing or invalid configuration value. It is fatal
// for a whole organize run.
type ConfigError struct {
	Key string
	Msg string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "configuration error: " + e.Msg
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Msg)
}

// AnalysisConfig locates the analysis-ready tree.
type AnalysisConfig struct {
	// TopDir is the analysis root; projects live in TopDir/DATA
	TopDir string `yaml:"top_dir"`

	// DirMode is the permission of created directories
	DirMode os.FileMode `yaml:"-"`
}

// CharonConfig configures the metadata registry client.
type CharonConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIToken string        `yaml:"api_token"`
	Timeout  time.Duration `yaml:"-"`
}

// TransferConfig selects how fastq files are copied.
type TransferConfig struct {
	// Method is one of rsync, copy, dry-run
	Method    string   `yaml:"method"`
	RsyncPath string   `yaml:"rsync_path"`
	RsyncArgs []string `yaml:"rsync_args"`
}

// LedgerConfig configures the local SQLite ledger of organize batches.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// ReportConfig controls generated summaries.
type ReportConfig struct {
	// ProjectSummaries writes DATA/<project>/.fcsort/organized.yaml
	ProjectSummaries bool `yaml:"project_summaries"`
}

// WatchConfig configures the delivery inbox watcher.
type WatchConfig struct {
	Inbox  string        `yaml:"inbox"`
	Marker string        `yaml:"marker"`
	Settle time.Duration `yaml:"-"`
}

// Config represents fcsort configuration options
type Config struct {
	Analysis AnalysisConfig `yaml:"analysis"`
	Charon   CharonConfig   `yaml:"charon"`
	Transfer TransferConfig `yaml:"transfer"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error),
	// case-insensitive; unknown levels log at info
	LogLevel string `yaml:"log_level"`

	// LogDir is where per-batch log files are written; empty disables them
	LogDir string `yaml:"log_dir"`

	Ledger LedgerConfig `yaml:"ledger"`
	Report ReportConfig `yaml:"report"`
	Watch  WatchConfig  `yaml:"watch"`

	// Path is the file the configuration was loaded from
	Path string `yaml:"-"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			DirMode: 0770,
		},
		Charon: CharonConfig{
			Timeout: 30 * time.Second,
		},
		Transfer: TransferConfig{
			Method:    "rsync",
			RsyncPath: "rsync",
		},
		LogLevel: "info",
		Ledger: LedgerConfig{
			Enabled: true,
		},
		Report: ReportConfig{
			ProjectSummaries: true,
		},
		Watch: WatchConfig{
			Marker: "RTAComplete.txt",
			Settle: 2 * time.Second,
		},
	}
}

// yamlConfig mirrors Config with types that distinguish "unset" from zero.
type yamlConfig struct {
	Analysis struct {
		TopDir  string `yaml:"top_dir"`
		DirMode string `yaml:"dir_mode"`
	} `yaml:"analysis"`
	Charon struct {
		BaseURL  string `yaml:"base_url"`
		APIToken string `yaml:"api_token"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"charon"`
	Transfer TransferConfig `yaml:"transfer"`
	LogLevel string         `yaml:"log_level"`
	LogDir   string         `yaml:"log_dir"`
	Ledger   struct {
		Enabled *bool  `yaml:"enabled"`
		DBPath  string `yaml:"db_path"`
	} `yaml:"ledger"`
	Report struct {
		ProjectSummaries *bool `yaml:"project_summaries"`
	} `yaml:"report"`
	Watch struct {
		Inbox  string `yaml:"inbox"`
		Marker string `yaml:"marker"`
		Settle string `yaml:"settle"`
	} `yaml:"watch"`
}

// LoadConfig loads configuration from path, merged over the defaults, and
// applies environment overrides. A missing file is a ConfigError.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{Msg: fmt.Sprintf("config file %s does not exist", path)}
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// Parse merges YAML data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if y.Analysis.TopDir != "" {
		cfg.Analysis.TopDir = y.Analysis.TopDir
	}
	if y.Analysis.DirMode != "" {
		mode, err := strconv.ParseUint(y.Analysis.DirMode, 8, 32)
		if err != nil {
			return nil, &ConfigError{Key: "analysis.dir_mode", Msg: fmt.Sprintf("invalid octal mode %q", y.Analysis.DirMode)}
		}
		cfg.Analysis.DirMode = os.FileMode(mode)
	}

	if y.Charon.BaseURL != "" {
		cfg.Charon.BaseURL = y.Charon.BaseURL
	}
	if y.Charon.APIToken != "" {
		cfg.Charon.APIToken = y.Charon.APIToken
	}
	if y.Charon.Timeout != "" {
		timeout, err := time.ParseDuration(y.Charon.Timeout)
		if err != nil {
			return nil, &ConfigError{Key: "charon.timeout", Msg: fmt.Sprintf("invalid duration %q", y.Charon.Timeout)}
		}
		cfg.Charon.Timeout = timeout
	}

	if y.Transfer.Method != "" {
		cfg.Transfer.Method = y.Transfer.Method
	}
	if y.Transfer.RsyncPath != "" {
		cfg.Transfer.RsyncPath = y.Transfer.RsyncPath
	}
	if len(y.Transfer.RsyncArgs) > 0 {
		cfg.Transfer.RsyncArgs = y.Transfer.RsyncArgs
	}

	if y.LogLevel != "" {
		cfg.LogLevel = y.LogLevel
	}
	if y.LogDir != "" {
		cfg.LogDir = y.LogDir
	}

	if y.Ledger.Enabled != nil {
		cfg.Ledger.Enabled = *y.Ledger.Enabled
	}
	if y.Ledger.DBPath != "" {
		cfg.Ledger.DBPath = y.Ledger.DBPath
	}
	if y.Report.ProjectSummaries != nil {
		cfg.Report.ProjectSummaries = *y.Report.ProjectSummaries
	}

	if y.Watch.Inbox != "" {
		cfg.Watch.Inbox = y.Watch.Inbox
	}
	if y.Watch.Marker != "" {
		cfg.Watch.Marker = y.Watch.Marker
	}
	if y.Watch.Settle != "" {
		settle, err := time.ParseDuration(y.Watch.Settle)
		if err != nil {
			return nil, &ConfigError{Key: "watch.settle", Msg: fmt.Sprintf("invalid duration %q", y.Watch.Settle)}
		}
		cfg.Watch.Settle = settle
	}

	return cfg, nil
}

// ApplyEnv overrides registry credentials from CHARON_BASE_URL and
// CHARON_API_TOKEN when they are set.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvCharonBaseURL); v != "" {
		c.Charon.BaseURL = v
	}
	if v := getenv(EnvCharonAPIToken); v != "" {
		c.Charon.APIToken = v
	}
}

// MergeWithFlags merges CLI flags into the configuration.
// Non-nil flag values override configuration values.
func (c *Config) MergeWithFlags(logLevel *string, logDir *string, transferMethod *string) {
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if transferMethod != nil {
		c.Transfer.Method = *transferMethod
	}
}

// Validate checks static values. It does not touch the filesystem.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Analysis.TopDir) == "" {
		return &ConfigError{Key: "analysis.top_dir", Msg: "required key is missing"}
	}

	switch c.Transfer.Method {
	case "rsync", "copy", "dry-run":
	default:
		return &ConfigError{Key: "transfer.method", Msg: fmt.Sprintf("invalid method %q, must be one of: rsync, copy, dry-run", c.Transfer.Method)}
	}

	if c.Charon.Timeout < 0 {
		return &ConfigError{Key: "charon.timeout", Msg: fmt.Sprintf("must be >= 0, got %v", c.Charon.Timeout)}
	}
	return nil
}

// AnalysisTopDir returns the absolute analysis root and fails with a
// ConfigError when it does not exist.
func (c *Config) AnalysisTopDir() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	dir, err := filepath.Abs(c.Analysis.TopDir)
	if err != nil {
		return "", &ConfigError{Key: "analysis.top_dir", Msg: err.Error()}
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", &ConfigError{Key: "analysis.top_dir", Msg: fmt.Sprintf("analysis top directory %s does not exist", dir)}
	}
	return dir, nil
}
