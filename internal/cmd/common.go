package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/fcsort/internal/builder"
	"github.com/harrison/fcsort/internal/config"
	"github.com/harrison/fcsort/internal/logger"
	"github.com/harrison/fcsort/internal/transfer"
)

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to config file (default: $NGI_CONFIG or ~/.ngipipeline/ngi_config.yaml)")
}

func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	cmd.Flags().String("log-dir", "", "Directory for per-run log files (overrides config)")
}

// loadConfig loads the configuration and applies flags that were set.
// Validation is left to the commands that need the analysis tree.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var logLevel, logDir, method *string
	if flagChanged(cmd, "log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		logLevel = &v
	}
	if flagChanged(cmd, "log-dir") {
		v, _ := cmd.Flags().GetString("log-dir")
		logDir = &v
	}
	if flagChanged(cmd, "dry-run") {
		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			v := transfer.MethodDryRun
			method = &v
		}
	}
	cfg.MergeWithFlags(logLevel, logDir, method)
	return cfg, nil
}

func flagChanged(cmd *cobra.Command, name string) bool {
	return cmd.Flags().Lookup(name) != nil && cmd.Flags().Changed(name)
}

// newLogger returns a console logger on the command's stderr, fanned out to
// a file logger when a log directory is configured. The returned func closes
// the file logger.
func newLogger(cmd *cobra.Command, cfg *config.Config) (builder.Logger, func()) {
	console := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if cfg.LogDir == "" {
		return console, func() {}
	}

	fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		console.LogWarn(fmt.Sprintf("File logging disabled: %v", err))
		return console, func() {}
	}
	console.LogDebug(fmt.Sprintf("Logging to %s", fileLog.Path()))
	return logger.NewMultiLogger(console, fileLog), func() { fileLog.Close() }
}
