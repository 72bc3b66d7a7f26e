package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/harrison/fcsort/internal/config"
	"github.com/harrison/fcsort/internal/flowcell"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for fcsort
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fcsort",
		Short: "Organize demultiplexed flowcells into analysis-ready projects",
		Long: `fcsort sorts the fastq files of demultiplexed Illumina flowcells into the
analysis-ready tree DATA/<project>/<sample>/<libprep>/<date>_<flowcell>/,
resolving project and library prep identifiers against Charon.

Configuration is read from --config, then $NGI_CONFIG, then
~/.ngipipeline/ngi_config.yaml.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewOrganizeCommand())
	cmd.AddCommand(NewOrganizeFlowcellCommand())
	cmd.AddCommand(NewInspectCommand())
	cmd.AddCommand(NewHistoryCommand())
	cmd.AddCommand(NewReportCommand())
	cmd.AddCommand(NewWatchCommand())

	return cmd
}

// ExitMessage formats err for stderr. Fatal run errors are reported as
// "Quitting: <message>".
func ExitMessage(err error) string {
	var ferr *flowcell.FatalError
	if errors.As(err, &ferr) {
		return "Quitting: " + ferr.Msg
	}
	var cerr *config.ConfigError
	if errors.As(err, &cerr) {
		return "Quitting: " + cerr.Error()
	}
	return "Error: " + err.Error()
}
