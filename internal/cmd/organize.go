package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/fcsort/internal/flowcell"
)

type processFunc func(ctx context.Context, dirs, restrictProjects, restrictSamples []string, opts flowcell.Options) (*flowcell.Result, error)

// NewOrganizeCommand creates the 'fcsort organize' command
func NewOrganizeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "organize <flowcell-dir>...",
		Short: "Organize one or more demultiplexed flowcells",
		Long: `Sort the fastq files of every given flowcell into the analysis tree.

Flowcells passed more than once are processed once. Samples seen in several
flowcells are aggregated under the same library prep, one sequencing run per
flowcell. The run fails when no project could be organized.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrganize(cmd, args, flowcell.ProcessFlowcells)
		},
	}
	addOrganizeFlags(cmd)
	return cmd
}

// NewOrganizeFlowcellCommand creates the 'fcsort organize-flowcell' command,
// the entry point used when a single flowcell is delivered.
func NewOrganizeFlowcellCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "organize-flowcell <flowcell-dir>",
		Short: "Organize a single delivered flowcell",
		Long: `Organize exactly one flowcell. Passing more than one distinct directory
is an error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrganize(cmd, args, flowcell.ProcessFlowcell)
		},
	}
	addOrganizeFlags(cmd)
	return cmd
}

func addOrganizeFlags(cmd *cobra.Command) {
	addConfigFlag(cmd)
	addLoggingFlags(cmd)
	cmd.Flags().StringArrayP("project", "p", nil, "Only organize this project (repeatable)")
	cmd.Flags().StringArrayP("sample", "s", nil, "Only organize this sample (repeatable)")
	cmd.Flags().Bool("dry-run", false, "Create directories but copy nothing")
	cmd.Flags().String("report", "", "Write a report of the organized tree (.md or .html)")
}

func runOrganize(cmd *cobra.Command, args []string, process processFunc) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	projects, _ := cmd.Flags().GetStringArray("project")
	samples, _ := cmd.Flags().GetStringArray("sample")
	reportPath, _ := cmd.Flags().GetString("report")

	log, closeLog := newLogger(cmd, cfg)
	defer closeLog()

	opts := flowcell.Options{
		Config:     cfg,
		Logger:     log,
		ReportPath: reportPath,
	}

	res, err := process(cmd.Context(), args, projects, samples, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Organized %d project(s) from %d flowcell(s)\n", res.Tree.Len(), len(res.Flowcells))
	for _, p := range res.Tree.Projects() {
		fmt.Fprintf(out, "  %s (%s): %d sample(s) -> %s\n", p.Name, p.ID, len(p.Samples()), p.Dir())
	}
	if res.BatchID != "" {
		fmt.Fprintf(out, "Batch: %s\n", res.BatchID)
	}
	return nil
}
