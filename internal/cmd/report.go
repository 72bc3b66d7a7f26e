package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/fcsort/internal/report"
)

// NewReportCommand creates the 'fcsort report' command
func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [project]...",
		Short: "Report what has been organized into the analysis tree",
		Long: `Build a report from the per-project summaries kept in
DATA/<project>/.fcsort/organized.yaml. Without project names every project
with a summary is included. The report is printed as Markdown, or written to
--out (".html" renders HTML).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			root, err := cfg.AnalysisTopDir()
			if err != nil {
				return err
			}

			tree, err := report.LoadSummaries(root, args)
			if err != nil {
				return err
			}

			meta := report.Meta{Generated: time.Now()}
			outPath, _ := cmd.Flags().GetString("out")
			if outPath == "" {
				fmt.Fprint(cmd.OutOrStdout(), report.Markdown(tree, meta))
				return nil
			}
			if err := report.WriteFile(outPath, tree, meta); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", outPath)
			return nil
		},
	}
	addConfigFlag(cmd)
	cmd.Flags().StringP("out", "o", "", "Write the report to this file instead of stdout")
	return cmd
}
