package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harrison/fcsort/internal/models"
	"github.com/harrison/fcsort/internal/parser"
)

// NewInspectCommand creates the 'fcsort inspect' command
func NewInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <flowcell-dir>",
		Short: "Show what a flowcell contains without organizing it",
		Long: `Parse a flowcell directory and print its run metadata, projects, samples
and fastq files. Nothing is written and the registry is not contacted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			manifest, err := parser.New(nil).Parse(args[0])
			if err != nil {
				return err
			}
			switch format {
			case "yaml":
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(manifest)
			case "text":
				printManifest(cmd.OutOrStdout(), manifest)
				return nil
			default:
				return fmt.Errorf("unknown format %q (want text or yaml)", format)
			}
		},
	}
	cmd.Flags().StringP("format", "f", "text", "Output format: text or yaml")
	return cmd
}

func printManifest(w io.Writer, m *models.FlowcellManifest) {
	fmt.Fprintf(w, "Flowcell:  %s\n", m.FlowcellID)
	fmt.Fprintf(w, "Path:      %s\n", m.Path)
	fmt.Fprintf(w, "Run date:  %s\n", m.RunDate)
	fmt.Fprintf(w, "Run key:   %s\n", m.ShortRunID())
	for _, d := range m.BasecallStatsDirs {
		fmt.Fprintf(w, "Stats:     %s\n", d)
	}
	fmt.Fprintf(w, "Projects:  %d (%d sample(s))\n", len(m.Projects), m.SampleCount())

	for _, p := range m.Projects {
		fmt.Fprintf(w, "\n%s  [%s/%s]\n", p.Name, p.DataDir, p.DirName)
		for _, s := range p.Samples {
			fmt.Fprintf(w, "  %s  (%d fastq)\n", s.Name, len(s.Files))
			for _, f := range s.Files {
				fmt.Fprintf(w, "    %s\n", f)
			}
		}
	}
}
