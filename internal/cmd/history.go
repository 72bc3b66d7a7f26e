package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/fcsort/internal/ledger"
)

// NewHistoryCommand creates the 'fcsort history' command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [batch-id]",
		Short: "List organize batches, or the files of one batch",
		Long: `Without arguments, list recent organize batches from the ledger with their
status. With a batch id (or an unambiguous prefix), list every fastq file the
batch placed in the analysis tree.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}
	addConfigFlag(cmd)
	cmd.Flags().IntP("limit", "n", 20, "Number of batches to list (0 = all)")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dbPath, err := cfg.LedgerDBPath()
	if err != nil {
		return fmt.Errorf("failed to get ledger path: %w", err)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintf(out, "No batches recorded yet.\n")
		fmt.Fprintf(out, "Ledger path: %s\n", dbPath)
		return nil
	}

	store, err := ledger.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	if len(args) == 1 {
		batch, err := store.GetBatch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		files, err := store.FilesForBatch(cmd.Context(), batch.ID)
		if err != nil {
			return err
		}
		printBatch(out, batch, files)
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	batches, err := store.ListBatches(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Fprintln(out, "No batches recorded yet.")
		return nil
	}
	printBatches(out, batches)
	return nil
}

func statusText(status string) string {
	switch status {
	case ledger.StatusSucceeded:
		return color.GreenString(status)
	case ledger.StatusFailed:
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}

func printBatches(w io.Writer, batches []*ledger.Batch) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "%-8s  %-19s  %-9s  %5s  %s\n", "BATCH", "STARTED", "STATUS", "FILES", "FLOWCELLS")
	for _, b := range batches {
		// pad before coloring so escape codes do not break alignment
		status := statusText(fmt.Sprintf("%-9s", b.Status))
		fmt.Fprintf(w, "%-8s  %-19s  %s  %5d  %s\n",
			shortID(b.ID), b.StartedAt.Local().Format("2006-01-02 15:04:05"), status, b.FileCount, strings.Join(b.Flowcells, ","))
	}
}

func printBatch(w io.Writer, b *ledger.Batch, files []*ledger.OrganizedFile) {
	fmt.Fprintf(w, "Batch:     %s\n", b.ID)
	fmt.Fprintf(w, "Status:    %s\n", statusText(b.Status))
	if b.Message != "" {
		fmt.Fprintf(w, "Message:   %s\n", b.Message)
	}
	fmt.Fprintf(w, "Started:   %s\n", b.StartedAt.Local().Format(time.RFC3339))
	if b.FinishedAt != nil {
		fmt.Fprintf(w, "Duration:  %s\n", b.FinishedAt.Sub(b.StartedAt).Round(time.Millisecond))
	}
	if b.TransferMethod != "" {
		fmt.Fprintf(w, "Transfer:  %s\n", b.TransferMethod)
	}
	for _, fc := range b.Flowcells {
		fmt.Fprintf(w, "Flowcell:  %s\n", fc)
	}
	if len(b.RestrictProjects) > 0 {
		fmt.Fprintf(w, "Projects:  %s\n", strings.Join(b.RestrictProjects, ","))
	}
	if len(b.RestrictSamples) > 0 {
		fmt.Fprintf(w, "Samples:   %s\n", strings.Join(b.RestrictSamples, ","))
	}

	fmt.Fprintf(w, "\n%d organized file(s)\n", len(files))
	for _, f := range files {
		fmt.Fprintf(w, "  %s/%s/%s/%s  %s\n", f.ProjectName, f.Sample, f.LibraryPrep, f.SeqRun, f.FileName)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
