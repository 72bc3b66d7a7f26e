package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/fcsort/internal/builder"
	"github.com/harrison/fcsort/internal/config"
	"github.com/harrison/fcsort/internal/flowcell"
	"github.com/harrison/fcsort/internal/watch"
)

// NewWatchCommand creates the 'fcsort watch' command
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Organize flowcells as they are delivered to the inbox",
		Long: `Watch the configured inbox (watch.inbox) and organize every flowcell once
its marker file (watch.marker, RTAComplete.txt by default) appears. Flowcells
are organized one at a time; a failed flowcell is logged and watching
continues. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
	addConfigFlag(cmd)
	addLoggingFlags(cmd)
	cmd.Flags().String("inbox", "", "Directory to watch (overrides watch.inbox)")
	cmd.Flags().Bool("process-existing", false, "Also organize flowcells already delivered when watching starts")
	cmd.Flags().Bool("dry-run", false, "Create directories but copy nothing")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if inbox, _ := cmd.Flags().GetString("inbox"); inbox != "" {
		cfg.Watch.Inbox = inbox
	}
	if cfg.Watch.Inbox == "" {
		return &config.ConfigError{Key: "watch.inbox", Msg: "required key is missing"}
	}
	if _, err := cfg.AnalysisTopDir(); err != nil {
		return err
	}

	log, closeLog := newLogger(cmd, cfg)
	defer closeLog()

	w, err := watch.New(cfg.Watch.Inbox, cfg.Watch.Marker, cfg.Watch.Settle)
	if err != nil {
		return fmt.Errorf("watch %s: %w", cfg.Watch.Inbox, err)
	}
	defer w.Close()

	ctx := cmd.Context()
	opts := flowcell.Options{Config: cfg, Logger: log}
	organize := func(dir string) error {
		_, err := flowcell.ProcessFlowcell(ctx, []string{dir}, nil, nil, opts)
		return err
	}

	if existing, _ := cmd.Flags().GetBool("process-existing"); existing {
		dirs, err := watch.Delivered(cfg.Watch.Inbox, cfg.Watch.Marker)
		if err != nil {
			return err
		}
		for _, dir := range dirs {
			if ctx.Err() != nil {
				return nil
			}
			handleDelivery(log, dir, organize)
		}
	}

	log.LogInfo(fmt.Sprintf("Watching %s for %s", w.Inbox(), cfg.Watch.Marker))
	for {
		select {
		case <-ctx.Done():
			log.LogInfo("Stopped watching")
			return nil
		case d := <-w.Events():
			handleDelivery(log, d.Dir, organize)
		case err := <-w.Errors():
			log.LogWarn(fmt.Sprintf("Watcher error: %v", err))
		}
	}
}

// handleDelivery organizes one delivered flowcell; failures are logged and
// never stop the watch.
func handleDelivery(log builder.Logger, dir string, organize func(string) error) {
	log.LogInfo(fmt.Sprintf("Flowcell delivered: %s", dir))
	switch err := organize(dir); {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.LogWarn(fmt.Sprintf("Interrupted while organizing %s", dir))
	default:
		log.LogError(ExitMessage(err))
	}
}
