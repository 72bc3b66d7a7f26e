// Package flowcell is the entry point for organizing demultiplexed
// flowcells: it drives the directory parser and the hierarchy builder over
// every input flowcell, records the batch, and hands the organized projects
// to a Launcher.
package flowcell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/fcsort/internal/builder"
	"github.com/harrison/fcsort/internal/config"
	"github.com/harrison/fcsort/internal/ledger"
	"github.com/harrison/fcsort/internal/logger"
	"github.com/harrison/fcsort/internal/models"
	"github.com/harrison/fcsort/internal/parser"
	"github.com/harrison/fcsort/internal/registry"
	"github.com/harrison/fcsort/internal/report"
	"github.com/harrison/fcsort/internal/transfer"
)

// Parser reads one flowcell directory.
type Parser interface {
	Parse(fcDir string) (*models.FlowcellManifest, error)
}

// Recorder persists batch status. *ledger.Store implements it.
type Recorder interface {
	BeginBatch(ctx context.Context, flowcells, restrictProjects, restrictSamples []string, transferMethod string) (*ledger.Batch, error)
	RecordTree(ctx context.Context, batchID string, tree *models.Tree) (int, error)
	FinishBatch(ctx context.Context, batchID, status, message string) error
}

// Options configures a run. Nil collaborators are built from the
// configuration.
type Options struct {
	// ConfigPath is used when Config is nil; empty falls back to NGI_CONFIG
	// and then ~/.ngipipeline/ngi_config.yaml
	ConfigPath string
	Config     *config.Config

	Logger   builder.Logger
	Parser   Parser
	Registry registry.Registry
	Transfer transfer.Agent
	Recorder Recorder
	Launcher Launcher

	// ReportPath writes a Markdown (or .html) report of the organized tree
	ReportPath string
}

// Result describes a successful run.
type Result struct {
	BatchID      string
	Flowcells    []string
	Tree         *models.Tree
	SummaryPaths []string
}

// ProcessFlowcell is the entry point for a single delivered flowcell. More
// than one distinct directory is a FatalError.
func ProcessFlowcell(ctx context.Context, dirs, restrictProjects, restrictSamples []string, opts Options) (*Result, error) {
	unique := Dedup(dirs)
	if len(unique) > 1 {
		return nil, tooManyFlowcellsError(unique)
	}
	return ProcessFlowcells(ctx, unique, restrictProjects, restrictSamples, opts)
}

// ProcessFlowcells organizes every distinct flowcell in dirs into one shared
// tree under the analysis root. Unreadable or missing flowcells are skipped;
// an empty result, a configuration problem or a transfer failure ends the run.
func ProcessFlowcells(ctx context.Context, dirs, restrictProjects, restrictSamples []string, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return nil, fatal(err)
		}
	}
	analysisRoot, err := cfg.AnalysisTopDir()
	if err != nil {
		return nil, fatal(err)
	}

	log := opts.Logger
	if log == nil {
		console := logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)
		var fileLog *logger.FileLogger
		if cfg.LogDir != "" {
			if fileLog, err = logger.NewFileLogger(cfg.LogDir, cfg.LogLevel); err != nil {
				console.LogWarn(fmt.Sprintf("File logging disabled: %v", err))
			} else {
				defer fileLog.Close()
			}
		}
		if fileLog != nil {
			log = logger.NewMultiLogger(console, fileLog)
		} else {
			log = console
		}
	}

	reg := opts.Registry
	if reg == nil {
		if cfg.Charon.BaseURL == "" {
			return nil, fatal(&config.ConfigError{Key: "charon.base_url", Msg: "required key is missing"})
		}
		reg = registry.NewCache(registry.NewCharonClient(registry.CharonConfig{
			BaseURL:  cfg.Charon.BaseURL,
			APIToken: cfg.Charon.APIToken,
			Timeout:  cfg.Charon.Timeout,
		}))
	}

	agent := opts.Transfer
	if agent == nil {
		if agent, err = transfer.New(transfer.Options{
			Method:    cfg.Transfer.Method,
			RsyncPath: cfg.Transfer.RsyncPath,
			RsyncArgs: cfg.Transfer.RsyncArgs,
			DirMode:   cfg.Analysis.DirMode,
			Logger:    log,
		}); err != nil {
			return nil, fatal(&config.ConfigError{Key: "transfer.method", Msg: err.Error()})
		}
	}

	p := opts.Parser
	if p == nil {
		p = parser.New(log)
	}

	rec := opts.Recorder
	if rec == nil && cfg.Ledger.Enabled {
		store, err := openLedger(cfg)
		if err != nil {
			log.LogWarn(fmt.Sprintf("Batch ledger disabled: %v", err))
		} else {
			defer store.Close()
			rec = store
		}
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher = &LoggingLauncher{Logger: log}
	}

	unique := Dedup(dirs)
	b := &batch{ctx: ctx, rec: rec, log: log}
	b.begin(unique, restrictProjects, restrictSamples, cfg.Transfer.Method)

	hb := builder.New(analysisRoot, reg, agent,
		builder.WithLogger(log),
		builder.WithDirMode(cfg.Analysis.DirMode))

	tree := models.NewTree()
	for _, dir := range unique {
		if err := ctx.Err(); err != nil {
			b.finish(ledger.StatusFailed, err.Error())
			return nil, err
		}

		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			log.LogWarn(fmt.Sprintf("Flowcell directory %s does not exist; skipping", dir))
			continue
		}

		manifest, err := p.Parse(dir)
		if err != nil {
			var perr *parser.ParseError
			if errors.As(err, &perr) {
				log.LogError(fmt.Sprintf("Skipping flowcell %s: %v", dir, err))
			} else {
				log.LogError(fmt.Sprintf("Skipping flowcell %s: unexpected error: %v", dir, err))
			}
			continue
		}

		log.LogInfo(fmt.Sprintf("Organizing flowcell %s (%d project(s))", manifest.FlowcellID, len(manifest.Projects)))
		if tree, err = hb.Build(ctx, []*models.FlowcellManifest{manifest}, tree, restrictProjects, restrictSamples); err != nil {
			b.finish(ledger.StatusFailed, err.Error())
			return nil, fmt.Errorf("organize flowcell %s: %w", dir, err)
		}
	}

	if tree.Empty() {
		ferr := noProjectsError(unique, restrictProjects, restrictSamples)
		log.LogInfo(ferr.Msg)
		b.finish(ledger.StatusFailed, ferr.Msg)
		return nil, ferr
	}

	res := &Result{BatchID: b.id, Flowcells: unique, Tree: tree}
	b.record(tree)

	if cfg.Report.ProjectSummaries && cfg.Transfer.Method != transfer.MethodDryRun {
		paths, err := report.WriteProjectSummaries(tree, report.SummaryOptions{
			BatchID: b.id,
			DirMode: cfg.Analysis.DirMode,
		})
		res.SummaryPaths = paths
		if err != nil {
			log.LogWarn(fmt.Sprintf("Project summaries incomplete: %v", err))
		}
	}

	if opts.ReportPath != "" {
		meta := report.Meta{BatchID: b.id, Flowcells: unique, Generated: time.Now()}
		if err := report.WriteFile(opts.ReportPath, tree, meta); err != nil {
			log.LogWarn(fmt.Sprintf("Could not write report %s: %v", opts.ReportPath, err))
		} else {
			log.LogInfo(fmt.Sprintf("Report written to %s", opts.ReportPath))
		}
	}

	if err := launcher.Launch(ctx, tree.Projects()); err != nil {
		b.finish(ledger.StatusFailed, err.Error())
		return res, fmt.Errorf("launch analysis: %w", err)
	}

	b.finish(ledger.StatusSucceeded, fmt.Sprintf("%d project(s) organized", tree.Len()))
	return res, nil
}

// Dedup returns the distinct absolute paths of dirs in first-seen order.
func Dedup(dirs []string) []string {
	seen := make(map[string]bool, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		} else {
			d = filepath.Clean(d)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func openLedger(cfg *config.Config) (*ledger.Store, error) {
	path, err := cfg.LedgerDBPath()
	if err != nil {
		return nil, err
	}
	return ledger.NewStore(path)
}

// fatal wraps configuration errors so the CLI reports them uniformly.
func fatal(err error) error {
	var ferr *FatalError
	if errors.As(err, &ferr) {
		return err
	}
	return &FatalError{Msg: err.Error(), Err: err}
}

// batch tracks ledger state for one run. Ledger failures are logged and
// never fail the run.
type batch struct {
	ctx context.Context
	rec Recorder
	log builder.Logger
	id  string
}

func (b *batch) begin(dirs, restrictProjects, restrictSamples []string, method string) {
	if b.rec == nil {
		return
	}
	rec, err := b.rec.BeginBatch(b.ctx, dirs, restrictProjects, restrictSamples, method)
	if err != nil {
		b.log.LogWarn(fmt.Sprintf("Could not record batch: %v", err))
		return
	}
	b.id = rec.ID
	b.log.LogDebug(fmt.Sprintf("Batch %s started", b.id))
}

func (b *batch) record(tree *models.Tree) {
	if b.rec == nil || b.id == "" {
		return
	}
	n, err := b.rec.RecordTree(b.ctx, b.id, tree)
	if err != nil {
		b.log.LogWarn(fmt.Sprintf("Could not record organized files for batch %s: %v", b.id, err))
		return
	}
	b.log.LogDebug(fmt.Sprintf("Recorded %d organized file(s) for batch %s", n, b.id))
}

func (b *batch) finish(status, message string) {
	if b.rec == nil || b.id == "" {
		return
	}
	// record the outcome even when the run was cancelled
	if err := b.rec.FinishBatch(context.WithoutCancel(b.ctx), b.id, status, message); err != nil {
		b.log.LogWarn(fmt.Sprintf("Could not finish batch %s: %v", b.id, err))
	}
}
