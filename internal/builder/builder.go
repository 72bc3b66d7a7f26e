// Package builder folds flowcell manifests into the analysis-ready
// Project → Sample → LibraryPrep → SequencingRun tree, creating the matching
// directories under {analysisRoot}/DATA and copying the raw fastq files.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrison/fcsort/internal/models"
	"github.com/harrison/fcsort/internal/naming"
	"github.com/harrison/fcsort/internal/registry"
	"github.com/harrison/fcsort/internal/transfer"
)

// DefaultDirMode is the permission used for every created directory.
const DefaultDirMode os.FileMode = 0770

// Logger is the subset of logging the builder uses.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

// Builder mutates a models.Tree. It is not safe for concurrent use.
type Builder struct {
	analysisRoot string
	registry     registry.Registry
	transfer     transfer.Agent
	logger       Logger
	dirMode      os.FileMode
}

// Option customizes a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithDirMode sets the permission of created directories.
func WithDirMode(mode os.FileMode) Option {
	return func(b *Builder) { b.dirMode = mode }
}

// New returns a Builder writing under analysisRoot.
func New(analysisRoot string, reg registry.Registry, agent transfer.Agent, opts ...Option) *Builder {
	b := &Builder{
		analysisRoot: analysisRoot,
		registry:     reg,
		transfer:     agent,
		logger:       nopLogger{},
		dirMode:      DefaultDirMode,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = nopLogger{}
	}
	return b
}

// Build folds every manifest into tree and returns it; a nil tree starts a
// new one. Projects outside restrictProjects and samples outside
// restrictSamples are skipped when those lists are non-empty. Registry
// failures skip the affected project or file. Transfer failures and
// context cancellation abort the build.
func (b *Builder) Build(ctx context.Context, manifests []*models.FlowcellManifest, tree *models.Tree, restrictProjects, restrictSamples []string) (*models.Tree, error) {
	if tree == nil {
		tree = models.NewTree()
	}
	projectFilter := newFilter(restrictProjects)
	sampleFilter := newFilter(restrictSamples)

	for _, m := range manifests {
		if m == nil {
			continue
		}
		for _, entry := range m.Projects {
			if err := ctx.Err(); err != nil {
				return tree, err
			}
			if !projectFilter.allows(entry.Name) {
				b.logger.LogDebug(fmt.Sprintf("Skipping project %s", entry.Name))
				continue
			}
			if err := b.buildProject(ctx, m, entry, tree, sampleFilter); err != nil {
				return tree, err
			}
		}
	}

	return tree, nil
}

func (b *Builder) buildProject(ctx context.Context, m *models.FlowcellManifest, entry models.ProjectEntry, tree *models.Tree, samples filter) error {
	projectID, err := b.registry.ProjectID(ctx, entry.Name)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.LogError(fmt.Sprintf("Cannot proceed with project %q due to registry error: %v", entry.Name, err))
		return nil
	}

	b.logger.LogInfo(fmt.Sprintf("Setting up project %s (%s)", entry.Name, projectID))
	project, _ := tree.AddProject(projectID, entry.Name, b.analysisRoot)
	if err := b.ensureDir(project.Dir()); err != nil {
		return err
	}

	for _, sampleEntry := range entry.Samples {
		if !samples.allows(sampleEntry.Name) {
			b.logger.LogDebug(fmt.Sprintf("Skipping sample %s", sampleEntry.Name))
			continue
		}
		if err := b.buildSample(ctx, m, entry, sampleEntry, project); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) buildSample(ctx context.Context, m *models.FlowcellManifest, projectEntry models.ProjectEntry, entry models.SampleEntry, project *models.Project) error {
	b.logger.LogInfo(fmt.Sprintf("Setting up sample %s", entry.Name))
	sample, _ := project.AddSample(entry.Name, entry.Name)
	if err := b.ensureDir(sample.Dir()); err != nil {
		return err
	}

	runKey := m.ShortRunID()
	srcDir := m.SampleSourceDir(projectEntry, entry)
	var lastRun *models.SequencingRun
	touched := make(map[*models.SequencingRun]struct{})

	for _, fq := range naming.FilterFastq(entry.Files) {
		libprepID, err := b.registry.LibraryPrepID(ctx, project.ID, entry.Name, m.FlowcellID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.LogError(fmt.Sprintf("Cannot determine library prep for %s (project %s, sample %s, flowcell %s): %v",
				fq, project.Name, entry.Name, m.FlowcellID, err))
			continue
		}

		libprep, _ := sample.AddLibraryPrep(libprepID, libprepID)
		if err := b.ensureDir(libprep.Dir()); err != nil {
			return err
		}

		run, _ := libprep.AddSequencingRun(runKey, runKey)
		if err := b.ensureDir(run.Dir()); err != nil {
			return err
		}

		if !run.AddSourceFile(fq, filepath.Join(srcDir, fq)) {
			b.logger.LogDebug(fmt.Sprintf("%s already registered under %s", fq, run.Dir()))
		}
		lastRun = run
		touched[run] = struct{}{}
	}

	if lastRun == nil {
		return nil
	}
	if len(touched) > 1 {
		b.logger.LogWarn(fmt.Sprintf("Sample %s spans %d sequencing runs in flowcell %s; only files of %s are copied",
			entry.Name, len(touched), m.FlowcellID, lastRun.Dir()))
	}

	// the run may also hold files from another Unaligned* container of
	// this flowcell, so copy from each file's recorded source
	sources := lastRun.SourcePaths()
	b.logger.LogInfo(fmt.Sprintf("Copying %d fastq file(s) from %s to %s...", len(sources), srcDir, lastRun.Dir()))
	return b.transfer.Transfer(ctx, sources, lastRun.Dir())
}

// ensureDir creates dir and any parents; an existing directory is success.
func (b *Builder) ensureDir(dir string) error {
	if err := os.MkdirAll(dir, b.dirMode); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// filter is a name allow-list; an empty list allows everything.
// Entries are normalized so sample sheet spellings match canonical names.
type filter map[string]struct{}

func newFilter(names []string) filter {
	if len(names) == 0 {
		return nil
	}
	f := make(filter, len(names))
	for _, n := range names {
		f[naming.Normalize(n)] = struct{}{}
	}
	return f
}

func (f filter) allows(name string) bool {
	if f == nil {
		return true
	}
	_, ok := f[name]
	return ok
}

type nopLogger struct{}

func (nopLogger) LogDebug(string) {}
func (nopLogger) LogInfo(string)  {}
func (nopLogger) LogWarn(string)  {}
func (nopLogger) LogError(string) {}
