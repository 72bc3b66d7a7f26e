package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/harrison/fcsort/internal/models"
	"github.com/harrison/fcsort/internal/registry"
	"github.com/harrison/fcsort/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	projects     map[string]string
	libprep      func(projectID, sample, flowcell string, call int) (string, error)
	libprepCalls int
}

func (f *fakeRegistry) ProjectID(_ context.Context, name string) (string, error) {
	if id, ok := f.projects[name]; ok {
		return id, nil
	}
	return "", &registry.Error{Op: "project lookup", Err: registry.ErrNotFound}
}

func (f *fakeRegistry) LibraryPrepID(_ context.Context, projectID, sample, flowcell string) (string, error) {
	f.libprepCalls++
	if f.libprep != nil {
		return f.libprep(projectID, sample, flowcell, f.libprepCalls)
	}
	return "A", nil
}

type transferCall struct {
	sources []string
	dest    string
}

type fakeTransfer struct {
	calls []transferCall
	err   error
}

func (f *fakeTransfer) Transfer(_ context.Context, sources []string, dest string) error {
	f.calls = append(f.calls, transferCall{sources: sources, dest: dest})
	return f.err
}

type recordingLogger struct {
	warnings []string
	errors   []string
}

func (l *recordingLogger) LogDebug(string)   {}
func (l *recordingLogger) LogInfo(string)    {}
func (l *recordingLogger) LogWarn(m string)  { l.warnings = append(l.warnings, m) }
func (l *recordingLogger) LogError(m string) { l.errors = append(l.errors, m) }

func manifest(fcName, date string, projects ...models.ProjectEntry) *models.FlowcellManifest {
	return &models.FlowcellManifest{
		Path:       "/seq/" + date + "_SN1_0001_A" + fcName,
		FlowcellID: "A" + fcName,
		Name:       fcName,
		Position:   "A",
		RunDate:    date,
		Projects:   projects,
	}
}

func project(name string, samples ...models.SampleEntry) models.ProjectEntry {
	return models.ProjectEntry{Name: name, DirName: "Project_" + name, DataDir: "Unaligned", Samples: samples}
}

func sample(name string, files ...string) models.SampleEntry {
	return models.SampleEntry{Name: name, DirName: "Sample_" + name, Files: files}
}

func newBuilder(t *testing.T, reg registry.Registry, agent transfer.Agent) (*Builder, string, *recordingLogger) {
	t.Helper()
	root := t.TempDir()
	log := &recordingLogger{}
	return New(root, reg, agent, WithLogger(log)), root, log
}

func projectNames(tree *models.Tree) []string {
	var names []string
	for _, p := range tree.Projects() {
		names = append(names, p.Name)
	}
	return names
}

func TestBuildEndToEnd(t *testing.T) {
	reg := &fakeRegistry{projects: map[string]string{"A": "P1"}}
	agent := &fakeTransfer{}
	b, root, _ := newBuilder(t, reg, agent)

	m := manifest("FC1", "131030", project("A", sample("X", "x_R1.fastq.gz", "x_R2.fastq.gz")))
	tree, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, nil, nil)
	require.NoError(t, err)

	require.Equal(t, 1, tree.Len())
	p := tree.Projects()[0]
	assert.Equal(t, "P1", p.ID)
	assert.Equal(t, "A", p.Name)
	require.Len(t, p.Samples(), 1)
	s := p.Samples()[0]
	require.Len(t, s.LibraryPreps(), 1)
	lp := s.LibraryPreps()[0]
	require.Len(t, lp.SequencingRuns(), 1)
	run := lp.SequencingRuns()[0]
	assert.Equal(t, "131030_AFC1", run.Name)
	assert.Equal(t, []string{"x_R1.fastq.gz", "x_R2.fastq.gz"}, run.FastqFiles())

	wantDir := filepath.Join(root, "DATA", "A", "X", "A", "131030_AFC1")
	assert.Equal(t, wantDir, run.Dir())
	info, err := os.Stat(wantDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.Len(t, agent.calls, 1)
	srcDir := filepath.Join(m.Path, "Unaligned", "Project_A", "Sample_X")
	assert.Equal(t, []string{filepath.Join(srcDir, "x_R1.fastq.gz"), filepath.Join(srcDir, "x_R2.fastq.gz")}, agent.calls[0].sources)
	assert.Equal(t, wantDir, agent.calls[0].dest)

	assert.Equal(t, 2, reg.libprepCalls, "library prep is resolved once per file")
}

func TestBuildIdempotent(t *testing.T) {
	reg := &fakeRegistry{projects: map[string]string{"A": "P1"}}
	b, _, _ := newBuilder(t, reg, &fakeTransfer{})
	ms := []*models.FlowcellManifest{manifest("FC1", "131030", project("A", sample("X", "x_R1.fastq.gz", "x_R2.fastq.gz")))}

	tree, err := b.Build(context.Background(), ms, nil, nil, nil)
	require.NoError(t, err)
	tree, err = b.Build(context.Background(), ms, tree, nil, nil)
	require.NoError(t, err)

	require.Equal(t, 1, tree.Len())
	s := tree.Projects()[0].Samples()
	require.Len(t, s, 1)
	require.Len(t, s[0].LibraryPreps(), 1)
	runs := s[0].LibraryPreps()[0].SequencingRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, []string{"x_R1.fastq.gz", "x_R2.fastq.gz"}, runs[0].FastqFiles())
}

func TestBuildAggregatesAcrossFlowcells(t *testing.T) {
	reg := &fakeRegistry{projects: map[string]string{"A": "P1"}}
	agent := &fakeTransfer{}
	b, _, _ := newBuilder(t, reg, agent)

	ms := []*models.FlowcellManifest{
		manifest("FC1", "131030", project("A", sample("X", "x1.fastq.gz"))),
		manifest("FC2", "140101", project("A", sample("X", "x2.fastq.gz"))),
	}
	tree, err := b.Build(context.Background(), ms, nil, nil, nil)
	require.NoError(t, err)

	require.Equal(t, 1, tree.Len())
	samples := tree.Projects()[0].Samples()
	require.Len(t, samples, 1)
	libpreps := samples[0].LibraryPreps()
	require.Len(t, libpreps, 1)

	runs := libpreps[0].SequencingRuns()
	require.Len(t, runs, 2)
	assert.Equal(t, "131030_AFC1", runs[0].Name)
	assert.Equal(t, []string{"x1.fastq.gz"}, runs[0].FastqFiles())
	assert.Equal(t, "140101_AFC2", runs[1].Name)
	assert.Equal(t, []string{"x2.fastq.gz"}, runs[1].FastqFiles())

	assert.Len(t, agent.calls, 2)
}

func TestBuildSeparateCallsShareTree(t *testing.T) {
	reg := &fakeRegistry{projects: map[string]string{"A": "P1"}}
	b, _, _ := newBuilder(t, reg, &fakeTransfer{})

	tree, err := b.Build(context.Background(), []*models.FlowcellManifest{manifest("FC1", "131030", project("A", sample("X", "x1.fq")))}, nil, nil, nil)
	require.NoError(t, err)
	tree, err = b.Build(context.Background(), []*models.FlowcellManifest{manifest("FC2", "140101", project("A", sample("X", "x2.fq")))}, tree, nil, nil)
	require.NoError(t, err)

	lp, ok := tree.Projects()[0].Samples()[0].LibraryPrep("A")
	require.True(t, ok)
	assert.Len(t, lp.SequencingRuns(), 2)
}

func TestBuildRestrictProjects(t *testing.T) {
	reg := &fakeRegistry{projects: map[string]string{"A": "P1", "B": "P2"}}
	m := manifest("FC1", "131030", project("A", sample("X", "x.fq")), project("B", sample("Y", "y.fq")))

	t.Run("restricted", func(t *testing.T) {
		b, root, _ := newBuilder(t, reg, &fakeTransfer{})
		tree, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, []string{"A"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, projectNames(tree))
		_, err = os.Stat(filepath.Join(root, "DATA", "B"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("unrestricted", func(t *testing.T) {
		b, _, _ := newBuilder(t, reg, &fakeTransfer{})
		tree, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, projectNames(tree))
	})

	t.Run("restriction absent from manifest", func(t *testing.T) {
		b, _, _ := newBuilder(t, reg, &fakeTransfer{})
		tree, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, []string{"C"}, nil)
		require.NoError(t, err)
		assert.True(t, tree.Empty())
	})
}

func TestBuildRestrictSamples(t *testing.T) {
	reg := &fakeRegistry{projects: map[string]string{"A": "P1"}}
	agent := &fakeTransfer{}
	b, _, _ := newBuilder(t, reg, agent)

	m := manifest("FC1", "131030", project("A", sample("X", "x.fq"), sample("Y.Mom_14_01", "y.fq")))
	tree, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, nil, []string{"Y__Mom_14_01"})
	require.NoError(t, err)

	samples := tree.Projects()[0].Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, "Y.Mom_14_01", samples[0].Name)
	assert.Len(t, agent.calls, 1)
}

func TestBuildSkipsProjectOnRegistryError(t *testing.T) {
	reg := &fakeRegistry{projects: map[string]string{"B": "P2"}}
	b, _, log := newBuilder(t, reg, &fakeTransfer{})

	m := manifest("FC1", "131030", project("A", sample("X", "x.fq")), project("B", sample("Y", "y.fq")))
	tree, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, projectNames(tree))
	require.Len(t, log.errors, 1)
	assert.Contains(t, log.errors[0], `"A"`)
}

func TestBuildSkipsFileOnLibraryPrepError(t *testing.T) {
	reg := &fakeRegistry{
		projects: map[string]string{"A": "P1"},
		libprep: func(_, _, _ string, call int) (string, error) {
			if call == 1 {
				return "", &registry.Error{Op: "library prep lookup", Err: registry.ErrNotFound}
			}
			return "A", nil
		},
	}
	agent := &fakeTransfer{}
	b, _, log := newBuilder(t, reg, agent)

	m := manifest("FC1", "131030", project("A", sample("X", "x1.fq", "x2.fq")))
	tree, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, nil, nil)
	require.NoError(t, err)

	run := tree.Projects()[0].Samples()[0].LibraryPreps()[0].SequencingRuns()[0]
	assert.Equal(t, []string{"x2.fq"}, run.FastqFiles())
	assert.Len(t, log.errors, 1)
	require.Len(t, agent.calls, 1)
	assert.Len(t, agent.calls[0].sources, 1)
}

func TestBuildSampleWithoutResolvableFilesIsNotTransferred(t *testing.T) {
	reg := &fakeRegistry{
		projects: map[string]string{"A": "P1"},
		libprep: func(_, _, _ string, _ int) (string, error) {
			return "", &registry.Error{Op: "library prep lookup", Err: registry.ErrNotFound}
		},
	}
	agent := &fakeTransfer{}
	b, _, _ := newBuilder(t, reg, agent)

	m := manifest("FC1", "131030", project("A", sample("X", "x1.fq"), sample("Y", "notes.txt")))
	tree, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, nil, nil)
	require.NoError(t, err)

	assert.Len(t, tree.Projects()[0].Samples(), 2)
	assert.Empty(t, tree.Projects()[0].Samples()[0].LibraryPreps())
	assert.Empty(t, agent.calls)
}

func TestBuildTransferErrorPropagates(t *testing.T) {
	reg := &fakeRegistry{projects: map[string]string{"A": "P1", "B": "P2"}}
	boom := &transfer.Error{Dest: "/x", Err: errors.New("disk full")}
	agent := &fakeTransfer{err: boom}
	b, _, _ := newBuilder(t, reg, agent)

	m := manifest("FC1", "131030", project("A", sample("X", "x.fq")), project("B", sample("Y", "y.fq")))
	_, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, nil, nil)
	require.Error(t, err)

	var tErr *transfer.Error
	assert.True(t, errors.As(err, &tErr))
	assert.Len(t, agent.calls, 1, "the build stops at the first failed transfer")
}

func TestBuildOnlyLastRunIsTransferred(t *testing.T) {
	reg := &fakeRegistry{
		projects: map[string]string{"A": "P1"},
		libprep: func(_, _, _ string, call int) (string, error) {
			return fmt.Sprintf("L%d", call), nil
		},
	}
	agent := &fakeTransfer{}
	b, _, log := newBuilder(t, reg, agent)

	m := manifest("FC1", "131030", project("A", sample("X", "x1.fq", "x2.fq")))
	tree, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, nil, nil)
	require.NoError(t, err)

	libpreps := tree.Projects()[0].Samples()[0].LibraryPreps()
	require.Len(t, libpreps, 2)

	require.Len(t, agent.calls, 1)
	assert.Equal(t, libpreps[1].SequencingRuns()[0].Dir(), agent.calls[0].dest)
	assert.Len(t, agent.calls[0].sources, 1)
	require.Len(t, log.warnings, 1)
	assert.Contains(t, log.warnings[0], "spans 2 sequencing runs")
}

func TestBuildCopiesFromEachFilesContainer(t *testing.T) {
	reg := &fakeRegistry{projects: map[string]string{"A": "P1"}}
	agent := &fakeTransfer{}
	b, _, _ := newBuilder(t, reg, agent)

	first := project("A", sample("X", "X_L001_R1.fq"))
	second := project("A", sample("X", "X_L002_R1.fq"))
	second.DataDir = "Unaligned_16bp"
	m := manifest("FC1", "131030", first, second)

	tree, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, nil, nil)
	require.NoError(t, err)

	run := tree.Projects()[0].Samples()[0].LibraryPreps()[0].SequencingRuns()[0]
	assert.Equal(t, []string{"X_L001_R1.fq", "X_L002_R1.fq"}, run.FastqFiles())

	require.Len(t, agent.calls, 2)
	assert.Equal(t, []string{
		filepath.Join(m.Path, "Unaligned", "Project_A", "Sample_X", "X_L001_R1.fq"),
		filepath.Join(m.Path, "Unaligned_16bp", "Project_A", "Sample_X", "X_L002_R1.fq"),
	}, agent.calls[1].sources)
}

func TestBuildCanceled(t *testing.T) {
	reg := &fakeRegistry{projects: map[string]string{"A": "P1"}}
	b, _, _ := newBuilder(t, reg, &fakeTransfer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := manifest("FC1", "131030", project("A", sample("X", "x.fq")))
	_, err := b.Build(ctx, []*models.FlowcellManifest{m}, nil, nil, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBuildExistingDirectories(t *testing.T) {
	reg := &fakeRegistry{projects: map[string]string{"A": "P1"}}
	b, root, _ := newBuilder(t, reg, &fakeTransfer{})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "DATA", "A", "X", "A", "131030_AFC1"), 0755))

	m := manifest("FC1", "131030", project("A", sample("X", "x.fq")))
	_, err := b.Build(context.Background(), []*models.FlowcellManifest{m}, nil, nil, nil)
	assert.NoError(t, err)
}
