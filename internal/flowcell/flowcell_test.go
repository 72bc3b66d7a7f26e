package flowcell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/fcsort/internal/config"
	"github.com/harrison/fcsort/internal/ledger"
	"github.com/harrison/fcsort/internal/logger"
	"github.com/harrison/fcsort/internal/models"
	"github.com/harrison/fcsort/internal/parser"
	"github.com/harrison/fcsort/internal/report"
	"github.com/harrison/fcsort/internal/testutil"
	"github.com/harrison/fcsort/internal/transfer"
)

type countingParser struct {
	inner *parser.DirectoryParser
	calls []string
}

func (c *countingParser) Parse(dir string) (*models.FlowcellManifest, error) {
	c.calls = append(c.calls, dir)
	return c.inner.Parse(dir)
}

type recordingLauncher struct {
	projects []*models.Project
	err      error
}

func (r *recordingLauncher) Launch(_ context.Context, projects []*models.Project) error {
	r.projects = projects
	return r.err
}

type failingTransfer struct{}

func (failingTransfer) Transfer(_ context.Context, _ []string, dest string) error {
	return &transfer.Error{Dest: dest, Err: errors.New("disk full")}
}

type env struct {
	root     string
	cfg      *config.Config
	reg      *testutil.Registry
	parser   *countingParser
	launcher *recordingLauncher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	analysis := filepath.Join(root, "analysis")
	require.NoError(t, os.MkdirAll(analysis, 0755))

	cfg := config.DefaultConfig()
	cfg.Analysis.TopDir = analysis
	cfg.Transfer.Method = transfer.MethodCopy
	cfg.Ledger.DBPath = filepath.Join(root, "ledger.db")

	return &env{
		root: root,
		cfg:  cfg,
		reg: &testutil.Registry{
			Projects:           map[string]string{"A.Wedell_13_03": "P100", "B.Other_14_01": "P200"},
			DefaultLibraryPrep: "A",
		},
		parser:   &countingParser{inner: parser.New(nil)},
		launcher: &recordingLauncher{},
	}
}

func (e *env) options() Options {
	return Options{
		Config:   e.cfg,
		Logger:   logger.Nop{},
		Parser:   e.parser,
		Registry: e.reg,
		Launcher: e.launcher,
	}
}

func (e *env) flowcell(t *testing.T, name, date string, projects ...testutil.Project) string {
	t.Helper()
	return testutil.WriteFlowcell(t, filepath.Join(e.root, "inbox"), testutil.Flowcell{
		Name:     name,
		Position: "B",
		Date:     date,
		Projects: projects,
	})
}

func wedell(samples ...testutil.Sample) testutil.Project {
	return testutil.Project{DirName: "A__Wedell_13_03", Samples: samples}
}

func TestProcessFlowcellsEndToEnd(t *testing.T) {
	e := newEnv(t)
	fc := e.flowcell(t, "C2PUYACXX", "131030", wedell(testutil.Sample{
		DirName: "P100_101",
		Files:   []string{"P100_101_L001_R1.fastq.gz", "P100_101_L001_R2.fastq.gz", "SampleSheet.csv"},
	}))

	res, err := ProcessFlowcells(context.Background(), []string{fc}, nil, nil, e.options())
	require.NoError(t, err)

	require.Equal(t, 1, res.Tree.Len())
	project, ok := res.Tree.Project("P100")
	require.True(t, ok)
	assert.Equal(t, "A.Wedell_13_03", project.Name)

	sample, ok := project.Sample("P100_101")
	require.True(t, ok)
	lp, ok := sample.LibraryPrep("A")
	require.True(t, ok)
	run, ok := lp.SequencingRun("131030_BC2PUYACXX")
	require.True(t, ok)
	assert.Equal(t, []string{"P100_101_L001_R1.fastq.gz", "P100_101_L001_R2.fastq.gz"}, run.FastqFiles())

	dest := filepath.Join(e.cfg.Analysis.TopDir, "DATA", "A.Wedell_13_03", "P100_101", "A", "131030_BC2PUYACXX")
	for _, f := range run.FastqFiles() {
		assert.FileExists(t, filepath.Join(dest, f))
	}

	require.Len(t, e.launcher.projects, 1)
	assert.Equal(t, "P100", e.launcher.projects[0].ID)

	require.Len(t, res.SummaryPaths, 1)
	summary, err := report.ReadSummary(res.SummaryPaths[0])
	require.NoError(t, err)
	assert.Equal(t, []string{res.BatchID}, summary.Batches)

	store, err := ledger.NewStore(e.cfg.Ledger.DBPath)
	require.NoError(t, err)
	defer store.Close()
	batch, err := store.GetBatch(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSucceeded, batch.Status)
	assert.Equal(t, 2, batch.FileCount)
	assert.Equal(t, []string{fc}, batch.Flowcells)
}

func TestProcessFlowcellsDeduplicatesInput(t *testing.T) {
	e := newEnv(t)
	fc := e.flowcell(t, "C2PUYACXX", "131030", wedell(testutil.Sample{DirName: "S1", Files: []string{"s1.fastq"}}))

	_, err := ProcessFlowcells(context.Background(), []string{fc, fc, fc + "/"}, nil, nil, e.options())
	require.NoError(t, err)
	assert.Equal(t, []string{fc}, e.parser.calls)
}

func TestProcessFlowcellsAggregatesAcrossFlowcells(t *testing.T) {
	e := newEnv(t)
	fc1 := e.flowcell(t, "C2PUYACXX", "131030", wedell(testutil.Sample{DirName: "S1", Files: []string{"a.fastq.gz"}}))
	fc2 := e.flowcell(t, "H8AMJADXX", "140101", wedell(testutil.Sample{DirName: "S1", Files: []string{"b.fastq.gz"}}))

	res, err := ProcessFlowcells(context.Background(), []string{fc1, fc2}, nil, nil, e.options())
	require.NoError(t, err)

	project, _ := res.Tree.Project("P100")
	sample, _ := project.Sample("S1")
	require.Len(t, sample.LibraryPreps(), 1)
	runs := sample.LibraryPreps()[0].SequencingRuns()
	require.Len(t, runs, 2)
	assert.Equal(t, "131030_BC2PUYACXX", runs[0].Name)
	assert.Equal(t, "140101_BH8AMJADXX", runs[1].Name)
}

func TestProcessFlowcellsSampleSplitAcrossContainers(t *testing.T) {
	e := newEnv(t)
	inbox := filepath.Join(e.root, "inbox")
	for _, c := range []struct{ container, file string }{
		{"Unaligned", "P100_101_L001_R1.fastq.gz"},
		{"Unaligned_16bp", "P100_101_L002_R1.fastq.gz"},
	} {
		testutil.WriteFlowcell(t, inbox, testutil.Flowcell{
			Name:      "C2PUYACXX",
			Position:  "B",
			Date:      "131030",
			Container: c.container,
			Projects:  []testutil.Project{wedell(testutil.Sample{DirName: "P100_101", Files: []string{c.file}})},
		})
	}
	fc := filepath.Join(inbox, "131030_SN7001362_0103_BC2PUYACXX")

	res, err := ProcessFlowcells(context.Background(), []string{fc}, nil, nil, e.options())
	require.NoError(t, err)

	project, ok := res.Tree.Project("P100")
	require.True(t, ok)
	sample, ok := project.Sample("P100_101")
	require.True(t, ok)
	lp, ok := sample.LibraryPrep("A")
	require.True(t, ok)
	run, ok := lp.SequencingRun("131030_BC2PUYACXX")
	require.True(t, ok)
	assert.Equal(t, []string{"P100_101_L001_R1.fastq.gz", "P100_101_L002_R1.fastq.gz"}, run.FastqFiles())

	for _, f := range run.FastqFiles() {
		assert.FileExists(t, filepath.Join(run.Dir(), f))
	}
}

func TestProcessFlowcellsRestriction(t *testing.T) {
	e := newEnv(t)
	fc := e.flowcell(t, "C2PUYACXX", "131030",
		wedell(testutil.Sample{DirName: "S1", Files: []string{"a.fastq"}}),
		testutil.Project{DirName: "B__Other_14_01", Samples: []testutil.Sample{{DirName: "S2", Files: []string{"b.fastq"}}}},
	)

	res, err := ProcessFlowcells(context.Background(), []string{fc}, []string{"A.Wedell_13_03"}, nil, e.options())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tree.Len())
	_, ok := res.Tree.Project("P200")
	assert.False(t, ok)
}

func TestProcessFlowcellsNoProjectsMessages(t *testing.T) {
	e := newEnv(t)
	empty := e.flowcell(t, "C2PUYACXX", "131030")
	withA := e.flowcell(t, "H8AMJADXX", "140101", wedell(testutil.Sample{DirName: "S1", Files: []string{"a.fastq"}}))
	unregistered := e.flowcell(t, "D1XXXXXXX", "150101", testutil.Project{
		DirName: "C__Unregistered_01",
		Samples: []testutil.Sample{{DirName: "S9", Files: []string{"c.fastq"}}},
	})

	tests := []struct {
		name             string
		dirs             []string
		restrictProjects []string
		restrictSamples  []string
		want             string
	}{
		{
			name: "nothing found",
			dirs: []string{empty},
			want: "No projects found to process in flowcells " + empty + " or there was an error gathering required information.",
		},
		{
			name:             "projects filtered out",
			dirs:             []string{withA},
			restrictProjects: []string{"Z.Missing_01"},
			want:             "No projects found to process; the specified flowcells (" + withA + ") do not contain the specified project(s) (Z.Missing_01) or there was an error gathering required information.",
		},
		{
			name:            "sample restriction with unresolvable project",
			dirs:            []string{unregistered},
			restrictSamples: []string{"S9"},
			want:            "No projects found to process; the specified flowcells (" + unregistered + ") do not contain the specified sample(s) (S9) or there was an error gathering required information.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ProcessFlowcells(context.Background(), tt.dirs, tt.restrictProjects, tt.restrictSamples, e.options())
			var ferr *FatalError
			require.True(t, errors.As(err, &ferr), "got %v", err)
			assert.Equal(t, tt.want, ferr.Msg)
		})
	}
}

func TestProcessFlowcellsSampleRestrictionKeepsProject(t *testing.T) {
	e := newEnv(t)
	fc := e.flowcell(t, "C2PUYACXX", "131030", wedell(testutil.Sample{DirName: "S1", Files: []string{"a.fastq"}}))

	res, err := ProcessFlowcells(context.Background(), []string{fc}, nil, []string{"OTHER"}, e.options())
	require.NoError(t, err)
	project, ok := res.Tree.Project("P100")
	require.True(t, ok, "a resolved project is kept even when every sample is filtered out")
	assert.Empty(t, project.Samples())
}

func TestProcessFlowcellRejectsMultiple(t *testing.T) {
	e := newEnv(t)
	fc1 := e.flowcell(t, "C2PUYACXX", "131030", wedell(testutil.Sample{DirName: "S1", Files: []string{"a.fastq"}}))
	fc2 := e.flowcell(t, "H8AMJADXX", "140101", wedell(testutil.Sample{DirName: "S1", Files: []string{"b.fastq"}}))

	_, err := ProcessFlowcell(context.Background(), []string{fc1, fc2}, nil, nil, e.options())
	var ferr *FatalError
	require.True(t, errors.As(err, &ferr))
	assert.Contains(t, ferr.Msg, "Only one flowcell can be specified at this point")
	assert.Contains(t, ferr.Msg, fc1+","+fc2)
	assert.Empty(t, e.parser.calls)

	// the same flowcell twice is one flowcell
	res, err := ProcessFlowcell(context.Background(), []string{fc1, fc1}, nil, nil, e.options())
	require.NoError(t, err)
	assert.Equal(t, []string{fc1}, res.Flowcells)
}

func TestProcessFlowcellsSkipsBadFlowcells(t *testing.T) {
	e := newEnv(t)
	good := e.flowcell(t, "C2PUYACXX", "131030", wedell(testutil.Sample{DirName: "S1", Files: []string{"a.fastq"}}))
	missing := filepath.Join(e.root, "inbox", "does_not_exist")
	broken := filepath.Join(e.root, "inbox", "broken_fc")
	require.NoError(t, os.MkdirAll(filepath.Join(broken, "Unaligned", "Project_A__Wedell_13_03"), 0755))

	res, err := ProcessFlowcells(context.Background(), []string{missing, broken, good}, nil, nil, e.options())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tree.Len())
	assert.Equal(t, []string{broken, good}, e.parser.calls, "missing directories never reach the parser")
}

func TestProcessFlowcellsConfigErrors(t *testing.T) {
	e := newEnv(t)
	fc := e.flowcell(t, "C2PUYACXX", "131030", wedell(testutil.Sample{DirName: "S1", Files: []string{"a.fastq"}}))

	t.Run("missing analysis root", func(t *testing.T) {
		opts := e.options()
		cfg := *e.cfg
		cfg.Analysis.TopDir = filepath.Join(e.root, "nope")
		opts.Config = &cfg

		_, err := ProcessFlowcells(context.Background(), []string{fc}, nil, nil, opts)
		var ferr *FatalError
		require.True(t, errors.As(err, &ferr))
		var cerr *config.ConfigError
		assert.True(t, errors.As(err, &cerr))
		assert.Contains(t, ferr.Msg, "does not exist")
	})

	t.Run("missing config file", func(t *testing.T) {
		opts := e.options()
		opts.Config = nil
		opts.ConfigPath = filepath.Join(e.root, "absent.yaml")

		_, err := ProcessFlowcells(context.Background(), []string{fc}, nil, nil, opts)
		var cerr *config.ConfigError
		assert.True(t, errors.As(err, &cerr))
	})

	t.Run("registry without base url", func(t *testing.T) {
		opts := e.options()
		opts.Registry = nil

		_, err := ProcessFlowcells(context.Background(), []string{fc}, nil, nil, opts)
		var cerr *config.ConfigError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "charon.base_url", cerr.Key)
	})
}

func TestProcessFlowcellsLoadsConfigFile(t *testing.T) {
	e := newEnv(t)
	fc := e.flowcell(t, "C2PUYACXX", "131030", wedell(testutil.Sample{DirName: "S1", Files: []string{"a.fastq"}}))

	cfgPath := filepath.Join(e.root, "ngi_config.yaml")
	content := "analysis:\n  top_dir: " + e.cfg.Analysis.TopDir + "\ntransfer:\n  method: dry-run\nledger:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	opts := e.options()
	opts.Config = nil
	opts.ConfigPath = cfgPath

	res, err := ProcessFlowcells(context.Background(), []string{fc}, nil, nil, opts)
	require.NoError(t, err)
	assert.Empty(t, res.BatchID, "ledger disabled")
	assert.Empty(t, res.SummaryPaths, "dry runs write no summaries")

	run := filepath.Join(e.cfg.Analysis.TopDir, "DATA", "A.Wedell_13_03", "S1", "A", "131030_BC2PUYACXX")
	assert.DirExists(t, run)
	assert.NoFileExists(t, filepath.Join(run, "a.fastq"))
}

func TestProcessFlowcellsTransferErrorPropagates(t *testing.T) {
	e := newEnv(t)
	fc := e.flowcell(t, "C2PUYACXX", "131030", wedell(testutil.Sample{DirName: "S1", Files: []string{"a.fastq"}}))

	opts := e.options()
	opts.Transfer = failingTransfer{}

	_, err := ProcessFlowcells(context.Background(), []string{fc}, nil, nil, opts)
	var terr *transfer.Error
	require.True(t, errors.As(err, &terr))
	assert.Nil(t, e.launcher.projects)

	store, err := ledger.NewStore(e.cfg.Ledger.DBPath)
	require.NoError(t, err)
	defer store.Close()
	batches, err := store.ListBatches(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, ledger.StatusFailed, batches[0].Status)
	assert.Contains(t, batches[0].Message, "disk full")
}

func TestProcessFlowcellsWritesReport(t *testing.T) {
	e := newEnv(t)
	fc := e.flowcell(t, "C2PUYACXX", "131030", wedell(testutil.Sample{DirName: "S1", Files: []string{"a.fastq"}}))

	opts := e.options()
	opts.ReportPath = filepath.Join(e.root, "out", "report.md")

	_, err := ProcessFlowcells(context.Background(), []string{fc}, nil, nil, opts)
	require.NoError(t, err)

	data, err := os.ReadFile(opts.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## A.Wedell_13_03 (P100)")
}

func TestProcessFlowcellsCancelled(t *testing.T) {
	e := newEnv(t)
	fc := e.flowcell(t, "C2PUYACXX", "131030", wedell(testutil.Sample{DirName: "S1", Files: []string{"a.fastq"}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ProcessFlowcells(ctx, []string{fc}, nil, nil, e.options())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDedup(t *testing.T) {
	abs, err := filepath.Abs("fc")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/fc1", "/a/fc2", abs}, Dedup([]string{"/a/fc1", "/a/fc2", "/a/fc1", "/a/./fc2", "fc", "./fc"}))
}
