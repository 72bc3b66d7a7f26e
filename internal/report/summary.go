// Package report describes an organized tree: per-project YAML summaries kept
// inside the analysis tree, and a Markdown or HTML batch report.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/fcsort/internal/filelock"
	"github.com/harrison/fcsort/internal/models"
)

// SummaryDir and SummaryFile locate a project's summary relative to its directory.
const (
	SummaryDir  = ".fcsort"
	SummaryFile = "organized.yaml"
)

// ProjectSummary is the content of DATA/<project>/.fcsort/organized.yaml.
// It accumulates every batch that has organized files into the project.
type ProjectSummary struct {
	ProjectID string          `yaml:"project_id"`
	Project   string          `yaml:"project"`
	UpdatedAt time.Time       `yaml:"updated_at"`
	Batches   []string        `yaml:"batches,omitempty"`
	Samples   []SampleSummary `yaml:"samples"`
}

type SampleSummary struct {
	Name         string               `yaml:"name"`
	LibraryPreps []LibraryPrepSummary `yaml:"libpreps"`
}

type LibraryPrepSummary struct {
	Name    string          `yaml:"name"`
	SeqRuns []SeqRunSummary `yaml:"seqruns"`
}

type SeqRunSummary struct {
	Name  string   `yaml:"name"`
	Files []string `yaml:"files"`
}

// SummaryPath returns the summary file of p.
func SummaryPath(p *models.Project) string {
	return filepath.Join(p.Dir(), SummaryDir, SummaryFile)
}

// ReadSummary loads a summary file.
func ReadSummary(path string) (*ProjectSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s ProjectSummary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &s, nil
}

// SummaryOptions controls WriteProjectSummaries.
type SummaryOptions struct {
	BatchID  string
	Now      time.Time
	FileMode os.FileMode
	DirMode  os.FileMode
}

// WriteProjectSummaries merges each project of tree into its summary file
// and returns the paths written. Concurrent writers are serialized by a
// sidecar lock.
func WriteProjectSummaries(tree *models.Tree, opts SummaryOptions) ([]string, error) {
	if tree.Empty() {
		return nil, nil
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0660
	}
	if opts.DirMode == 0 {
		opts.DirMode = 0770
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	var written []string
	for _, p := range tree.Projects() {
		path := SummaryPath(p)
		err := filelock.Update(path, opts.FileMode, opts.DirMode, func(current []byte) ([]byte, error) {
			summary := &ProjectSummary{}
			if len(current) > 0 {
				if err := yaml.Unmarshal(current, summary); err != nil {
					return nil, fmt.Errorf("parse %s: %w", path, err)
				}
			}
			summary.Merge(p, opts.BatchID)
			summary.UpdatedAt = opts.Now.UTC()
			return yaml.Marshal(summary)
		})
		if err != nil {
			return written, fmt.Errorf("write summary for project %s: %w", p.Name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// Merge folds project p into s, keeping existing order and skipping
// entries already present.
func (s *ProjectSummary) Merge(p *models.Project, batchID string) {
	s.ProjectID = p.ID
	s.Project = p.Name
	if batchID != "" && !slices.Contains(s.Batches, batchID) {
		s.Batches = append(s.Batches, batchID)
	}

	for _, smp := range p.Samples() {
		ss := findOrAppend(&s.Samples, smp.Name, func(name string) SampleSummary { return SampleSummary{Name: name} },
			func(v *SampleSummary) string { return v.Name })
		for _, lp := range smp.LibraryPreps() {
			ls := findOrAppend(&ss.LibraryPreps, lp.Name, func(name string) LibraryPrepSummary { return LibraryPrepSummary{Name: name} },
				func(v *LibraryPrepSummary) string { return v.Name })
			for _, run := range lp.SequencingRuns() {
				rs := findOrAppend(&ls.SeqRuns, run.Name, func(name string) SeqRunSummary { return SeqRunSummary{Name: name} },
					func(v *SeqRunSummary) string { return v.Name })
				for _, f := range run.FastqFiles() {
					if !slices.Contains(rs.Files, f) {
						rs.Files = append(rs.Files, f)
					}
				}
			}
		}
	}
}

// findOrAppend returns a pointer to the element of *list named name,
// appending a new one when absent.
func findOrAppend[T any](list *[]T, name string, create func(string) T, nameOf func(*T) string) *T {
	for i := range *list {
		if nameOf(&(*list)[i]) == name {
			return &(*list)[i]
		}
	}
	*list = append(*list, create(name))
	return &(*list)[len(*list)-1]
}

// AddTo rebuilds s as a project of tree under the analysis root basePath.
func (s *ProjectSummary) AddTo(tree *models.Tree, basePath string) *models.Project {
	p, _ := tree.AddProject(s.ProjectID, s.Project, basePath)
	for _, ss := range s.Samples {
		smp, _ := p.AddSample(ss.Name, ss.Name)
		for _, ls := range ss.LibraryPreps {
			lp, _ := smp.AddLibraryPrep(ls.Name, ls.Name)
			for _, rs := range ls.SeqRuns {
				run, _ := lp.AddSequencingRun(rs.Name, rs.Name)
				for _, f := range rs.Files {
					run.AddFastqFile(f)
				}
			}
		}
	}
	return p
}

// LoadSummaries reads the summaries of the named projects under
// {analysisRoot}/DATA into a tree; no names means every project that has a
// summary. Missing summaries for named projects are an error.
func LoadSummaries(analysisRoot string, projects []string) (*models.Tree, error) {
	dataDir := filepath.Join(analysisRoot, models.DataDirName)
	if len(projects) == 0 {
		matches, err := filepath.Glob(filepath.Join(dataDir, "*", SummaryDir, SummaryFile))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			projects = append(projects, filepath.Base(filepath.Dir(filepath.Dir(m))))
		}
	}

	tree := models.NewTree()
	for _, name := range projects {
		s, err := ReadSummary(filepath.Join(dataDir, name, SummaryDir, SummaryFile))
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", name, err)
		}
		s.AddTo(tree, analysisRoot)
	}
	return tree, nil
}
