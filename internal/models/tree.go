package models

import "path/filepath"

// DataDirName is the directory under the analysis root that holds projects.
const DataDirName = "DATA"

// ordered is an insertion-ordered map of child nodes.
type ordered[T any] struct {
	keys  []string
	items map[string]*T
}

func (o *ordered[T]) get(key string) (*T, bool) {
	v, ok := o.items[key]
	return v, ok
}

func (o *ordered[T]) getOrCreate(key string, create func() *T) (*T, bool) {
	if v, ok := o.items[key]; ok {
		return v, false
	}
	if o.items == nil {
		o.items = make(map[string]*T)
	}
	v := create()
	o.items[key] = v
	o.keys = append(o.keys, key)
	return v, true
}

func (o *ordered[T]) values() []*T {
	out := make([]*T, 0, len(o.keys))
	for _, k := range o.keys {
		out = append(out, o.items[k])
	}
	return out
}

func (o *ordered[T]) len() int {
	return len(o.keys)
}

// Tree is the analysis-ready hierarchy accumulated across flowcells.
// Projects are keyed by their registry id.
type Tree struct {
	projects ordered[Project]
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

// AddProject returns the project with the given id, creating it if needed.
// The boolean reports whether a new node was created.
func (t *Tree) AddProject(id, name, basePath string) (*Project, bool) {
	return t.projects.getOrCreate(id, func() *Project {
		return &Project{ID: id, Name: name, DirName: name, BasePath: basePath}
	})
}

// Project looks up a project by registry id.
func (t *Tree) Project(id string) (*Project, bool) {
	return t.projects.get(id)
}

// Projects returns the projects in creation order.
func (t *Tree) Projects() []*Project {
	return t.projects.values()
}

// Len returns the number of projects.
func (t *Tree) Len() int {
	return t.projects.len()
}

// Empty reports whether the tree holds no projects.
func (t *Tree) Empty() bool {
	return t == nil || t.projects.len() == 0
}

// Project is the top level of the analysis hierarchy.
type Project struct {
	ID       string // Registry project id
	Name     string
	DirName  string
	BasePath string // Analysis root
	samples  ordered[Sample]
}

// Dir returns "{analysisRoot}/DATA/{project}".
func (p *Project) Dir() string {
	return filepath.Join(p.BasePath, DataDirName, p.DirName)
}

// AddSample returns the named sample, creating it if needed.
func (p *Project) AddSample(name, dirName string) (*Sample, bool) {
	return p.samples.getOrCreate(name, func() *Sample {
		return &Sample{Name: name, DirName: dirName, dir: filepath.Join(p.Dir(), dirName)}
	})
}

// Sample looks up a sample by name.
func (p *Project) Sample(name string) (*Sample, bool) {
	return p.samples.get(name)
}

// Samples returns the samples in creation order.
func (p *Project) Samples() []*Sample {
	return p.samples.values()
}

// Sample groups the library preps of one biological sample.
type Sample struct {
	Name     string
	DirName  string
	dir      string
	libpreps ordered[LibraryPrep]
}

// Dir returns the sample's directory in the analysis tree.
func (s *Sample) Dir() string {
	return s.dir
}

// AddLibraryPrep returns the library prep with the given id, creating it if needed.
func (s *Sample) AddLibraryPrep(name, dirName string) (*LibraryPrep, bool) {
	return s.libpreps.getOrCreate(name, func() *LibraryPrep {
		return &LibraryPrep{Name: name, DirName: dirName, dir: filepath.Join(s.dir, dirName)}
	})
}

// LibraryPrep looks up a library prep by id.
func (s *Sample) LibraryPrep(name string) (*LibraryPrep, bool) {
	return s.libpreps.get(name)
}

// LibraryPreps returns the library preps in creation order.
func (s *Sample) LibraryPreps() []*LibraryPrep {
	return s.libpreps.values()
}

// LibraryPrep groups the sequencing runs of one library preparation.
type LibraryPrep struct {
	Name    string // Registry library prep id
	DirName string
	dir     string
	seqruns ordered[SequencingRun]
}

// Dir returns the library prep's directory in the analysis tree.
func (l *LibraryPrep) Dir() string {
	return l.dir
}

// AddSequencingRun returns the run with the given key, creating it if needed.
func (l *LibraryPrep) AddSequencingRun(key, dirName string) (*SequencingRun, bool) {
	return l.seqruns.getOrCreate(key, func() *SequencingRun {
		return &SequencingRun{Name: key, DirName: dirName, dir: filepath.Join(l.dir, dirName)}
	})
}

// SequencingRun looks up a run by its "{date}_{flowcellId}" key.
func (l *LibraryPrep) SequencingRun(key string) (*SequencingRun, bool) {
	return l.seqruns.get(key)
}

// SequencingRuns returns the runs in creation order.
func (l *LibraryPrep) SequencingRuns() []*SequencingRun {
	return l.seqruns.values()
}

// SequencingRun holds the fastq files one flowcell produced for a library prep.
type SequencingRun struct {
	Name    string // "{date}_{flowcellId}"
	DirName string
	dir     string
	files   []string
	sources map[string]string // filename → raw file path; empty when unknown
}

// Dir returns the run's directory in the analysis tree.
func (r *SequencingRun) Dir() string {
	return r.dir
}

// AddFastqFile appends filename unless it is already present.
// It reports whether the file was added.
func (r *SequencingRun) AddFastqFile(filename string) bool {
	return r.AddSourceFile(filename, "")
}

// AddSourceFile appends filename and remembers the raw file it is copied
// from. A filename already present keeps its first source.
func (r *SequencingRun) AddSourceFile(filename, source string) bool {
	if _, ok := r.sources[filename]; ok {
		return false
	}
	if r.sources == nil {
		r.sources = make(map[string]string)
	}
	r.sources[filename] = source
	r.files = append(r.files, filename)
	return true
}

// FastqFiles returns the run's fastq filenames in discovery order.
func (r *SequencingRun) FastqFiles() []string {
	out := make([]string, len(r.files))
	copy(out, r.files)
	return out
}

// SourcePaths returns the recorded raw file paths in discovery order,
// skipping files added without a source.
func (r *SequencingRun) SourcePaths() []string {
	out := make([]string, 0, len(r.files))
	for _, f := range r.files {
		if src := r.sources[f]; src != "" {
			out = append(out, src)
		}
	}
	return out
}
