package models

import (
	"fmt"
	"path/filepath"
)

// FlowcellManifest describes the contents of one demultiplexed flowcell
// directory. It is produced by the parser and consumed by the builder.
type FlowcellManifest struct {
	Path              string         `yaml:"path"`                          // Absolute path of the flowcell directory
	FlowcellID        string         `yaml:"flowcell_id"`                   // "{position}{name}", e.g. "BC2PUYACXX"
	Name              string         `yaml:"name"`                          // Flowcell name from RunInfo.xml
	Position          string         `yaml:"position"`                      // FCPosition from runParameters.xml
	RunDate           string         `yaml:"run_date"`                      // Run date from RunInfo.xml, e.g. "131030"
	RunID             string         `yaml:"run_id,omitempty"`              // Full instrument run id, when present
	BasecallStatsDirs []string       `yaml:"basecall_stats_dirs,omitempty"` // Flowcell-relative Basecall_Stats_* directories
	Projects          []ProjectEntry `yaml:"projects"`                      // Projects in discovery order
}

// ProjectEntry is a project directory found inside a flowcell.
type ProjectEntry struct {
	Name    string        `yaml:"name"`     // Canonical project name
	DirName string        `yaml:"dir_name"` // On-disk directory name, e.g. "Project_J__Doe_14_01"
	DataDir string        `yaml:"data_dir"` // Flowcell-relative container, e.g. "Unaligned_16bp"
	Samples []SampleEntry `yaml:"samples"`  // Samples in discovery order
}

// SampleEntry is a sample directory found inside a project directory.
type SampleEntry struct {
	Name    string   `yaml:"name"`     // Canonical sample name
	DirName string   `yaml:"dir_name"` // On-disk directory name, e.g. "Sample_P680_356F"
	Files   []string `yaml:"files"`    // Fastq filenames in discovery order
}

// ShortRunID returns "{date}_{flowcellId}", the sequencing run key.
func (m *FlowcellManifest) ShortRunID() string {
	return fmt.Sprintf("%s_%s", m.RunDate, m.FlowcellID)
}

// SampleSourceDir returns the absolute directory holding the sample's raw files.
func (m *FlowcellManifest) SampleSourceDir(project ProjectEntry, sample SampleEntry) string {
	return filepath.Join(m.Path, project.DataDir, project.DirName, sample.DirName)
}

// SampleCount returns the number of samples across all projects.
func (m *FlowcellManifest) SampleCount() int {
	n := 0
	for _, p := range m.Projects {
		n += len(p.Samples)
	}
	return n
}
