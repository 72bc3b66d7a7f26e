// Package parser maps a demultiplexed flowcell directory into a
// models.FlowcellManifest.
//
// The expected layout is the one written by CASAVA-style demultiplexing:
//
//	<flowcell>/
//	  RunInfo.xml
//	  runParameters.xml
//	  Unaligned[_<N>bp]/
//	    Basecall_Stats_<FCID>/
//	    Project_<name>/
//	      Sample_<name>/
//	        <fastq files>
//
// Parsing is read-only.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/harrison/fcsort/internal/models"
	"github.com/harrison/fcsort/internal/naming"
)

// ParseError reports that the run metadata of a flowcell could not be read.
// Only the affected flowcell is abandoned.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse flowcell run metadata in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Logger is the subset of logging the parser uses.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
}

// DirectoryParser discovers projects, samples and fastq files in a flowcell.
type DirectoryParser struct {
	logger Logger
}

// New returns a DirectoryParser. A nil logger discards messages.
func New(logger Logger) *DirectoryParser {
	if logger == nil {
		logger = nopLogger{}
	}
	return &DirectoryParser{logger: logger}
}

// Parse reads the flowcell at fcDir. It fails with *ParseError when the
// flowcell name, run date or flowcell position cannot be extracted; a
// flowcell without project directories is not an error.
func (p *DirectoryParser) Parse(fcDir string) (*models.FlowcellManifest, error) {
	fcDir, err := filepath.Abs(fcDir)
	if err != nil {
		return nil, &ParseError{Path: fcDir, Err: err}
	}
	p.logger.LogInfo(fmt.Sprintf("Parsing flowcell directory %q...", fcDir))

	manifest, err := readRunMetadata(fcDir)
	if err != nil {
		return nil, err
	}

	containers, err := globDirs(filepath.Join(fcDir, naming.UnalignedGlob))
	if err != nil {
		return nil, fmt.Errorf("list demultiplexing output in %s: %w", fcDir, err)
	}

	parent := filepath.Dir(fcDir)
	for _, container := range containers {
		stats, err := globDirs(filepath.Join(container, naming.BasecallStatsGlob))
		if err != nil {
			return nil, fmt.Errorf("list basecall stats in %s: %w", container, err)
		}
		for _, s := range stats {
			manifest.BasecallStatsDirs = append(manifest.BasecallStatsDirs, relPath(fcDir, s))
		}

		projectDirs, err := globDirs(filepath.Join(container, naming.ProjectPrefix+"*"))
		if err != nil {
			return nil, fmt.Errorf("list projects in %s: %w", container, err)
		}
		for _, projectDir := range projectDirs {
			p.logger.LogInfo(fmt.Sprintf("Parsing project directory %q...", relPath(parent, projectDir)))
			project, err := p.parseProject(fcDir, parent, container, projectDir)
			if err != nil {
				return nil, err
			}
			manifest.Projects = append(manifest.Projects, project)
		}
	}

	if len(manifest.Projects) == 0 {
		p.logger.LogWarn(fmt.Sprintf("No projects found in flowcell directory %q", fcDir))
	}

	return manifest, nil
}

func (p *DirectoryParser) parseProject(fcDir, parent, container, projectDir string) (models.ProjectEntry, error) {
	dirName := filepath.Base(projectDir)
	project := models.ProjectEntry{
		Name:    naming.ProjectName(dirName),
		DirName: dirName,
		DataDir: relPath(fcDir, container),
	}

	sampleDirs, err := globDirs(filepath.Join(projectDir, naming.SamplePrefix+"*"))
	if err != nil {
		return project, fmt.Errorf("list samples in %s: %w", projectDir, err)
	}

	for _, sampleDir := range sampleDirs {
		p.logger.LogDebug(fmt.Sprintf("Parsing sample directory %q...", relPath(parent, sampleDir)))
		files, err := fastqFiles(sampleDir)
		if err != nil {
			return project, err
		}
		sampleDirName := filepath.Base(sampleDir)
		project.Samples = append(project.Samples, models.SampleEntry{
			Name:    naming.SampleName(sampleDirName),
			DirName: sampleDirName,
			Files:   files,
		})
	}

	return project, nil
}

func readRunMetadata(fcDir string) (*models.FlowcellManifest, error) {
	runInfo, err := ReadRunInfo(fcDir)
	if err != nil {
		return nil, &ParseError{Path: fcDir, Err: err}
	}
	position, err := ReadFlowcellPosition(fcDir)
	if err != nil {
		return nil, &ParseError{Path: fcDir, Err: err}
	}

	switch {
	case runInfo.Flowcell == "":
		return nil, &ParseError{Path: fcDir, Err: fmt.Errorf("missing Flowcell in %s", RunInfoFile)}
	case runInfo.Date == "":
		return nil, &ParseError{Path: fcDir, Err: fmt.Errorf("missing Date in %s", RunInfoFile)}
	case position == "":
		return nil, &ParseError{Path: fcDir, Err: fmt.Errorf("missing FCPosition in run parameters")}
	}

	return &models.FlowcellManifest{
		Path:       fcDir,
		FlowcellID: position + runInfo.Flowcell,
		Name:       runInfo.Flowcell,
		Position:   position,
		RunDate:    runInfo.Date,
		RunID:      runInfo.ID,
	}, nil
}

// fastqFiles lists fastq filenames directly inside dir in lexical order.
func fastqFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sample directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if naming.IsFastq(entry.Name()) {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

// globDirs returns the directories matching pattern, sorted.
func globDirs(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, m)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func relPath(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return rel
}

type nopLogger struct{}

func (nopLogger) LogDebug(string) {}
func (nopLogger) LogInfo(string)  {}
func (nopLogger) LogWarn(string)  {}
