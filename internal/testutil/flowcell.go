// Package testutil builds synthetic demultiplexed flowcell directories for tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Flowcell describes a fixture flowcell.
type Flowcell struct {
	Name      string // Flowcell name in RunInfo.xml, e.g. "C2PUYACXX"
	Position  string // FCPosition, e.g. "B"
	Date      string // Run date, e.g. "131030"
	Container string // Demultiplexing output dir; defaults to "Unaligned"
	Projects  []Project
}

// Project is a Project_* directory; DirName excludes the prefix.
type Project struct {
	DirName string
	Samples []Sample
}

// Sample is a Sample_* directory; DirName excludes the prefix.
type Sample struct {
	DirName string
	Files   []string
}

// RunID returns the instrument run directory name used for the fixture.
func (f Flowcell) RunID() string {
	return fmt.Sprintf("%s_SN7001362_0103_%s%s", f.Date, f.Position, f.Name)
}

// WriteFlowcell materializes f under root and returns the flowcell directory.
func WriteFlowcell(t testing.TB, root string, f Flowcell) string {
	t.Helper()

	fcDir := filepath.Join(root, f.RunID())
	container := f.Container
	if container == "" {
		container = "Unaligned"
	}

	mustMkdir(t, filepath.Join(fcDir, container, "Basecall_Stats_"+f.Name))
	WriteRunInfo(t, fcDir, f.Name, f.Date)
	WriteRunParameters(t, fcDir, f.Position)

	for _, p := range f.Projects {
		projectDir := filepath.Join(fcDir, container, "Project_"+p.DirName)
		mustMkdir(t, projectDir)
		for _, s := range p.Samples {
			sampleDir := filepath.Join(projectDir, "Sample_"+s.DirName)
			mustMkdir(t, sampleDir)
			mustWrite(t, filepath.Join(sampleDir, "SampleSheet.csv"), "FCID,Lane,SampleID\n")
			for _, name := range s.Files {
				mustWrite(t, filepath.Join(sampleDir, name), "@read\nACGT\n+\nIIII\n")
			}
		}
	}

	return fcDir
}

// WriteRunInfo writes a minimal RunInfo.xml.
func WriteRunInfo(t testing.TB, fcDir, flowcell, date string) {
	t.Helper()
	mustMkdir(t, fcDir)
	content := fmt.Sprintf(`<?xml version="1.0"?>
<RunInfo xmlns:xsd="http://www.w3.org/2001/XMLSchema" Version="2">
  <Run Id="%s_SN7001362_0103_%s" Number="103">
    <Flowcell>%s</Flowcell>
    <Instrument>SN7001362</Instrument>
    <Date>%s</Date>
  </Run>
</RunInfo>
`, date, flowcell, flowcell, date)
	mustWrite(t, filepath.Join(fcDir, "RunInfo.xml"), content)
}

// WriteRunParameters writes a minimal runParameters.xml.
func WriteRunParameters(t testing.TB, fcDir, position string) {
	t.Helper()
	mustMkdir(t, fcDir)
	content := fmt.Sprintf(`<?xml version="1.0"?>
<RunParameters>
  <Setup>
    <ApplicationName>HiSeq Control Software</ApplicationName>
    <FCPosition>%s</FCPosition>
  </Setup>
</RunParameters>
`, position)
	mustWrite(t, filepath.Join(fcDir, "runParameters.xml"), content)
}

func mustMkdir(t testing.TB, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

func mustWrite(t testing.TB, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
