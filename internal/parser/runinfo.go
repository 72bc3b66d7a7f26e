package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Run descriptor filenames written by the sequencer.
const (
	RunInfoFile = "RunInfo.xml"
)

// runParametersFiles lists the spellings used by different instrument generations.
var runParametersFiles = []string{"runParameters.xml", "RunParameters.xml"}

// RunInfo holds the fields read from RunInfo.xml.
type RunInfo struct {
	ID         string
	Number     string
	Flowcell   string
	Instrument string
	Date       string
}

type runInfoDocument struct {
	Run struct {
		ID         string `xml:"Id,attr"`
		Number     string `xml:"Number,attr"`
		Flowcell   string `xml:"Flowcell"`
		Instrument string `xml:"Instrument"`
		Date       string `xml:"Date"`
	} `xml:"Run"`
}

// ReadRunInfo parses RunInfo.xml in the flowcell directory.
func ReadRunInfo(fcDir string) (*RunInfo, error) {
	data, err := os.ReadFile(filepath.Join(fcDir, RunInfoFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", RunInfoFile, err)
	}

	var doc runInfoDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", RunInfoFile, err)
	}

	return &RunInfo{
		ID:         strings.TrimSpace(doc.Run.ID),
		Number:     strings.TrimSpace(doc.Run.Number),
		Flowcell:   strings.TrimSpace(doc.Run.Flowcell),
		Instrument: strings.TrimSpace(doc.Run.Instrument),
		Date:       strings.TrimSpace(doc.Run.Date),
	}, nil
}

// ReadFlowcellPosition returns the FCPosition element of the run parameters
// file, wherever it appears in the document.
func ReadFlowcellPosition(fcDir string) (string, error) {
	var path string
	for _, name := range runParametersFiles {
		candidate := filepath.Join(fcDir, name)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return "", fmt.Errorf("no run parameters file (%s) in %s", strings.Join(runParametersFiles, ", "), fcDir)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	return findElementText(xml.NewDecoder(f), "FCPosition")
}

// findElementText returns the trimmed character data of the first element
// named name.
func findElementText(dec *xml.Decoder, name string) (string, error) {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("parse run parameters: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != name {
			continue
		}

		var value string
		if err := dec.DecodeElement(&value, &start); err != nil {
			return "", fmt.Errorf("decode %s: %w", name, err)
		}
		return strings.TrimSpace(value), nil
	}
}
