package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/harrison/fcsort/internal/filelock"
	"github.com/harrison/fcsort/internal/models"
)

// Meta identifies the batch a report describes.
type Meta struct {
	BatchID   string
	Flowcells []string
	Generated time.Time
}

// Markdown renders tree as a Markdown document: a heading per project and a
// table of its sample / libprep / run / file-count rows.
func Markdown(tree *models.Tree, meta Meta) string {
	var b strings.Builder

	b.WriteString("# fcsort organize report\n\n")
	if meta.BatchID != "" {
		fmt.Fprintf(&b, "- Batch: `%s`\n", meta.BatchID)
	}
	if !meta.Generated.IsZero() {
		fmt.Fprintf(&b, "- Generated: %s\n", meta.Generated.UTC().Format(time.RFC3339))
	}
	for _, fc := range meta.Flowcells {
		fmt.Fprintf(&b, "- Flowcell: `%s`\n", fc)
	}
	b.WriteString("\n")

	if tree.Empty() {
		b.WriteString("No projects were organized.\n")
		return b.String()
	}

	for _, p := range tree.Projects() {
		fmt.Fprintf(&b, "## %s (%s)\n\n", p.Name, p.ID)
		fmt.Fprintf(&b, "Directory: `%s`\n\n", p.Dir())
		b.WriteString("| Sample | Library prep | Sequencing run | Files |\n")
		b.WriteString("|---|---|---|---:|\n")
		total := 0
		for _, s := range p.Samples() {
			for _, lp := range s.LibraryPreps() {
				for _, run := range lp.SequencingRuns() {
					n := len(run.FastqFiles())
					total += n
					fmt.Fprintf(&b, "| %s | %s | %s | %d |\n", escapeCell(s.Name), escapeCell(lp.Name), escapeCell(run.Name), n)
				}
			}
		}
		fmt.Fprintf(&b, "\n%d sample(s), %d fastq file(s).\n\n", len(p.Samples()), total)
	}
	return b.String()
}

// RenderHTML converts Markdown to an HTML fragment with table support.
func RenderHTML(w io.Writer, markdown string) error {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := md.Convert([]byte(markdown), w); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

// WriteFile writes the report for tree to path. A ".html" or ".htm"
// extension selects HTML; anything else is Markdown.
func WriteFile(path string, tree *models.Tree, meta Meta) error {
	md := Markdown(tree, meta)

	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		var buf bytes.Buffer
		buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>fcsort organize report</title></head><body>\n")
		if err := RenderHTML(&buf, md); err != nil {
			return err
		}
		buf.WriteString("</body></html>\n")
		data = buf.Bytes()
	default:
		data = []byte(md)
	}

	return filelock.AtomicWrite(path, data, os.FileMode(0644), os.FileMode(0755))
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
