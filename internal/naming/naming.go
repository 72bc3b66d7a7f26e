// Package naming maps the directory names written by the demultiplexer onto
// the canonical project and sample names used in the analysis tree.
package naming

import (
	"regexp"
	"strings"
)

// Directory name prefixes and globs used by the demultiplexer.
const (
	UnalignedGlob     = "Unaligned*"
	BasecallStatsGlob = "Basecall_Stats_*"
	ProjectPrefix     = "Project_"
	SamplePrefix      = "Sample_"
)

var fastqPattern = regexp.MustCompile(`.*\.(fastq|fq)(\.gz|\.gzip|\.bz2)?$`)

// Normalize replaces every double underscore with a dot.
// Sample sheets encode "Y.Mom_14_01" as "Y__Mom_14_01".
func Normalize(raw string) string {
	return strings.ReplaceAll(raw, "__", ".")
}

// ProjectName returns the canonical project name for a Project_* directory name.
func ProjectName(dirName string) string {
	return Normalize(strings.TrimPrefix(dirName, ProjectPrefix))
}

// SampleName returns the canonical sample name for a Sample_* directory name.
func SampleName(dirName string) string {
	return Normalize(strings.TrimPrefix(dirName, SamplePrefix))
}

// IsFastq reports whether filename looks like a (possibly compressed) fastq file.
func IsFastq(filename string) bool {
	return fastqPattern.MatchString(filename)
}

// FilterFastq returns the fastq filenames in names, preserving order.
func FilterFastq(names []string) []string {
	var out []string
	for _, name := range names {
		if IsFastq(name) {
			out = append(out, name)
		}
	}
	return out
}
