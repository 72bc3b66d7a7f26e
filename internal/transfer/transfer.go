// Package transfer copies raw fastq files into sequencing run directories of
// the analysis tree.
package transfer

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Agent copies source files into destDir. Implementations must treat an
// empty source list as a no-op.
type Agent interface {
	Transfer(ctx context.Context, sources []string, destDir string) error
}

// Error reports a failed copy. It is never recovered inside fcsort.
type Error struct {
	Dest   string
	Output string // Tool output, when the copy ran an external command
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("transfer to %s failed: %v", e.Dest, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Method names accepted by New.
const (
	MethodRsync  = "rsync"
	MethodCopy   = "copy"
	MethodDryRun = "dry-run"
)

// Options configures New.
type Options struct {
	Method    string
	RsyncPath string
	RsyncArgs []string
	DirMode   os.FileMode // Directory mode for the copy agent
	Logger    Logger
}

// Logger is the subset of logging the agents use.
type Logger interface {
	LogInfo(message string)
}

// New returns the agent for opts.Method; an empty method means rsync.
func New(opts Options) (Agent, error) {
	switch opts.Method {
	case "", MethodRsync:
		return NewRsync(opts.RsyncPath, opts.RsyncArgs), nil
	case MethodCopy:
		return &Copier{DirMode: opts.DirMode}, nil
	case MethodDryRun:
		return &DryRun{Logger: opts.Logger}, nil
	default:
		return nil, fmt.Errorf("unknown transfer method %q (want %s, %s or %s)", opts.Method, MethodRsync, MethodCopy, MethodDryRun)
	}
}

// DryRun logs transfers without touching the filesystem.
type DryRun struct {
	Logger Logger
}

func (d *DryRun) Transfer(_ context.Context, sources []string, destDir string) error {
	if d.Logger != nil && len(sources) > 0 {
		d.Logger.LogInfo(fmt.Sprintf("[dry-run] would copy %d file(s) to %s", len(sources), destDir))
	}
	return nil
}
