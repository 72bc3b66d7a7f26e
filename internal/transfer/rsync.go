package transfer

import (
	"context"
	"os/exec"
	"strings"
)

// DefaultRsyncArgs follows links, keeps times and permissions and makes the
// copies group-writable.
var DefaultRsyncArgs = []string{"-rLptv", "--chmod=g+rw"}

// Rsync copies files by invoking the rsync binary.
type Rsync struct {
	Path string
	Args []string
}

// NewRsync creates an rsync agent. Empty values fall back to "rsync" and
// DefaultRsyncArgs.
func NewRsync(path string, args []string) *Rsync {
	if path == "" {
		path = "rsync"
	}
	if len(args) == 0 {
		args = DefaultRsyncArgs
	}
	return &Rsync{Path: path, Args: args}
}

// BuildArgs returns the rsync argument list for one transfer.
func (r *Rsync) BuildArgs(sources []string, destDir string) []string {
	args := make([]string, 0, len(r.Args)+len(sources)+1)
	args = append(args, r.Args...)
	args = append(args, sources...)
	if !strings.HasSuffix(destDir, "/") {
		destDir += "/"
	}
	return append(args, destDir)
}

func (r *Rsync) Transfer(ctx context.Context, sources []string, destDir string) error {
	if len(sources) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, r.Path, r.BuildArgs(sources, destDir)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &Error{Dest: destDir, Output: string(output), Err: err}
	}
	return nil
}
