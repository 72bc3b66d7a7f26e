package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Copier copies files with the standard library, for hosts without rsync.
// Each file is written to a temporary name and renamed into place.
type Copier struct {
	// DirMode is used when destDir does not exist yet; zero means 0770.
	DirMode os.FileMode
}

func (c *Copier) Transfer(ctx context.Context, sources []string, destDir string) error {
	if len(sources) == 0 {
		return nil
	}
	mode := c.DirMode
	if mode == 0 {
		mode = 0770
	}
	if err := os.MkdirAll(destDir, mode); err != nil {
		return &Error{Dest: destDir, Err: err}
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return &Error{Dest: destDir, Err: err}
		}
		if err := copyFile(src, filepath.Join(destDir, filepath.Base(src))); err != nil {
			return &Error{Dest: destDir, Err: err}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fcsort-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()|0060); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("set times: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	tmp = nil
	return nil
}
