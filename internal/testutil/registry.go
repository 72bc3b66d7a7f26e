package testutil

import (
	"context"
	"fmt"

	"github.com/harrison/fcsort/internal/registry"
)

// Registry is an in-memory registry.Registry for tests.
type Registry struct {
	// Projects maps project name to project id.
	Projects map[string]string
	// LibraryPreps maps "projectID/sample/flowcellID" to a library prep id.
	LibraryPreps map[string]string
	// DefaultLibraryPrep is returned when LibraryPreps has no entry.
	// Empty means unknown triples fail with registry.ErrNotFound.
	DefaultLibraryPrep string
}

func (r *Registry) ProjectID(_ context.Context, projectName string) (string, error) {
	if id, ok := r.Projects[projectName]; ok {
		return id, nil
	}
	return "", &registry.Error{Op: "project lookup", Err: fmt.Errorf("project %q: %w", projectName, registry.ErrNotFound)}
}

func (r *Registry) LibraryPrepID(_ context.Context, projectID, sampleName, flowcellID string) (string, error) {
	if id, ok := r.LibraryPreps[projectID+"/"+sampleName+"/"+flowcellID]; ok {
		return id, nil
	}
	if r.DefaultLibraryPrep != "" {
		return r.DefaultLibraryPrep, nil
	}
	return "", &registry.Error{
		Op:  "library prep lookup",
		Err: fmt.Errorf("project %s / sample %s / flowcell %s: %w", projectID, sampleName, flowcellID, registry.ErrNotFound),
	}
}
