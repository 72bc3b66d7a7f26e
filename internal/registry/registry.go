// Package registry resolves project and library prep identifiers against the
// external metadata registry (Charon).
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound reports that the registry has no matching record.
var ErrNotFound = errors.New("not found in registry")

// Error wraps every failed registry lookup.
type Error struct {
	Op         string // e.g. "project lookup"
	StatusCode int    // HTTP status, 0 when no response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("registry %s failed (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("registry %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Registry is the metadata service the hierarchy builder consults.
// LibraryPrepID must return a stable id for a fixed
// (project, sample, flowcell) triple.
type Registry interface {
	ProjectID(ctx context.Context, projectName string) (string, error)
	LibraryPrepID(ctx context.Context, projectID, sampleName, flowcellID string) (string, error)
}

type libprepKey struct {
	projectID, sample, flowcellID string
}

// Cache memoizes successful lookups of an underlying Registry.
// Failures are not cached.
type Cache struct {
	next     Registry
	mu       sync.Mutex
	projects map[string]string
	libpreps map[libprepKey]string
}

// NewCache wraps next.
func NewCache(next Registry) *Cache {
	return &Cache{
		next:     next,
		projects: make(map[string]string),
		libpreps: make(map[libprepKey]string),
	}
}

// ProjectID returns the cached id or asks the wrapped registry.
func (c *Cache) ProjectID(ctx context.Context, projectName string) (string, error) {
	c.mu.Lock()
	id, ok := c.projects[projectName]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := c.next.ProjectID(ctx, projectName)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.projects[projectName] = id
	c.mu.Unlock()
	return id, nil
}

// LibraryPrepID returns the cached id or asks the wrapped registry.
func (c *Cache) LibraryPrepID(ctx context.Context, projectID, sampleName, flowcellID string) (string, error) {
	key := libprepKey{projectID, sampleName, flowcellID}

	c.mu.Lock()
	id, ok := c.libpreps[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := c.next.LibraryPrepID(ctx, projectID, sampleName, flowcellID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.libpreps[key] = id
	c.mu.Unlock()
	return id, nil
}
