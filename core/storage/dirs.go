// Package storage resolves project directory layout and records run
// metadata in a per-project catalog.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// ProjectDirs describes the on-disk layout of one inversion project.
type ProjectDirs struct {
	Root    string // project root
	Config  string // <root>/config.yaml
	GF      string // <root>/gf/ (Green's-function store artifacts)
	Runs    string // <root>/runs/ (one subdirectory per sampling run)
	Catalog string // <root>/runs.db (run/stage summary catalog)
}

// ResolveProjectDirs returns the layout for the given project root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	return &ProjectDirs{
		Root:    projectRoot,
		Config:  filepath.Join(projectRoot, "config.yaml"),
		GF:      filepath.Join(projectRoot, "gf"),
		Runs:    filepath.Join(projectRoot, "runs"),
		Catalog: filepath.Join(projectRoot, "runs.db"),
	}
}

// RunDir returns the stage-snapshot directory for one run.
func (d *ProjectDirs) RunDir(runID string) string {
	return filepath.Join(d.Runs, runID)
}

// StorePath returns the Green's-function store artifact for a dataset.
func (d *ProjectDirs) StorePath(dataset string) string {
	return filepath.Join(d.GF, dataset+".json")
}

// DataPath returns the observed-data artifact for a dataset.
func (d *ProjectDirs) DataPath(dataset string) string {
	return filepath.Join(d.GF, dataset+".data.json")
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
