// Package gfstore provides read-only access to precomputed Green's-function
// lookup tables. The sampler treats a Store as an opaque synthetic-response
// function; building the tables is a separate precomputation.
package gfstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

var (
	ErrOutOfGrid      = errors.New("source parameters outside store grid")
	ErrDimensionality = errors.New("source parameter count does not match store axes")
)

// Store maps full source parameter values to synthetic observables.
// Implementations are shared and read-only for the duration of a run.
type Store interface {
	// Synthetics returns the precomputed response for the given source
	// parameters. Lookups outside the table return ErrOutOfGrid.
	Synthetics(source []float64) ([]float64, error)

	// Samples is the length of the synthetic vector.
	Samples() int
}

// Axis describes one regularly gridded source parameter dimension.
type Axis struct {
	Name  string  `json:"name"`
	Min   float64 `json:"min"`
	Step  float64 `json:"step"`
	Count int     `json:"count"`
}

// GridStore is a dense table over a regular source-parameter grid with
// nearest-node lookup. Values are stored row-major: the last axis varies
// fastest, each node holding one synthetic vector.
type GridStore struct {
	axes    []Axis
	samples int
	values  []float64
}

type gridFile struct {
	Axes    []Axis    `json:"axes"`
	Samples int       `json:"samples"`
	Values  []float64 `json:"values"`
}

// Load reads a grid store artifact from disk.
func Load(path string) (*GridStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", path, err)
	}

	var gf gridFile
	if err := json.Unmarshal(data, &gf); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", path, err)
	}
	return New(gf.Axes, gf.Samples, gf.Values)
}

// New validates table geometry and wraps the raw values.
func New(axes []Axis, samples int, values []float64) (*GridStore, error) {
	if len(axes) == 0 {
		return nil, errors.New("store has no axes")
	}
	nodes := 1
	for _, ax := range axes {
		if ax.Count < 1 || ax.Step <= 0 {
			return nil, fmt.Errorf("axis %q: invalid grid (count=%d step=%v)", ax.Name, ax.Count, ax.Step)
		}
		nodes *= ax.Count
	}
	if samples < 1 {
		return nil, fmt.Errorf("invalid sample count %d", samples)
	}
	if len(values) != nodes*samples {
		return nil, fmt.Errorf("value table has %d entries, want %d", len(values), nodes*samples)
	}
	return &GridStore{axes: axes, samples: samples, values: values}, nil
}

// Axes returns the grid geometry.
func (g *GridStore) Axes() []Axis { return g.axes }

func (g *GridStore) Samples() int { return g.samples }

// Synthetics performs a nearest-node lookup.
func (g *GridStore) Synthetics(source []float64) ([]float64, error) {
	if len(source) != len(g.axes) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionality, len(source), len(g.axes))
	}

	offset := 0
	for i, ax := range g.axes {
		node := int(math.Round((source[i] - ax.Min) / ax.Step))
		if node < 0 || node >= ax.Count {
			return nil, fmt.Errorf("%w: %s=%v outside [%v,%v]", ErrOutOfGrid,
				ax.Name, source[i], ax.Min, ax.Min+float64(ax.Count-1)*ax.Step)
		}
		offset = offset*ax.Count + node
	}

	start := offset * g.samples
	return g.values[start : start+g.samples], nil
}
