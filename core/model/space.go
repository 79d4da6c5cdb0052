package model

import (
	"math"
	"math/rand/v2"

	"github.com/adalundhe/tremor/core/config"
	trerrors "github.com/adalundhe/tremor/core/errors"
)

// Param is one named parameter of the inversion. Fixed parameters keep
// their value for the whole run and are excluded from the sampled vector.
type Param struct {
	Name       string
	Prior      Prior
	Hyper      bool // per-dataset noise-scale hyperparameter
	Fixed      bool
	FixedValue float64
}

// Space is the immutable parameter space of one inversion mode: ordered
// free parameters (source first, then one noise hyperparameter per
// dataset) plus the fixed source parameters baked in at build time.
type Space struct {
	params []Param
	free   []int // indices into params, sampled order
	index  map[string]int
}

// Noise hyperparameters are log10 scale factors on the data noise. The
// support is wide on purpose: calibration runs shrink it.
var defaultHyperPrior = Prior{Family: FamilyUniform, Lower: -5, Upper: 5}

// Build constructs the space from a validated configuration: one entry per
// configured prior, then one noise hyperparameter per dataset.
func Build(cfg *config.Config) (*Space, error) {
	s := &Space{index: make(map[string]int)}

	for _, pc := range cfg.Priors {
		family, ok := ParseFamily(pc.Family)
		if !ok {
			return nil, trerrors.NewConfigurationError("priors", "prior %q: unknown family %q", pc.Name, pc.Family)
		}
		p := Param{
			Name: pc.Name,
			Prior: Prior{
				Family: family,
				Lower:  pc.Lower,
				Upper:  pc.Upper,
				Mu:     pc.Mu,
				Sigma:  pc.Sigma,
			},
		}
		if pc.Fixed != nil {
			p.Fixed = true
			p.FixedValue = *pc.Fixed
		}
		if err := s.add(p); err != nil {
			return nil, err
		}
	}

	for _, ds := range cfg.Datasets {
		p := Param{
			Name:  config.HyperName(ds.Name),
			Prior: defaultHyperPrior,
			Hyper: true,
		}
		if err := s.add(p); err != nil {
			return nil, err
		}
	}

	if s.Dim() == 0 {
		return nil, trerrors.NewConfigurationError("priors", "no free parameters to sample")
	}
	return s, nil
}

func (s *Space) add(p Param) error {
	if _, dup := s.index[p.Name]; dup {
		return trerrors.NewConfigurationError("priors", "parameter %q declared twice", p.Name)
	}
	s.index[p.Name] = len(s.params)
	s.params = append(s.params, p)
	if !p.Fixed {
		s.free = append(s.free, len(s.params)-1)
	}
	return nil
}

// Dim returns the number of free (sampled) parameters.
func (s *Space) Dim() int { return len(s.free) }

// Names returns free parameter names in vector order.
func (s *Space) Names() []string {
	names := make([]string, len(s.free))
	for i, idx := range s.free {
		names[i] = s.params[idx].Name
	}
	return names
}

// HyperIndices returns vector positions of the noise hyperparameters.
func (s *Space) HyperIndices() []int {
	var out []int
	for i, idx := range s.free {
		if s.params[idx].Hyper {
			out = append(out, i)
		}
	}
	return out
}

// FreeIndex returns the vector position of a free parameter, or -1.
func (s *Space) FreeIndex(name string) int {
	idx, ok := s.index[name]
	if !ok {
		return -1
	}
	for i, fi := range s.free {
		if fi == idx {
			return i
		}
	}
	return -1
}

// LogPrior sums per-parameter log densities over the free vector.
func (s *Space) LogPrior(vec []float64) float64 {
	total := 0.0
	for i, idx := range s.free {
		lp := s.params[idx].Prior.LogProb(vec[i])
		if math.IsInf(lp, -1) {
			return math.Inf(-1)
		}
		total += lp
	}
	return total
}

// SampleFromPrior draws an independent free vector.
func (s *Space) SampleFromPrior(rng *rand.Rand) []float64 {
	vec := make([]float64, len(s.free))
	for i, idx := range s.free {
		vec[i] = s.params[idx].Prior.Sample(rng)
	}
	return vec
}

// ReferencePoint builds a full free vector from the configured reference
// map, falling back to prior means for parameters it doesn't name.
func (s *Space) ReferencePoint(ref map[string]float64) []float64 {
	vec := make([]float64, len(s.free))
	for i, idx := range s.free {
		p := s.params[idx]
		if v, ok := ref[p.Name]; ok {
			vec[i] = v
		} else {
			vec[i] = p.Prior.Mean()
		}
	}
	return vec
}

// SourceValues expands a free vector into the full ordered source parameter
// values (fixed parameters included, hyperparameters excluded), the form
// consumed by Green's-function stores.
func (s *Space) SourceValues(vec []float64) []float64 {
	var out []float64
	freePos := make(map[int]int, len(s.free))
	for i, idx := range s.free {
		freePos[idx] = i
	}
	for idx, p := range s.params {
		if p.Hyper {
			continue
		}
		if p.Fixed {
			out = append(out, p.FixedValue)
		} else {
			out = append(out, vec[freePos[idx]])
		}
	}
	return out
}

// FixSources returns a restricted space for hyperparameter-only sampling:
// every source parameter is pinned to the given full free vector's value
// and only the noise hyperparameters remain free. Parameter declaration
// order is preserved so SourceValues expands identically.
func (s *Space) FixSources(ref []float64) *Space {
	freePos := make(map[int]int, len(s.free))
	for i, idx := range s.free {
		freePos[idx] = i
	}

	r := &Space{index: make(map[string]int)}
	for idx, p := range s.params {
		if !p.Hyper && !p.Fixed {
			p.Fixed = true
			p.FixedValue = ref[freePos[idx]]
		}
		// add cannot fail here: names were unique in the parent space.
		_ = r.add(p)
	}
	return r
}

// Embed maps a restricted free vector back into the parent space's free
// vector, using ref for the pinned positions.
func (s *Space) Embed(restricted *Space, vec, ref []float64) []float64 {
	out := make([]float64, len(s.free))
	copy(out, ref)
	for i, idx := range s.free {
		name := s.params[idx].Name
		if ri := restricted.FreeIndex(name); ri >= 0 {
			out[i] = vec[ri]
		}
	}
	return out
}
