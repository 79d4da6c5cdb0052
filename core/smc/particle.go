package smc

import "math"

// Particle is one weighted sample of the tempered posterior.
type Particle struct {
	Params   []float64
	LogPrior float64
	LogLik   float64
	Weight   float64
}

// NewParticle allocates a particle with an unevaluated likelihood.
func NewParticle(params []float64, logPrior float64) *Particle {
	return &Particle{
		Params:   params,
		LogPrior: logPrior,
		LogLik:   math.NaN(),
		Weight:   0,
	}
}

// Evaluated reports whether the stored likelihood is current.
func (p *Particle) Evaluated() bool {
	return !math.IsNaN(p.LogLik)
}

// Clone deep-copies the particle for resampling.
func (p *Particle) Clone() *Particle {
	params := make([]float64, len(p.Params))
	copy(params, p.Params)
	return &Particle{
		Params:   params,
		LogPrior: p.LogPrior,
		LogLik:   p.LogLik,
		Weight:   p.Weight,
	}
}
