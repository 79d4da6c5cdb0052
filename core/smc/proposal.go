package smc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Proposal is the fixed-for-a-stage Gaussian move kernel: the scaled
// empirical covariance of the weighted population, Cholesky-factorized for
// multivariate draws, plus the adapted per-particle chain length.
type Proposal struct {
	Cov   *mat.SymDense
	Chol  mat.Cholesky
	Scale float64
	Steps int
}

// AdapterConfig exposes the run-tuned constants of the adaptation
// heuristics. None of these are laws; see the sampler configuration.
type AdapterConfig struct {
	TargetAcceptance float64
	MinSteps         int
	MaxSteps         int
}

// Adapter tunes the next stage's proposal from the current population and
// the previous stage's acceptance statistics.
type Adapter struct {
	cfg AdapterConfig
}

func NewAdapter(cfg AdapterConfig) *Adapter {
	return &Adapter{cfg: cfg}
}

// Adapt builds the proposal for the next mutation pass. acceptance is the
// observed rate of the previous stage; pass the target rate for the first
// stage, where no statistics exist yet.
func (a *Adapter) Adapt(particles []*Particle, weights []float64, acceptance float64) (*Proposal, error) {
	cov, err := weightedCovariance(particles, weights)
	if err != nil {
		return nil, err
	}

	scale := a.scaleFor(acceptance)
	cov.ScaleSym(scale*scale, cov)

	chol, err := factorize(cov)
	if err != nil {
		return nil, err
	}

	return &Proposal{
		Cov:   cov,
		Chol:  chol,
		Scale: scale,
		Steps: a.stepsFor(acceptance),
	}, nil
}

// scaleFor shrinks the kernel when acceptance is low and widens it when
// high, pulling the chain toward the target rate. The affine form keeps
// the scale in (1/9, 1) for acceptance in (0, 1).
func (a *Adapter) scaleFor(acceptance float64) float64 {
	const base, gain = 1.0 / 9.0, 8.0 / 9.0
	r := clamp(acceptance, 0, 1)
	return base + gain*r
}

// stepsFor picks the chain length so that a particle accepts at least one
// move with ~99% probability at the observed rate. A decorrelation
// heuristic, not an exact criterion.
func (a *Adapter) stepsFor(acceptance float64) int {
	r := clamp(acceptance, 0.05, 0.95)
	n := int(math.Ceil(math.Log(0.01) / math.Log(1-r)))
	if n < a.cfg.MinSteps {
		return a.cfg.MinSteps
	}
	if n > a.cfg.MaxSteps {
		return a.cfg.MaxSteps
	}
	return n
}

// weightedCovariance is the weighted empirical covariance of the particle
// parameter vectors.
func weightedCovariance(particles []*Particle, weights []float64) (*mat.SymDense, error) {
	n := len(particles)
	if n == 0 {
		return nil, fmt.Errorf("empty population")
	}
	d := len(particles[0].Params)

	x := mat.NewDense(n, d, nil)
	for i, p := range particles {
		x.SetRow(i, p.Params)
	}

	cov := mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(cov, x, weights)
	return cov, nil
}

// factorize Cholesky-decomposes the covariance, adding escalating diagonal
// jitter when the empirical matrix is not positive definite (collapsed
// dimensions after resampling).
func factorize(cov *mat.SymDense) (mat.Cholesky, error) {
	var chol mat.Cholesky
	if chol.Factorize(cov) {
		return chol, nil
	}

	d := cov.SymmetricDim()
	jitter := 1e-10
	for tries := 0; tries < 10; tries++ {
		for i := 0; i < d; i++ {
			cov.SetSym(i, i, cov.At(i, i)+jitter)
		}
		if chol.Factorize(cov) {
			return chol, nil
		}
		jitter *= 10
	}
	return chol, fmt.Errorf("proposal covariance is not positive definite")
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
