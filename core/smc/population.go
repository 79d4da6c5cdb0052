package smc

import (
	"context"
	"errors"
	"math"

	"github.com/viterin/vek"

	trerrors "github.com/adalundhe/tremor/core/errors"
	"github.com/adalundhe/tremor/core/likelihood"
	"github.com/adalundhe/tremor/core/pool"
)

// Population is the particle ensemble of one stage.
type Population struct {
	particles []*Particle
}

func NewPopulation(particles []*Particle) *Population {
	return &Population{particles: particles}
}

func (pop *Population) Len() int              { return len(pop.particles) }
func (pop *Population) Particles() []*Particle { return pop.particles }

// Evaluate computes log-likelihoods for every particle whose stored value
// is stale, in parallel across the pool. An evaluation failure is absorbed
// as log-likelihood −Inf (the particle carries no posterior mass); only
// cancellation propagates.
func (pop *Population) Evaluate(ctx context.Context, ev likelihood.Evaluator, workers *pool.ParticlePool) error {
	tasks := make([]pool.Task, 0, len(pop.particles))
	for i, p := range pop.particles {
		if p.Evaluated() {
			continue
		}
		p := p
		tasks = append(tasks, pool.Task{Index: i, Execute: func(tctx context.Context) error {
			ll, err := ev.LogLikelihood(tctx, p.Params)
			if err != nil {
				// A cancelled run is never absorbed, even when the
				// evaluator wrapped it as an evaluation failure.
				if cerr := tctx.Err(); cerr != nil {
					return cerr
				}
				if errors.Is(err, trerrors.ErrLikelihoodEvaluation) {
					p.LogLik = math.Inf(-1)
					return nil
				}
				return err
			}
			p.LogLik = ll
			return nil
		}})
	}

	if len(tasks) == 0 {
		return nil
	}
	return workers.Run(ctx, tasks)
}

// LogLiks returns the stored log-likelihood slice in particle order.
func (pop *Population) LogLiks() []float64 {
	lls := make([]float64, len(pop.particles))
	for i, p := range pop.particles {
		lls[i] = p.LogLik
	}
	return lls
}

// Reweight sets importance weights proportional to
// exp((betaNew−betaOld)·logLik), normalized to sum 1. Fails with a
// degeneracy error when no particle carries finite posterior mass.
func (pop *Population) Reweight(stage int, betaOld, betaNew float64) error {
	weights, err := weightsFor(pop.LogLiks(), betaNew-betaOld, stage)
	if err != nil {
		return err
	}
	for i, p := range pop.particles {
		p.Weight = weights[i]
	}
	return nil
}

// Weights returns the current normalized weights.
func (pop *Population) Weights() []float64 {
	w := make([]float64, len(pop.particles))
	for i, p := range pop.particles {
		w[i] = p.Weight
	}
	return w
}

// ESS is the effective sample size 1/Σwᵢ² of the current weights.
func (pop *Population) ESS() float64 {
	w := pop.Weights()
	return 1 / vek.Dot(w, w)
}

// weightsFor computes normalized importance weights for a tempering
// increment, max-shifted for numerical stability. Particles with −Inf
// likelihood get zero weight at any positive increment.
func weightsFor(lls []float64, delta float64, stage int) ([]float64, error) {
	maxLL := math.Inf(-1)
	for _, ll := range lls {
		if !math.IsInf(ll, -1) && !math.IsNaN(ll) && ll > maxLL {
			maxLL = ll
		}
	}
	if math.IsInf(maxLL, -1) {
		return nil, &trerrors.DegenerateLikelihoodError{Stage: stage}
	}

	weights := make([]float64, len(lls))
	for i, ll := range lls {
		if math.IsInf(ll, -1) || math.IsNaN(ll) {
			weights[i] = 0
			continue
		}
		weights[i] = math.Exp(delta * (ll - maxLL))
	}

	sum := vek.Sum(weights)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, &trerrors.DegenerateLikelihoodError{Stage: stage}
	}

	vek.MulNumber_Inplace(weights, 1/sum)
	return weights, nil
}

// covFor is the coefficient of variation of the unnormalized weights a
// tempering increment would produce, the degeneracy measure bounding Δβ.
func covFor(lls []float64, delta float64) float64 {
	weights, err := weightsFor(lls, delta, 0)
	if err != nil {
		return math.Inf(1)
	}

	mean := vek.Mean(weights)
	if mean <= 0 {
		return math.Inf(1)
	}

	variance := 0.0
	for _, w := range weights {
		d := w - mean
		variance += d * d
	}
	variance /= float64(len(weights))

	return math.Sqrt(variance) / mean
}
