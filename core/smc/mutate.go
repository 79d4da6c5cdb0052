package smc

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"

	trerrors "github.com/adalundhe/tremor/core/errors"
	"github.com/adalundhe/tremor/core/likelihood"
	"github.com/adalundhe/tremor/core/model"
)

// Engine advances resampled particles through short Metropolis-Hastings
// chains at the current tempering coefficient. Chains are independent
// across particles; each particle's moves are strictly sequential.
type Engine struct {
	space *model.Space
	ev    likelihood.Evaluator
}

func NewEngine(space *model.Space, ev likelihood.Evaluator) *Engine {
	return &Engine{space: space, ev: ev}
}

// Mutate runs one particle's chain: steps proposals from the stage kernel,
// each accepted with probability exp(β·ΔlogLik + ΔlogPrior). A rejected
// move (including a likelihood failure) leaves the particle unchanged but
// still consumes a step, so acceptance statistics stay meaningful.
// Returns the number of accepted moves.
func (e *Engine) Mutate(ctx context.Context, p *Particle, beta float64, prop *Proposal, rng *rand.Rand) (int, error) {
	dim := len(p.Params)
	zero := make([]float64, dim)
	candidate := make([]float64, dim)

	accepted := 0
	for step := 0; step < prop.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return accepted, err
		}

		eps := distmv.NormalRand(nil, zero, &prop.Chol, rng)
		floats.AddTo(candidate, p.Params, eps)

		logPrior := e.space.LogPrior(candidate)
		if math.IsInf(logPrior, -1) {
			continue // outside the prior support
		}

		logLik, err := e.ev.LogLikelihood(ctx, candidate)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return accepted, cerr
			}
			if errors.Is(err, trerrors.ErrLikelihoodEvaluation) {
				continue // evaluation failure rejects the proposal
			}
			return accepted, err
		}

		logAlpha := beta*(logLik-p.LogLik) + (logPrior - p.LogPrior)
		if logAlpha >= 0 || math.Log(rng.Float64()) < logAlpha {
			copy(p.Params, candidate)
			p.LogPrior = logPrior
			p.LogLik = logLik
			accepted++
		}
	}
	return accepted, nil
}
