// Package likelihood evaluates log-likelihoods of parameter vectors against
// observed datasets through Green's-function stores. Evaluators are pure
// functions over shared, read-only data; per-call failures surface as
// errors for the caller to treat as rejected proposals.
package likelihood

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"

	trerrors "github.com/adalundhe/tremor/core/errors"
	"github.com/adalundhe/tremor/core/gfstore"
	"github.com/adalundhe/tremor/core/model"
)

const log2Pi = 1.8378770664093454836

// Evaluator computes the log-likelihood of one free parameter vector.
// Implementations must be safe for concurrent use.
type Evaluator interface {
	LogLikelihood(ctx context.Context, vec []float64) (float64, error)
}

// Func adapts a plain function to the Evaluator interface.
type Func func(ctx context.Context, vec []float64) (float64, error)

func (f Func) LogLikelihood(ctx context.Context, vec []float64) (float64, error) {
	return f(ctx, vec)
}

// Dataset couples one observed dataset with its store and noise scaling.
type Dataset struct {
	Name     string
	Store    gfstore.Store
	Observed []float64
	Sigma    float64 // base per-sample noise standard deviation
	HyperIdx int     // vector position of the log10 noise-scale hyperparameter
}

// Composite sums independent per-dataset Gaussian log-likelihoods. The
// noise hyperparameter h scales each dataset's noise std by 10^h, so the
// calibration run can absorb misfit the forward model cannot explain.
type Composite struct {
	space    *model.Space
	datasets []Dataset
}

// NewComposite builds the joint evaluator over the configured datasets.
func NewComposite(space *model.Space, datasets []Dataset) *Composite {
	return &Composite{space: space, datasets: datasets}
}

func (c *Composite) LogLikelihood(ctx context.Context, vec []float64) (float64, error) {
	src := c.space.SourceValues(vec)

	total := 0.0
	for _, ds := range c.datasets {
		// Run abort is not an evaluation failure: cancellation propagates
		// raw so callers never mistake it for a rejectable proposal.
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		syn, err := ds.Store.Synthetics(src)
		if err != nil {
			return 0, &trerrors.LikelihoodError{Dataset: ds.Name, Cause: err}
		}

		total += gaussianLogLik(ds.Observed, syn, ds.Sigma, vec[ds.HyperIdx])
	}
	if math.IsNaN(total) {
		return 0, &trerrors.LikelihoodError{Cause: errNaNLikelihood}
	}
	return total, nil
}

// gaussianLogLik is the iid Gaussian misfit with noise std sigma*10^h.
func gaussianLogLik(observed, synthetic []float64, sigma, h float64) float64 {
	n := float64(len(observed))
	std := sigma * math.Pow(10, h)

	residual := make([]float64, len(observed))
	floats.SubTo(residual, observed, synthetic)
	rss := floats.Dot(residual, residual)

	return -0.5*n*log2Pi - n*math.Log(std) - rss/(2*std*std)
}

var errNaNLikelihood = errors.New("likelihood is NaN")
