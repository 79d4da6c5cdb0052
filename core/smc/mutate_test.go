package smc

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/adalundhe/tremor/core/config"
	trerrors "github.com/adalundhe/tremor/core/errors"
	"github.com/adalundhe/tremor/core/likelihood"
	"github.com/adalundhe/tremor/core/model"
)

func uniformSpace(t *testing.T) *model.Space {
	t.Helper()
	cfg := &config.Config{
		Priors: []config.PriorConfig{
			{Name: "east", Family: "uniform", Lower: -10, Upper: 10},
			{Name: "north", Family: "uniform", Lower: -10, Upper: 10},
		},
	}
	space, err := model.Build(cfg)
	require.NoError(t, err)
	return space
}

func diagProposal(t *testing.T, sigma float64, steps int) *Proposal {
	t.Helper()
	cov := mat.NewSymDense(2, nil)
	cov.SetSym(0, 0, sigma*sigma)
	cov.SetSym(1, 1, sigma*sigma)
	chol, err := factorize(cov)
	require.NoError(t, err)
	return &Proposal{Cov: cov, Chol: chol, Scale: 1, Steps: steps}
}

func startParticle(space *model.Space) *Particle {
	params := []float64{0, 0}
	return &Particle{Params: params, LogPrior: space.LogPrior(params), LogLik: 0}
}

func TestMutateAcceptsEveryMoveOnFlatTarget(t *testing.T) {
	space := uniformSpace(t)
	flat := likelihood.Func(func(ctx context.Context, vec []float64) (float64, error) {
		return 0, nil
	})
	engine := NewEngine(space, flat)

	// Flat likelihood and flat prior: log-alpha is exactly zero, so every
	// in-support proposal is accepted. Tiny steps keep the chain in support.
	p := startParticle(space)
	prop := diagProposal(t, 0.01, 20)

	accepted, err := engine.Mutate(context.Background(), p, 0.5, prop, rand.New(rand.NewPCG(3, 0)))
	require.NoError(t, err)
	require.Equal(t, 20, accepted)
}

func TestMutateFailedEvaluationsRejectWithoutError(t *testing.T) {
	space := uniformSpace(t)
	failing := likelihood.Func(func(ctx context.Context, vec []float64) (float64, error) {
		return 0, &trerrors.LikelihoodError{Dataset: "insar", Cause: errors.New("out of grid")}
	})
	engine := NewEngine(space, failing)

	p := startParticle(space)
	before := append([]float64(nil), p.Params...)

	accepted, err := engine.Mutate(context.Background(), p, 1, diagProposal(t, 0.5, 10), rand.New(rand.NewPCG(4, 0)))
	require.NoError(t, err)
	require.Equal(t, 0, accepted)
	require.Equal(t, before, p.Params)
	require.Equal(t, 0.0, p.LogLik)
}

func TestMutatePropagatesUnexpectedErrors(t *testing.T) {
	space := uniformSpace(t)
	broken := likelihood.Func(func(ctx context.Context, vec []float64) (float64, error) {
		return 0, errors.New("store unreadable")
	})
	engine := NewEngine(space, broken)

	_, err := engine.Mutate(context.Background(), startParticle(space), 1, diagProposal(t, 0.5, 10), rand.New(rand.NewPCG(5, 0)))
	require.Error(t, err)
	require.NotErrorIs(t, err, trerrors.ErrLikelihoodEvaluation)
}

func TestMutateHonorsCancelledContext(t *testing.T) {
	space := uniformSpace(t)
	flat := likelihood.Func(func(ctx context.Context, vec []float64) (float64, error) {
		return 0, nil
	})
	engine := NewEngine(space, flat)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	accepted, err := engine.Mutate(ctx, startParticle(space), 1, diagProposal(t, 0.5, 10), rand.New(rand.NewPCG(6, 0)))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, accepted)
}

func TestMutateKeepsParticleStateConsistent(t *testing.T) {
	space := uniformSpace(t)
	gaussian := likelihood.Func(func(ctx context.Context, vec []float64) (float64, error) {
		de, dn := vec[0]-5, vec[1]+3
		return -0.5 * (de*de + dn*dn), nil
	})
	engine := NewEngine(space, gaussian)

	p := startParticle(space)
	accepted, err := engine.Mutate(context.Background(), p, 1, diagProposal(t, 1.0, 50), rand.New(rand.NewPCG(7, 0)))
	require.NoError(t, err)
	require.Greater(t, accepted, 0)

	// The stored densities always describe the stored position.
	wantLL, _ := gaussian.LogLikelihood(context.Background(), p.Params)
	require.InDelta(t, wantLL, p.LogLik, 1e-12)
	require.InDelta(t, space.LogPrior(p.Params), p.LogPrior, 1e-12)
}

func TestMutateDeterministicPerStream(t *testing.T) {
	space := uniformSpace(t)
	gaussian := likelihood.Func(func(ctx context.Context, vec []float64) (float64, error) {
		return -0.5 * (vec[0]*vec[0] + vec[1]*vec[1]), nil
	})
	engine := NewEngine(space, gaussian)
	prop := diagProposal(t, 1.0, 30)

	a := startParticle(space)
	b := startParticle(space)

	accA, err := engine.Mutate(context.Background(), a, 0.7, prop, rand.New(rand.NewPCG(11, 9)))
	require.NoError(t, err)
	accB, err := engine.Mutate(context.Background(), b, 0.7, prop, rand.New(rand.NewPCG(11, 9)))
	require.NoError(t, err)

	require.Equal(t, accA, accB)
	require.Equal(t, a.Params, b.Params)
	require.Equal(t, a.LogLik, b.LogLik)
}
