package smc

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distmv"
)

func testAdapter() *Adapter {
	return NewAdapter(AdapterConfig{TargetAcceptance: 0.25, MinSteps: 5, MaxSteps: 100})
}

func TestScaleFor(t *testing.T) {
	a := testAdapter()

	assert.InDelta(t, 1.0/9.0, a.scaleFor(0), 1e-12)
	assert.InDelta(t, 1.0, a.scaleFor(1), 1e-12)
	assert.InDelta(t, 1.0/9.0+8.0/9.0*0.25, a.scaleFor(0.25), 1e-12)

	// Out-of-range rates are clamped, not extrapolated.
	assert.InDelta(t, 1.0/9.0, a.scaleFor(-0.5), 1e-12)
	assert.InDelta(t, 1.0, a.scaleFor(3), 1e-12)
}

func TestStepsFor(t *testing.T) {
	a := testAdapter()

	// At 25% acceptance the 99% decorrelation law gives ceil(17) steps.
	assert.Equal(t, 17, a.stepsFor(0.25))

	// High acceptance needs few steps, floored at min_steps.
	assert.Equal(t, 5, a.stepsFor(0.9))

	// Near-zero acceptance is clamped at 5%, giving 90 steps.
	assert.Equal(t, 90, a.stepsFor(0.001))

	capped := NewAdapter(AdapterConfig{TargetAcceptance: 0.25, MinSteps: 5, MaxSteps: 50})
	assert.Equal(t, 50, capped.stepsFor(0.001))
}

func TestAdaptScalesCovariance(t *testing.T) {
	particles := []*Particle{
		{Params: []float64{-2, 1}},
		{Params: []float64{0, -1}},
		{Params: []float64{2, 0.5}},
		{Params: []float64{-2, -0.5}},
		{Params: []float64{2, 0}},
	}
	weights := []float64{0.2, 0.2, 0.2, 0.2, 0.2}

	a := testAdapter()
	prop, err := a.Adapt(particles, weights, 0.25)
	require.NoError(t, err)

	scale := a.scaleFor(0.25)
	require.InDelta(t, scale, prop.Scale, 1e-12)
	require.Equal(t, a.stepsFor(0.25), prop.Steps)

	raw, err := weightedCovariance(particles, weights)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, scale*scale*raw.At(i, j), prop.Cov.At(i, j), 1e-9)
		}
	}

	// The factorization must support multivariate draws.
	eps := distmv.NormalRand(nil, []float64{0, 0}, &prop.Chol, rand.New(rand.NewPCG(1, 0)))
	require.Len(t, eps, 2)
	require.False(t, math.IsNaN(eps[0]))
}

func TestAdaptRecoversFromCollapsedPopulation(t *testing.T) {
	// Identical particles give a zero covariance matrix; jitter must still
	// produce a usable factorization.
	particles := []*Particle{
		{Params: []float64{1, 2}},
		{Params: []float64{1, 2}},
		{Params: []float64{1, 2}},
	}
	weights := []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}

	prop, err := testAdapter().Adapt(particles, weights, 0.5)
	require.NoError(t, err)

	eps := distmv.NormalRand(nil, []float64{0, 0}, &prop.Chol, rand.New(rand.NewPCG(2, 0)))
	require.False(t, math.IsNaN(eps[0]))
	require.False(t, math.IsNaN(eps[1]))
}

func TestWeightedCovarianceEmptyPopulation(t *testing.T) {
	_, err := weightedCovariance(nil, nil)
	require.Error(t, err)
}
