package smc

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSystematicResamplePreservesN(t *testing.T) {
	weights := []float64{0.1, 0.4, 0.2, 0.3}

	for seed := uint64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewPCG(seed, 0))
		indices := systematicResample(weights, rng)
		require.Len(t, indices, len(weights))
		for _, idx := range indices {
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, len(weights))
		}
	}
}

func TestSystematicResampleDeterministic(t *testing.T) {
	weights := []float64{0.25, 0.25, 0.25, 0.25}

	a := systematicResample(weights, rand.New(rand.NewPCG(7, 0)))
	b := systematicResample(weights, rand.New(rand.NewPCG(7, 0)))
	require.Equal(t, a, b)
}

func TestSystematicResampleMatchesWeightsInExpectation(t *testing.T) {
	weights := []float64{0.5, 0.3, 0.2}

	counts := make([]int, 3)
	const trials = 2000
	for seed := uint64(0); seed < trials; seed++ {
		rng := rand.New(rand.NewPCG(seed, 1))
		for _, idx := range systematicResample(weights, rng) {
			counts[idx]++
		}
	}

	total := float64(3 * trials)
	for i, w := range weights {
		freq := float64(counts[i]) / total
		require.InDelta(t, w, freq, 0.02, "index %d frequency", i)
	}
}

func TestSystematicResampleDropsZeroWeights(t *testing.T) {
	weights := []float64{0.5, 0.0, 0.5}

	for seed := uint64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewPCG(seed, 2))
		for _, idx := range systematicResample(weights, rng) {
			require.NotEqual(t, 1, idx, "zero-weight particle must never survive")
		}
	}
}

func TestResampleClonesAndUniformsWeights(t *testing.T) {
	particles := particlesWithLLs(-1, -2)
	particles[0].Weight = 0.9
	particles[1].Weight = 0.1

	out := resample(particles, []float64{0.9, 0.1}, rand.New(rand.NewPCG(1, 0)))
	require.Len(t, out, 2)

	for _, p := range out {
		require.InDelta(t, 0.5, p.Weight, 1e-12)
	}

	// Clones: mutating the output must not touch the source population.
	out[0].Params[0] = 12345
	require.NotEqual(t, 12345.0, particles[0].Params[0])
	require.NotEqual(t, 12345.0, particles[1].Params[0])
}
