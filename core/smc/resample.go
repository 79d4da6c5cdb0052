package smc

import "math/rand/v2"

// systematicResample draws N indices with replacement, probability
// proportional to weight, using a single uniform offset and evenly spaced
// positions. It preserves expected representation of posterior mass with
// lower variance than multinomial draws, and is deterministic given the
// stage stream: ties and orderings follow particle index order.
func systematicResample(weights []float64, rng *rand.Rand) []int {
	n := len(weights)
	indices := make([]int, n)

	u := rng.Float64() / float64(n)
	cumulative := weights[0]

	j := 0
	for i := 0; i < n; i++ {
		position := u + float64(i)/float64(n)
		for position > cumulative && j < n-1 {
			j++
			cumulative += weights[j]
		}
		indices[i] = j
	}
	return indices
}

// resample materializes the next stage's equally weighted population.
func resample(particles []*Particle, weights []float64, rng *rand.Rand) []*Particle {
	indices := systematicResample(weights, rng)

	out := make([]*Particle, len(indices))
	uniform := 1 / float64(len(indices))
	for i, idx := range indices {
		out[i] = particles[idx].Clone()
		out[i].Weight = uniform
	}
	return out
}
