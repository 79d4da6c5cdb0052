// Package smc implements the staged adaptive-tempering Monte Carlo sampler:
// a weighted particle population annealed from the prior (β=0) to the full
// posterior (β=1) through reweighting, resampling, and parallel
// Metropolis-Hastings mutation with an adapted proposal.
package smc

import "math/rand/v2"

// Random streams are keyed by (run seed, stage index, particle index) so a
// rerun or resume reproduces identical draws regardless of worker count.
// Slot 0 of each stage is reserved for stage-level draws (resampling).

func stageStream(seed uint64, stage int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(stage)<<32))
}

func particleStream(seed uint64, stage, particle int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(stage)<<32|uint64(particle+1)))
}
