package smc

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// Stage is one completed annealing step: the tempering coefficient, the
// mutated population, and the statistics the next stage's adaptation and
// any resume need. Immutable once recorded.
type Stage struct {
	Index      int
	Beta       float64
	Population *Population

	// Proposal used for this stage's mutation pass (diagnostics/resume).
	Cov   *mat.SymDense
	Scale float64
	Steps int

	Acceptance float64
	ESS        float64
	Duration   time.Duration
}

// Terminal reports whether this is the β=1 posterior stage.
func (s *Stage) Terminal() bool { return s.Beta >= 1 }
