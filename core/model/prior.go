// Package model defines the parameter space for an inversion: per-parameter
// priors, the source/hyperparameter partition, and fixed-parameter handling.
package model

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Family identifies a supported prior distribution family.
type Family int

const (
	FamilyUniform Family = iota
	FamilyNormal
	FamilyLogNormal
)

func (f Family) String() string {
	switch f {
	case FamilyUniform:
		return "uniform"
	case FamilyNormal:
		return "normal"
	case FamilyLogNormal:
		return "lognormal"
	default:
		return "unknown"
	}
}

// ParseFamily maps a config family string.
func ParseFamily(s string) (Family, bool) {
	switch s {
	case "uniform":
		return FamilyUniform, true
	case "normal":
		return FamilyNormal, true
	case "lognormal":
		return FamilyLogNormal, true
	}
	return 0, false
}

// Prior is one parameter's prior distribution. Immutable once built.
type Prior struct {
	Family Family
	Lower  float64 // uniform support
	Upper  float64
	Mu     float64 // normal / lognormal location
	Sigma  float64
}

// LogProb returns the log prior density at x.
func (p Prior) LogProb(x float64) float64 {
	switch p.Family {
	case FamilyUniform:
		if x < p.Lower || x > p.Upper {
			return math.Inf(-1)
		}
		return -math.Log(p.Upper - p.Lower)
	case FamilyNormal:
		return distuv.Normal{Mu: p.Mu, Sigma: p.Sigma}.LogProb(x)
	case FamilyLogNormal:
		return distuv.LogNormal{Mu: p.Mu, Sigma: p.Sigma}.LogProb(x)
	}
	return math.Inf(-1)
}

// Sample draws from the prior using the caller's random stream.
func (p Prior) Sample(rng *rand.Rand) float64 {
	switch p.Family {
	case FamilyUniform:
		return distuv.Uniform{Min: p.Lower, Max: p.Upper, Src: rng}.Rand()
	case FamilyNormal:
		return distuv.Normal{Mu: p.Mu, Sigma: p.Sigma, Src: rng}.Rand()
	case FamilyLogNormal:
		return distuv.LogNormal{Mu: p.Mu, Sigma: p.Sigma, Src: rng}.Rand()
	}
	return math.NaN()
}

// Mean returns the prior mean, used as the default reference point.
func (p Prior) Mean() float64 {
	switch p.Family {
	case FamilyUniform:
		return (p.Lower + p.Upper) / 2
	case FamilyNormal:
		return p.Mu
	case FamilyLogNormal:
		return math.Exp(p.Mu + p.Sigma*p.Sigma/2)
	}
	return math.NaN()
}
