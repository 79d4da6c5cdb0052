package smc

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/adalundhe/tremor/core/likelihood"
	"github.com/adalundhe/tremor/core/model"
	"github.com/adalundhe/tremor/core/pool"
)

// HyperSampler calibrates the per-dataset noise-scale hyperparameters
// before a full joint inversion: source parameters stay pinned at a
// reference point while plain (non-tempered, β=1) Metropolis passes run
// over the restricted space until the proposal covariance stabilizes.
type HyperSampler struct {
	cfg        ControllerConfig
	restricted *model.Space
	engine     *Engine
	adapter    *Adapter
	workers    *pool.ParticlePool
	sink       StageSink
	logger     *slog.Logger

	current *Stage
}

// NewHyperSampler restricts the parent space to its hyperparameters, with
// source parameters fixed at ref (a full free vector of the parent space).
func NewHyperSampler(cfg ControllerConfig, parent *model.Space, ev likelihood.Evaluator, ref []float64, workers *pool.ParticlePool, sink StageSink) *HyperSampler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	restricted := parent.FixSources(ref)
	adapted := likelihood.Func(func(ctx context.Context, vec []float64) (float64, error) {
		return ev.LogLikelihood(ctx, parent.Embed(restricted, vec, ref))
	})

	return &HyperSampler{
		cfg:        cfg,
		restricted: restricted,
		engine:     NewEngine(restricted, adapted),
		adapter: NewAdapter(AdapterConfig{
			TargetAcceptance: cfg.Sampler.TargetAcceptance,
			MinSteps:         cfg.Sampler.MinSteps,
			MaxSteps:         cfg.Sampler.MaxSteps,
		}),
		workers: workers,
		sink:    sink,
		logger:  logger,
	}
}

// Space returns the restricted hyperparameter space.
func (h *HyperSampler) Space() *model.Space { return h.restricted }

// Run executes Metropolis passes until the empirical covariance change
// between passes drops below the stabilization tolerance, then returns the
// terminal stage with the hyperparameter posterior.
func (h *HyperSampler) Run(ctx context.Context) (*Stage, error) {
	if err := h.init(ctx); err != nil {
		return nil, err
	}

	var prevCov *mat.SymDense
	for pass := 1; ; pass++ {
		if pass > h.cfg.Sampler.HyperMaxStages {
			h.logger.Warn("hyperparameter calibration hit max stages without stabilizing",
				"stages", h.cfg.Sampler.HyperMaxStages)
			return h.current, nil
		}

		stage, err := h.advance(ctx, pass)
		if err != nil {
			return nil, err
		}
		h.current = stage

		if prevCov != nil && covChange(prevCov, stage.Cov) < h.cfg.Sampler.HyperStabilizeTol {
			return stage, nil
		}
		prevCov = stage.Cov
	}
}

func (h *HyperSampler) init(ctx context.Context) error {
	n := h.cfg.Sampler.Particles
	particles := make([]*Particle, n)
	for i := 0; i < n; i++ {
		params := h.restricted.SampleFromPrior(particleStream(h.cfg.Seed, 0, i))
		particles[i] = NewParticle(params, h.restricted.LogPrior(params))
		particles[i].Weight = 1 / float64(n)
	}

	pop := NewPopulation(particles)
	if err := pop.Evaluate(ctx, h.engine.ev, h.workers); err != nil {
		return fmt.Errorf("hyperparameter initial evaluation: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.current = &Stage{
		Index:      0,
		Beta:       1,
		Population: pop,
		Scale:      1,
		Acceptance: h.cfg.Sampler.TargetAcceptance,
		ESS:        float64(n),
	}
	return h.save(h.current)
}

// advance runs one full Metropolis pass over the population. Weights stay
// uniform: there is no tempering and no resampling in calibration runs.
func (h *HyperSampler) advance(ctx context.Context, pass int) (*Stage, error) {
	start := time.Now()
	cur := h.current

	uniform := make([]float64, cur.Population.Len())
	for i := range uniform {
		uniform[i] = 1 / float64(len(uniform))
	}

	prop, err := h.adapter.Adapt(cur.Population.Particles(), uniform, cur.Acceptance)
	if err != nil {
		return nil, fmt.Errorf("hyperparameter pass %d: %w", pass, err)
	}

	particles := make([]*Particle, cur.Population.Len())
	for i, p := range cur.Population.Particles() {
		particles[i] = p.Clone()
	}

	accepts := make([]int, len(particles))
	tasks := make([]pool.Task, len(particles))
	for i, p := range particles {
		i, p := i, p
		tasks[i] = pool.Task{Index: i, Execute: func(tctx context.Context) error {
			rng := particleStream(h.cfg.Seed, pass, i)
			acc, err := h.engine.Mutate(tctx, p, 1, prop, rng)
			accepts[i] = acc
			return err
		}}
	}
	if err := h.workers.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("hyperparameter pass %d: %w", pass, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := 0
	for _, a := range accepts {
		total += a
	}

	stage := &Stage{
		Index:      pass,
		Beta:       1,
		Population: NewPopulation(particles),
		Cov:        prop.Cov,
		Scale:      prop.Scale,
		Steps:      prop.Steps,
		Acceptance: float64(total) / float64(len(particles)*prop.Steps),
		ESS:        float64(len(particles)),
		Duration:   time.Since(start),
	}

	h.logger.Info("hyperparameter pass complete",
		"pass", stage.Index,
		"acceptance", stage.Acceptance,
		"scale", stage.Scale,
		"steps", stage.Steps,
		"duration", stage.Duration,
	)

	return stage, h.save(stage)
}

func (h *HyperSampler) save(stage *Stage) error {
	if h.sink == nil {
		return nil
	}
	if err := h.sink.SaveStage(stage); err != nil {
		return fmt.Errorf("checkpoint hyperparameter pass %d: %w", stage.Index, err)
	}
	return nil
}

// covChange is the relative Frobenius-norm difference between successive
// pass covariances, the stabilization measure for calibration runs.
func covChange(prev, next *mat.SymDense) float64 {
	var diff mat.Dense
	diff.Sub(next, prev)

	prevNorm := mat.Norm(prev, 2)
	if prevNorm == 0 {
		return math.Inf(1)
	}
	return mat.Norm(&diff, 2) / prevNorm
}
