package smc

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/adalundhe/tremor/core/config"
	trerrors "github.com/adalundhe/tremor/core/errors"
	"github.com/adalundhe/tremor/core/likelihood"
	"github.com/adalundhe/tremor/core/model"
	"github.com/adalundhe/tremor/core/pool"
)

// StageSink persists completed stages. Persistence happens only at stage
// barriers; an aborted stage is never handed to the sink.
type StageSink interface {
	SaveStage(stage *Stage) error
}

// ControllerConfig assembles the immutable run parameters.
type ControllerConfig struct {
	Seed    uint64
	Sampler config.SamplerConfig
	Logger  *slog.Logger // optional, uses slog.Default() if nil
}

// Controller drives the β-annealing schedule: it owns the stage loop,
// selects each tempering increment, and coordinates reweighting,
// resampling, mutation, adaptation, and checkpointing.
type Controller struct {
	cfg     ControllerConfig
	space   *model.Space
	engine  *Engine
	adapter *Adapter
	workers *pool.ParticlePool
	sink    StageSink
	logger  *slog.Logger

	current *Stage
}

// NewController wires the sampler components. sink may be nil (no
// persistence, used by short calibration runs and tests).
func NewController(cfg ControllerConfig, space *model.Space, ev likelihood.Evaluator, workers *pool.ParticlePool, sink StageSink) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		space:  space,
		engine: NewEngine(space, ev),
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

// Current returns the most recent completed stage.
func (c *Controller) Current() *Stage { return c.current }

// Init draws the stage-0 population from the prior at β=0 and evaluates
// it. Each particle uses its own deterministic stream.
func (c *Controller) Init(ctx context.Context) error {
	n := c.cfg.Sampler.Particles
	particles := make([]*Particle, n)
	for i := 0; i < n; i++ {
		params := c.space.SampleFromPrior(particleStream(c.cfg.Seed, 0, i))
		particles[i] = NewParticle(params, c.space.LogPrior(params))
		particles[i].Weight = 1 / float64(n)
	}

	pop := NewPopulation(particles)
	if err := pop.Evaluate(ctx, c.engine.ev, c.workers); err != nil {
		return fmt.Errorf("initial evaluation: %w", err)
	}
	if err := ctx.Err(); err != nil {
		// Abort at the barrier: no partial stage is ever persisted.
		return err
	}

	c.current = &Stage{
		Index:      0,
		Beta:       0,
		Population: pop,
		Scale:      1,
		Steps:      0,
		Acceptance: c.cfg.Sampler.TargetAcceptance,
		ESS:        float64(n),
	}
	return c.save(c.current)
}

// Resume re-enters the loop at a previously persisted stage.
func (c *Controller) Resume(stage *Stage) {
	c.current = stage
}

// Run executes stage transitions until the terminal β=1 stage completes.
// Returns the terminal stage holding the posterior population.
func (c *Controller) Run(ctx context.Context) (*Stage, error) {
	if c.current == nil {
		if err := c.Init(ctx); err != nil {
			return nil, err
		}
	}

	for !c.current.Terminal() {
		if c.current.Index >= c.cfg.Sampler.MaxStages {
			return nil, fmt.Errorf("stage %d: exceeded max_stages %d before reaching beta=1",
				c.current.Index, c.cfg.Sampler.MaxStages)
		}

		next, err := c.advance(ctx)
		if err != nil {
			return nil, err
		}
		c.current = next
	}
	return c.current, nil
}

// advance performs one full stage transition.
func (c *Controller) advance(ctx context.Context) (*Stage, error) {
	start := time.Now()
	cur := c.current
	nextIdx := cur.Index + 1

	delta, err := c.findDelta(cur)
	if err != nil {
		return nil, err
	}
	betaNew := math.Min(cur.Beta+delta, 1)

	if err := cur.Population.Reweight(cur.Index, cur.Beta, betaNew); err != nil {
		return nil, err
	}
	weights := cur.Population.Weights()
	ess := cur.Population.ESS()

	prop, err := c.adapter.Adapt(cur.Population.Particles(), weights, cur.Acceptance)
	if err != nil {
		return nil, fmt.Errorf("stage %d: %w", nextIdx, err)
	}

	particles := resample(cur.Population.Particles(), weights, stageStream(c.cfg.Seed, nextIdx))

	accepted, err := c.mutate(ctx, particles, betaNew, prop, nextIdx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		// Abort at the barrier: no partial stage is ever persisted.
		return nil, err
	}

	stage := &Stage{
		Index:      nextIdx,
		Beta:       betaNew,
		Population: NewPopulation(particles),
		Cov:        prop.Cov,
		Scale:      prop.Scale,
		Steps:      prop.Steps,
		Acceptance: float64(accepted) / float64(len(particles)*prop.Steps),
		ESS:        ess,
		Duration:   time.Since(start),
	}

	c.logger.Info("stage complete",
		"stage", stage.Index,
		"beta", stage.Beta,
		"ess", stage.ESS,
		"acceptance", stage.Acceptance,
		"scale", stage.Scale,
		"steps", stage.Steps,
		"duration", stage.Duration,
	)

	return stage, c.save(stage)
}

// mutate decorrelates the resampled particles in parallel. One task is one
// particle's whole chain; acceptance counts join at the barrier.
func (c *Controller) mutate(ctx context.Context, particles []*Particle, beta float64, prop *Proposal, stageIdx int) (int, error) {
	accepts := make([]int, len(particles))
	tasks := make([]pool.Task, len(particles))
	for i, p := range particles {
		i, p := i, p
		tasks[i] = pool.Task{Index: i, Execute: func(tctx context.Context) error {
			rng := particleStream(c.cfg.Seed, stageIdx, i)
			acc, err := c.engine.Mutate(tctx, p, beta, prop, rng)
			accepts[i] = acc
			return err
		}}
	}

	if err := c.workers.Run(ctx, tasks); err != nil {
		return 0, fmt.Errorf("stage %d mutation: %w", stageIdx, err)
	}

	total := 0
	for _, a := range accepts {
		total += a
	}
	return total, nil
}

// findDelta bisects for the smallest tempering increment whose importance
// weights hit the configured coefficient-of-variation target. When even
// the full remaining step keeps the population healthy, the schedule jumps
// straight to β=1.
func (c *Controller) findDelta(cur *Stage) (float64, error) {
	lls := cur.Population.LogLiks()
	target := c.cfg.Sampler.TargetCoV

	hi := 1 - cur.Beta
	if covFor(lls, hi) <= target {
		return hi, nil
	}

	lo := 0.0
	tol := c.cfg.Sampler.BisectTolerance
	maxIter := c.cfg.Sampler.BisectMaxIter

	for iter := 0; iter < maxIter; iter++ {
		mid := (lo + hi) / 2
		if covFor(lls, mid) > target {
			hi = mid
		} else {
			lo = mid
		}
		if hi-lo <= tol {
			// hi is the smallest bracketed increment meeting the target.
			return hi, nil
		}
	}
	return 0, &trerrors.ConvergenceFailureError{Stage: cur.Index, Iterations: maxIter}
}

func (c *Controller) save(stage *Stage) error {
	if c.sink == nil {
		return nil
	}
	if err := c.sink.SaveStage(stage); err != nil {
		return fmt.Errorf("checkpoint stage %d: %w", stage.Index, err)
	}
	return nil
}
