// Package pool runs per-particle work across a fixed set of workers. The
// unit of work is one particle's full per-stage task (evaluation or a
// whole mutation chain); stage boundaries are barriers, so Run returns
// only after every submitted task has finished.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrPoolClosed = errors.New("pool is closed")

// Task is one particle's unit of work for the current stage.
type Task struct {
	Index   int
	Execute func(ctx context.Context) error
}

type job struct {
	task Task
	slot int
	ctx  context.Context
	errs []error
	wg   *sync.WaitGroup
}

// ParticlePool is a fixed-size worker pool with barrier semantics. Worker
// count never changes the result of a stage: tasks own disjoint particles
// and results are joined by particle index.
type ParticlePool struct {
	numWorkers int

	jobs chan job
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
	closed  atomic.Bool

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
}

// NewParticlePool creates a pool with the given worker count.
func NewParticlePool(numWorkers int) *ParticlePool {
	if numWorkers <= 0 {
		numWorkers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ParticlePool{
		numWorkers: numWorkers,
		jobs:       make(chan job),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Workers returns the configured worker count.
func (p *ParticlePool) Workers() int { return p.numWorkers }

func (p *ParticlePool) Start() {
	if p.running.Swap(true) {
		return
	}

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *ParticlePool) Stop() {
	if !p.running.Swap(false) {
		return
	}

	p.cancel()
	p.wg.Wait()
}

func (p *ParticlePool) Close() error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}

	p.Stop()
	return nil
}

// Run executes all tasks and waits for the barrier. Per-task errors are
// collected by index; the first (lowest-index) error is returned so
// failure reporting is deterministic.
func (p *ParticlePool) Run(ctx context.Context, tasks []Task) error {
	if !p.running.Load() || p.closed.Load() {
		return ErrPoolClosed
	}

	errs := make([]error, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		j := job{task: task, slot: i, ctx: ctx, errs: errs, wg: &wg}

		select {
		case p.jobs <- j:
			atomic.AddInt64(&p.tasksSubmitted, 1)
		case <-ctx.Done():
			wg.Done()
			errs[i] = ctx.Err()
			// Remaining tasks are not submitted; the barrier still joins
			// everything already in flight.
			for k := i + 1; k < len(tasks); k++ {
				errs[k] = ctx.Err()
			}
			wg.Wait()
			return firstError(errs)
		case <-p.ctx.Done():
			wg.Done()
			errs[i] = ErrPoolClosed
			wg.Wait()
			return firstError(errs)
		}
	}

	wg.Wait()
	return firstError(errs)
}

func firstError(errs []error) error {
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
	}
	return nil
}

func (p *ParticlePool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			err := p.executeTask(j.ctx, j.task)
			if err != nil {
				atomic.AddInt64(&p.tasksFailed, 1)
			} else {
				atomic.AddInt64(&p.tasksCompleted, 1)
			}
			j.errs[j.slot] = err
			j.wg.Done()
		}
	}
}

func (p *ParticlePool) executeTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %d panicked: %v", task.Index, r)
		}
	}()

	return task.Execute(ctx)
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	NumWorkers     int   `json:"num_workers"`
	Running        bool  `json:"running"`
	TasksSubmitted int64 `json:"tasks_submitted"`
	TasksCompleted int64 `json:"tasks_completed"`
	TasksFailed    int64 `json:"tasks_failed"`
}

func (p *ParticlePool) Stats() Stats {
	return Stats{
		NumWorkers:     p.numWorkers,
		Running:        p.running.Load(),
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
	}
}
