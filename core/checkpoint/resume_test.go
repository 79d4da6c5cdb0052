package checkpoint

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adalundhe/tremor/core/config"
	"github.com/adalundhe/tremor/core/likelihood"
	"github.com/adalundhe/tremor/core/model"
	"github.com/adalundhe/tremor/core/pool"
	"github.com/adalundhe/tremor/core/smc"
)

func toyController(t *testing.T, workers *pool.ParticlePool, sink smc.StageSink) *smc.Controller {
	t.Helper()

	cfg := &config.Config{
		Priors: []config.PriorConfig{
			{Name: "east", Family: "uniform", Lower: -10, Upper: 10},
			{Name: "north", Family: "uniform", Lower: -10, Upper: 10},
		},
	}
	space, err := model.Build(cfg)
	require.NoError(t, err)

	ev := likelihood.Func(func(ctx context.Context, vec []float64) (float64, error) {
		de, dn := vec[0]-1, vec[1]+2
		return -0.5 * (de*de + dn*dn), nil
	})

	sampler := config.DefaultConfig().Sampler
	sampler.Particles = 100
	sampler.Workers = 2

	return smc.NewController(smc.ControllerConfig{
		Seed:    42,
		Sampler: sampler,
		Logger:  slog.New(slog.DiscardHandler),
	}, space, ev, workers, sink)
}

// A run interrupted after any persisted stage must continue to the exact
// same terminal population as an uninterrupted one.
func TestResumeFromDiskMatchesUninterruptedRun(t *testing.T) {
	workers := pool.NewParticlePool(2)
	workers.Start()
	defer workers.Close()

	dir := t.TempDir()
	w, err := NewWriter(dir, "run-a", []string{"east", "north"})
	require.NoError(t, err)

	final, err := toyController(t, workers, w).Run(context.Background())
	require.NoError(t, err)

	indices, err := ListStages(dir)
	require.NoError(t, err)
	require.Greater(t, len(indices), 2, "toy run must persist multiple stages")
	require.Equal(t, final.Index, indices[len(indices)-1])

	// Restart from the first intermediate checkpoint on disk.
	stage, _, err := LoadStage(dir, indices[1])
	require.NoError(t, err)

	ctrl := toyController(t, workers, nil)
	ctrl.Resume(stage)
	resumed, err := ctrl.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, final.Index, resumed.Index)
	require.Equal(t, final.Beta, resumed.Beta)

	fp := final.Population.Particles()
	rp := resumed.Population.Particles()
	require.Equal(t, len(fp), len(rp))
	for i := range fp {
		require.Equal(t, fp[i].Params, rp[i].Params, "particle %d", i)
		require.Equal(t, fp[i].LogLik, rp[i].LogLik, "particle %d", i)
		require.Equal(t, fp[i].LogPrior, rp[i].LogPrior, "particle %d", i)
	}
}

// Resuming from the terminal stage is a no-op: the run is already done.
func TestResumeFromTerminalStage(t *testing.T) {
	workers := pool.NewParticlePool(2)
	workers.Start()
	defer workers.Close()

	dir := t.TempDir()
	w, err := NewWriter(dir, "run-b", []string{"east", "north"})
	require.NoError(t, err)

	final, err := toyController(t, workers, w).Run(context.Background())
	require.NoError(t, err)

	stage, _, err := LoadLatest(dir)
	require.NoError(t, err)
	require.True(t, stage.Terminal())

	ctrl := toyController(t, workers, nil)
	ctrl.Resume(stage)
	resumed, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, final.Beta, resumed.Beta)
	require.Equal(t, final.Index, resumed.Index)
}
