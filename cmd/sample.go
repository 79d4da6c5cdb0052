package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adalundhe/tremor/core/checkpoint"
	"github.com/adalundhe/tremor/core/config"
	"github.com/adalundhe/tremor/core/gfstore"
	"github.com/adalundhe/tremor/core/likelihood"
	"github.com/adalundhe/tremor/core/model"
	"github.com/adalundhe/tremor/core/pool"
	"github.com/adalundhe/tremor/core/smc"
	"github.com/adalundhe/tremor/core/storage"
)

var (
	sampleMode   string
	sampleHypers bool
	sampleResume string
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Run a sampling run for the project",
	Long: `Run an adaptive-tempering sampling run over the project's datasets.

With --hypers, source parameters stay fixed at the configured reference
point and only the per-dataset noise-scale hyperparameters are sampled.

With --resume, the run continues from its last persisted stage snapshot.

Examples:
  tremor sample --project ./laquila --mode geometry
  tremor sample --project ./laquila --mode geometry --hypers
  tremor sample --project ./laquila --resume 2f9c...`,
	RunE: runSample,
}

func init() {
	sampleCmd.Flags().StringVarP(&sampleMode, "mode", "m", "", "inversion mode (geometry|static_dist|kinematic_dist), overrides config")
	sampleCmd.Flags().BoolVar(&sampleHypers, "hypers", false, "calibrate noise-scale hyperparameters only")
	sampleCmd.Flags().StringVar(&sampleResume, "resume", "", "resume an interrupted run by ID")
	rootCmd.AddCommand(sampleCmd)
}

func runSample(cmd *cobra.Command, args []string) error {
	if sampleHypers && sampleResume != "" {
		return fmt.Errorf("--hypers runs cannot be resumed; start a new calibration run")
	}

	logger := newLogger()
	dirs := storage.ResolveProjectDirs(projectRoot)

	cfg, err := config.Load(dirs.Config)
	if err != nil {
		return err
	}
	if sampleMode != "" {
		mode, err := config.ParseMode(sampleMode)
		if err != nil {
			return err
		}
		cfg.Mode = mode
	}

	space, err := model.Build(cfg)
	if err != nil {
		return err
	}

	ev, err := buildEvaluator(dirs, cfg, space)
	if err != nil {
		return err
	}

	catalog, err := storage.OpenCatalog(dirs.Catalog)
	if err != nil {
		return err
	}
	defer catalog.Close()

	workers := pool.NewParticlePool(cfg.Sampler.Workers)
	workers.Start()
	defer workers.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ccfg := smc.ControllerConfig{Seed: cfg.Seed, Sampler: cfg.Sampler, Logger: logger}

	if sampleResume != "" {
		return resumeRun(ctx, ccfg, dirs, cfg, space, ev, workers, catalog, logger)
	}
	if sampleHypers {
		return hyperRun(ctx, ccfg, dirs, cfg, space, ev, workers, catalog, logger)
	}
	return freshRun(ctx, ccfg, dirs, cfg, space, ev, workers, catalog, logger)
}

func freshRun(ctx context.Context, ccfg smc.ControllerConfig, dirs *storage.ProjectDirs, cfg *config.Config, space *model.Space, ev likelihood.Evaluator, workers *pool.ParticlePool, catalog *storage.Catalog, logger *slog.Logger) error {
	runID := uuid.NewString()
	sink, err := newRunSink(dirs, catalog, cfg, runID, space.Names(), false)
	if err != nil {
		return err
	}

	logger.Info("starting sampling run",
		"run", runID,
		"project", cfg.Name,
		"mode", cfg.Mode,
		"particles", cfg.Sampler.Particles,
		"workers", workers.Workers(),
	)

	ctrl := smc.NewController(ccfg, space, ev, workers, sink)
	final, err := ctrl.Run(ctx)
	return finishRun(catalog, logger, runID, final, err)
}

func hyperRun(ctx context.Context, ccfg smc.ControllerConfig, dirs *storage.ProjectDirs, cfg *config.Config, space *model.Space, ev likelihood.Evaluator, workers *pool.ParticlePool, catalog *storage.Catalog, logger *slog.Logger) error {
	ref := space.ReferencePoint(cfg.Reference)

	names := make([]string, len(cfg.Datasets))
	for i, dc := range cfg.Datasets {
		names[i] = config.HyperName(dc.Name)
	}

	runID := uuid.NewString()
	sink, err := newRunSink(dirs, catalog, cfg, runID, names, true)
	if err != nil {
		return err
	}

	logger.Info("starting noise calibration run",
		"run", runID,
		"project", cfg.Name,
		"hyperparameters", names,
	)

	hs := smc.NewHyperSampler(ccfg, space, ev, ref, workers, sink)
	final, err := hs.Run(ctx)
	return finishRun(catalog, logger, runID, final, err)
}

func resumeRun(ctx context.Context, ccfg smc.ControllerConfig, dirs *storage.ProjectDirs, cfg *config.Config, space *model.Space, ev likelihood.Evaluator, workers *pool.ParticlePool, catalog *storage.Catalog, logger *slog.Logger) error {
	runID := sampleResume
	runDir := dirs.RunDir(runID)

	stage, snap, err := checkpoint.LoadLatest(runDir)
	if err != nil {
		return err
	}
	if !slices.Equal(snap.Names, space.Names()) {
		return fmt.Errorf("run %s sampled %v but the configuration now defines %v", runID, snap.Names, space.Names())
	}

	writer, err := checkpoint.NewWriter(runDir, runID, snap.Names)
	if err != nil {
		return err
	}
	if err := catalog.UpdateRunStatus(runID, storage.RunStatusActive); err != nil {
		return err
	}

	logger.Info("resuming sampling run", "run", runID, "stage", stage.Index, "beta", stage.Beta)

	ctrl := smc.NewController(ccfg, space, ev, workers, &runSink{writer: writer, catalog: catalog, runID: runID})
	ctrl.Resume(stage)
	final, err := ctrl.Run(ctx)
	return finishRun(catalog, logger, runID, final, err)
}

// buildEvaluator assembles the joint likelihood over the configured
// datasets, wrapped with the per-call watchdog and the memoization cache.
func buildEvaluator(dirs *storage.ProjectDirs, cfg *config.Config, space *model.Space) (likelihood.Evaluator, error) {
	datasets := make([]likelihood.Dataset, 0, len(cfg.Datasets))
	for _, dc := range cfg.Datasets {
		storePath := dc.Store
		if storePath == "" {
			storePath = dirs.StorePath(dc.Name)
		}
		dataPath := dc.Data
		if dataPath == "" {
			dataPath = dirs.DataPath(dc.Name)
		}

		store, err := gfstore.Load(storePath)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", dc.Name, err)
		}
		obs, err := likelihood.LoadObserved(dataPath)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", dc.Name, err)
		}
		if store.Samples() != len(obs.Values) {
			return nil, fmt.Errorf("dataset %s: store has %d samples but data has %d values",
				dc.Name, store.Samples(), len(obs.Values))
		}

		datasets = append(datasets, likelihood.Dataset{
			Name:     dc.Name,
			Store:    store,
			Observed: obs.Values,
			Sigma:    obs.Sigma,
			HyperIdx: space.FreeIndex(config.HyperName(dc.Name)),
		})
	}

	var ev likelihood.Evaluator = likelihood.NewComposite(space, datasets)
	ev = likelihood.WithWatchdog(ev, cfg.Sampler.LikelihoodTimeout)
	ev = likelihood.WithCache(ev, cfg.Sampler.CacheSize)
	return ev, nil
}

// runSink fans each completed stage out to the snapshot writer and the
// run catalog.
type runSink struct {
	writer  *checkpoint.Writer
	catalog *storage.Catalog
	runID   string
}

func (s *runSink) SaveStage(stage *smc.Stage) error {
	if err := s.writer.SaveStage(stage); err != nil {
		return err
	}
	return s.catalog.RecordStage(storage.StageRecord{
		RunID:      s.runID,
		Index:      stage.Index,
		Beta:       stage.Beta,
		ESS:        stage.ESS,
		Acceptance: stage.Acceptance,
		Scale:      stage.Scale,
		Steps:      stage.Steps,
		Duration:   stage.Duration,
		CreatedAt:  time.Now(),
	})
}

func newRunSink(dirs *storage.ProjectDirs, catalog *storage.Catalog, cfg *config.Config, runID string, names []string, hypersOnly bool) (*runSink, error) {
	if err := storage.EnsureDir(dirs.Runs); err != nil {
		return nil, err
	}
	writer, err := checkpoint.NewWriter(dirs.RunDir(runID), runID, names)
	if err != nil {
		return nil, err
	}

	if err := catalog.RecordRun(storage.RunRecord{
		ID:         runID,
		Project:    cfg.Name,
		Mode:       string(cfg.Mode),
		HypersOnly: hypersOnly,
		Seed:       cfg.Seed,
		Particles:  cfg.Sampler.Particles,
		Status:     storage.RunStatusActive,
		CreatedAt:  time.Now(),
	}); err != nil {
		return nil, err
	}
	return &runSink{writer: writer, catalog: catalog, runID: runID}, nil
}

// finishRun records the terminal catalog status and logs the outcome.
func finishRun(catalog *storage.Catalog, logger *slog.Logger, runID string, final *smc.Stage, runErr error) error {
	if runErr != nil {
		if err := catalog.UpdateRunStatus(runID, storage.RunStatusFailed); err != nil {
			logger.Error("failed to mark run as failed", "run", runID, "error", err)
		}
		return runErr
	}

	if err := catalog.UpdateRunStatus(runID, storage.RunStatusComplete); err != nil {
		return err
	}
	logger.Info("run complete",
		"run", runID,
		"stages", final.Index+1,
		"beta", final.Beta,
		"ess", final.ESS,
		"particles", final.Population.Len(),
	)
	return nil
}
