// Package cmd provides the tremor CLI: sampling runs, run inspection,
// and posterior export for inversion projects.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	projectRoot string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "tremor",
	Short: "Bayesian inversion of earthquake source parameters",
	Long: `Tremor estimates earthquake source parameters from geodetic and
seismic observations by adaptive-tempering Monte Carlo sampling over
precomputed Green's-function stores.

A project is a directory holding config.yaml, a gf/ store directory,
and a runs/ directory with one stage-snapshot subdirectory per run.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectRoot, "project", "p", ".", "project directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the process logger honoring --verbose.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
