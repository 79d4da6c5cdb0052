package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/tremor/core/checkpoint"
	"github.com/adalundhe/tremor/core/config"
	"github.com/adalundhe/tremor/core/model"
	"github.com/adalundhe/tremor/core/storage"
)

var (
	exportRun       string
	exportStage     int
	exportOutput    string
	exportReference bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run's posterior samples as CSV",
	Long: `Export the particle population of one persisted stage as CSV, one
row per particle with its parameter values, log densities, and weight.

By default the last completed stage of the latest run is exported.

Examples:
  tremor export                        # latest run, terminal stage
  tremor export --run 2f9c... --stage 4
  tremor export --output posterior.csv`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportRun, "run", "latest", "run ID to export")
	exportCmd.Flags().IntVar(&exportStage, "stage", -1, "stage index to export (default: last completed)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: stdout)")
	exportCmd.Flags().BoolVar(&exportReference, "reference", false, "prepend the configured reference point as a comment line")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	dirs := storage.ResolveProjectDirs(projectRoot)

	catalog, err := storage.OpenCatalog(dirs.Catalog)
	if err != nil {
		return err
	}
	defer catalog.Close()

	runID, err := resolveRunID(catalog, exportRun)
	if err != nil {
		return err
	}
	runDir := dirs.RunDir(runID)

	var snap *checkpoint.Snapshot
	if exportStage >= 0 {
		snap, err = checkpoint.LoadSnapshot(runDir, exportStage)
	} else {
		_, snap, err = checkpoint.LoadLatest(runDir)
	}
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOutput, err)
		}
		defer f.Close()
		out = f
	}

	if exportReference {
		if err := writeReferenceComment(out, dirs, snap.Names); err != nil {
			return err
		}
	}
	return writePosteriorCSV(out, snap)
}

// writeReferenceComment emits the configured reference point as a "#"
// comment line ahead of the CSV header, aligned with the snapshot's
// parameter order.
func writeReferenceComment(out io.Writer, dirs *storage.ProjectDirs, names []string) error {
	cfg, err := config.Load(dirs.Config)
	if err != nil {
		return err
	}
	space, err := model.Build(cfg)
	if err != nil {
		return err
	}

	ref := space.ReferencePoint(cfg.Reference)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		idx := space.FreeIndex(name)
		if idx < 0 {
			return fmt.Errorf("parameter %s of the exported run is not in the current configuration", name)
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, strconv.FormatFloat(ref[idx], 'g', -1, 64)))
	}

	_, err = fmt.Fprintf(out, "# reference: %s\n", strings.Join(parts, " "))
	return err
}

func writePosteriorCSV(out io.Writer, snap *checkpoint.Snapshot) error {
	w := csv.NewWriter(out)

	header := append(append([]string{}, snap.Names...), "log_prior", "log_lik", "weight")
	if err := w.Write(header); err != nil {
		return err
	}

	row := make([]string, 0, len(header))
	for _, p := range snap.Particles {
		row = row[:0]
		for _, v := range p.Params {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		row = append(row,
			strconv.FormatFloat(float64(p.LogPrior), 'g', -1, 64),
			strconv.FormatFloat(float64(p.LogLik), 'g', -1, 64),
			strconv.FormatFloat(p.Weight, 'g', -1, 64),
		)
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
