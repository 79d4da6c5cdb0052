package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adalundhe/tremor/core/storage"
)

var (
	stagesRun  string
	stagesJSON bool
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Inspect runs and their stage progression",
	Long: `List the project's sampling runs, or the stage-by-stage tempering
schedule of one run.

Examples:
  tremor stages                      # list all runs
  tremor stages --run 2f9c...        # show one run's stages
  tremor stages --run latest`,
	RunE: runStages,
}

func init() {
	stagesCmd.Flags().StringVar(&stagesRun, "run", "", "run ID to inspect (or \"latest\")")
	stagesCmd.Flags().BoolVar(&stagesJSON, "json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(stagesCmd)
}

func runStages(cmd *cobra.Command, args []string) error {
	dirs := storage.ResolveProjectDirs(projectRoot)

	catalog, err := storage.OpenCatalog(dirs.Catalog)
	if err != nil {
		return err
	}
	defer catalog.Close()

	if stagesRun == "" {
		return listRuns(catalog)
	}

	runID, err := resolveRunID(catalog, stagesRun)
	if err != nil {
		return err
	}
	return listRunStages(catalog, runID)
}

// resolveRunID expands the "latest" shorthand.
func resolveRunID(catalog *storage.Catalog, id string) (string, error) {
	if id != "latest" {
		return id, nil
	}
	latest, err := catalog.LatestRun()
	if err != nil {
		return "", err
	}
	if latest == nil {
		return "", fmt.Errorf("no runs recorded for this project")
	}
	return latest.ID, nil
}

func listRuns(catalog *storage.Catalog) error {
	runs, err := catalog.Runs()
	if err != nil {
		return err
	}

	if stagesJSON {
		return json.NewEncoder(os.Stdout).Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tMODE\tKIND\tSEED\tPARTICLES\tSTATUS\tCREATED")
	for _, r := range runs {
		kind := "full"
		if r.HypersOnly {
			kind = "hypers"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Mode, kind, r.Seed, r.Particles, r.Status,
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func listRunStages(catalog *storage.Catalog, runID string) error {
	stages, err := catalog.Stages(runID)
	if err != nil {
		return err
	}

	if stagesJSON {
		return json.NewEncoder(os.Stdout).Encode(stages)
	}

	if len(stages) == 0 {
		fmt.Printf("no stages recorded for run %s\n", runID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tBETA\tESS\tACCEPTANCE\tSCALE\tSTEPS\tDURATION")
	for _, s := range stages {
		fmt.Fprintf(w, "%d\t%.6f\t%.1f\t%.3f\t%.3f\t%d\t%s\n",
			s.Index, s.Beta, s.ESS, s.Acceptance, s.Scale, s.Steps, s.Duration)
	}
	return w.Flush()
}
