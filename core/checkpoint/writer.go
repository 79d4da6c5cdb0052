package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	trerrors "github.com/adalundhe/tremor/core/errors"
	"github.com/adalundhe/tremor/core/smc"
)

var stageFilePattern = regexp.MustCompile(`^stage-(\d{4})\.json$`)

func stageFilename(index int) string {
	return fmt.Sprintf("stage-%04d.json", index)
}

// Writer persists stages for one run and implements smc.StageSink.
type Writer struct {
	dir   string
	runID string
	names []string
}

// NewWriter creates the run directory and returns a stage sink.
func NewWriter(dir, runID string, names []string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	return &Writer{dir: dir, runID: runID, names: names}, nil
}

// SaveStage writes the stage snapshot atomically: serialize to a temp
// file, verify it parses, then rename into place.
func (w *Writer) SaveStage(stage *smc.Stage) error {
	snap := FromStage(w.runID, w.names, stage)
	snap.Finalize()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize stage %d: %w", stage.Index, err)
	}

	path := filepath.Join(w.dir, stageFilename(stage.Index))
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write stage %d: %w", stage.Index, err)
	}

	if err := verifyStageFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("stage %d failed self-check: %w", stage.Index, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize stage %d: %w", stage.Index, err)
	}
	return nil
}

// verifyStageFile re-reads a written artifact from disk and validates it,
// so a short or failed write is caught before the rename publishes it.
func verifyStageFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	return snap.Validate()
}

// ListStages returns the indices of complete stage artifacts in a run
// directory, ascending.
func ListStages(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var indices []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := stageFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// LoadSnapshot reads and validates one stage artifact. Any integrity
// failure is a CheckpointCorruptionError: a truncated or tampered stage
// must never silently load.
func LoadSnapshot(dir string, index int) (*Snapshot, error) {
	path := filepath.Join(dir, stageFilename(index))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &trerrors.CheckpointCorruptionError{Path: path, Reason: "stage artifact not found"}
		}
		return nil, fmt.Errorf("read stage %d: %w", index, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &trerrors.CheckpointCorruptionError{Path: path, Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if err := snap.Validate(); err != nil {
		return nil, &trerrors.CheckpointCorruptionError{Path: path, Reason: err.Error()}
	}
	return &snap, nil
}

// LoadStage loads one stage for resume or diagnostics.
func LoadStage(dir string, index int) (*smc.Stage, *Snapshot, error) {
	snap, err := LoadSnapshot(dir, index)
	if err != nil {
		return nil, nil, err
	}
	return snap.ToStage(), snap, nil
}

// LoadLatest discovers and loads the last complete stage of a run.
func LoadLatest(dir string) (*smc.Stage, *Snapshot, error) {
	indices, err := ListStages(dir)
	if err != nil {
		return nil, nil, err
	}
	if len(indices) == 0 {
		return nil, nil, &trerrors.CheckpointCorruptionError{Path: dir, Reason: "no stage artifacts found"}
	}
	return LoadStage(dir, indices[len(indices)-1])
}
