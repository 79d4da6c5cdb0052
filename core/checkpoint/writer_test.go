package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	trerrors "github.com/adalundhe/tremor/core/errors"
)

func TestWriterSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-1")
	w, err := NewWriter(dir, "run-1", []string{"east", "north"})
	require.NoError(t, err)

	stage := sampleStage()
	require.NoError(t, w.SaveStage(stage))
	require.FileExists(t, filepath.Join(dir, "stage-0003.json"))

	loaded, snap, err := LoadStage(dir, 3)
	require.NoError(t, err)
	require.Equal(t, "run-1", snap.RunID)
	require.Equal(t, []string{"east", "north"}, snap.Names)
	require.Equal(t, stage.Beta, loaded.Beta)
	require.Equal(t, stage.Population.Len(), loaded.Population.Len())
}

func TestWriterLeavesNoTempFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-1")
	w, err := NewWriter(dir, "run-1", []string{"east", "north"})
	require.NoError(t, err)
	require.NoError(t, w.SaveStage(sampleStage()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestVerifyStageFileReadsBackDiskBytes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-1")
	w, err := NewWriter(dir, "run-1", []string{"east", "north"})
	require.NoError(t, err)
	require.NoError(t, w.SaveStage(sampleStage()))

	path := filepath.Join(dir, "stage-0003.json")
	require.NoError(t, verifyStageFile(path))

	// A short write on disk fails verification even though the in-memory
	// serialization was fine.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-20], 0644))
	require.Error(t, verifyStageFile(path))

	// So does content that parses but no longer matches its hash.
	tampered := strings.Replace(string(data), `"beta": 0.42`, `"beta": 0.43`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))
	require.Error(t, verifyStageFile(path))
}

func TestListStagesOrdersAndFilters(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-1")
	w, err := NewWriter(dir, "run-1", []string{"east", "north"})
	require.NoError(t, err)

	for _, idx := range []int{4, 0, 2} {
		stage := sampleStage()
		stage.Index = idx
		require.NoError(t, w.SaveStage(stage))
	}

	// Unrelated files in the run directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stage-9.json"), []byte("{}"), 0644))

	indices, err := ListStages(dir)
	require.NoError(t, err)
	require.Equal(t, []int{0, 2, 4}, indices)
}

func TestLoadLatestPicksHighestIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-1")
	w, err := NewWriter(dir, "run-1", []string{"east", "north"})
	require.NoError(t, err)

	for _, idx := range []int{0, 1, 2} {
		stage := sampleStage()
		stage.Index = idx
		stage.Beta = float64(idx) * 0.3
		require.NoError(t, w.SaveStage(stage))
	}

	stage, snap, err := LoadLatest(dir)
	require.NoError(t, err)
	require.Equal(t, 2, stage.Index)
	require.Equal(t, 0.6, snap.Beta)
}

func TestLoadLatestEmptyDirIsCorruption(t *testing.T) {
	dir := t.TempDir()
	_, _, err := LoadLatest(dir)
	require.ErrorIs(t, err, trerrors.ErrCheckpointCorruption)
}

func TestLoadSnapshotMissingStage(t *testing.T) {
	_, err := LoadSnapshot(t.TempDir(), 7)
	require.ErrorIs(t, err, trerrors.ErrCheckpointCorruption)

	var ce *trerrors.CheckpointCorruptionError
	require.ErrorAs(t, err, &ce)
	require.Contains(t, ce.Path, "stage-0007.json")
}

func TestLoadSnapshotTruncatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-1")
	w, err := NewWriter(dir, "run-1", []string{"east", "north"})
	require.NoError(t, err)
	require.NoError(t, w.SaveStage(sampleStage()))

	path := filepath.Join(dir, "stage-0003.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0644))

	_, err = LoadSnapshot(dir, 3)
	require.ErrorIs(t, err, trerrors.ErrCheckpointCorruption)
}

func TestLoadSnapshotTamperedContent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-1")
	w, err := NewWriter(dir, "run-1", []string{"east", "north"})
	require.NoError(t, err)
	require.NoError(t, w.SaveStage(sampleStage()))

	path := filepath.Join(dir, "stage-0003.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"beta": 0.42`, `"beta": 0.43`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	_, err = LoadSnapshot(dir, 3)
	require.ErrorIs(t, err, trerrors.ErrCheckpointCorruption)
}
