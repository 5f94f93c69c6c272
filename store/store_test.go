package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows(gameID string, n int) []TrainingRow {
	rows := make([]TrainingRow, n)
	for i := range rows {
		idx, prob := SparsePolicy([]float32{0, 0.25, 0, 0.75})
		rows[i] = TrainingRow{
			GameID:      gameID,
			Ply:         int32(i),
			Mover:       "red",
			Placement:   "rnbakabnr/9/1c5c1/p1p1p1p1p/9/9/P1P1P1P1P/1C5C1/9/RNBAKABNR",
			Move:        "1242",
			PolicyIndex: idx,
			PolicyProb:  prob,
			Value:       1,
			Source:      "selfplay",
		}
	}
	return rows
}

func TestSparsePolicy(t *testing.T) {
	idx, prob := SparsePolicy([]float32{0, 0.25, 0, 0.75})
	assert.Equal(t, []int32{1, 3}, idx)
	assert.Equal(t, []float32{0.25, 0.75}, prob)

	dense, err := TrainingRow{PolicyIndex: idx, PolicyProb: prob}.DensePolicy(4)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.25, 0, 0.75}, dense)

	_, err = TrainingRow{PolicyIndex: []int32{9}, PolicyProb: []float32{1}}.DensePolicy(4)
	assert.Error(t, err)
}

func TestBatchWriter_PublishesOnFinalize(t *testing.T) {
	dir := t.TempDir()
	bw, err := NewBatchWriter(dir)
	require.NoError(t, err)

	require.NoError(t, bw.WriteGame("g1", sampleRows("g1", 3)))
	require.NoError(t, bw.WriteGame("g2", sampleRows("g2", 2)))
	assert.Equal(t, 2, bw.BufferedGames())
	assert.Equal(t, 5, bw.BufferedRows())

	_, err = os.Stat(bw.OutPath())
	assert.True(t, os.IsNotExist(err), "file visible before finalize")

	path, ids, rows, err := bw.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, ids)
	assert.Equal(t, 5, rows)

	got, err := ReadRows(path)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "g2", got[4].GameID)
	assert.Equal(t, []int32{1, 3}, got[0].PolicyIndex)

	require.Error(t, bw.WriteGame("g3", nil))
}

func TestBatchWriter_EmptyLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	bw, err := NewBatchWriter(dir)
	require.NoError(t, err)

	path, ids, rows, err := bw.Finalize()
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, ids)
	assert.Zero(t, rows)

	entries, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteBatchParquetAtomic(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteBatchParquetAtomic(dir, sampleRows("g", 4))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	got, err := ReadRows(path)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestWrittenLog_Reopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "written.log")
	l, err := OpenWrittenLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Record("a.parquet", []string{"g1", "g2", ""}))
	require.NoError(t, l.Record("b.parquet", []string{"g2", "g3"}))
	assert.Equal(t, 3, l.Count())
	require.NoError(t, l.Close())

	l, err = OpenWrittenLog(path)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 3, l.Count())
	f, ok := l.File("g2")
	assert.True(t, ok)
	assert.Equal(t, "a.parquet", f)
}
