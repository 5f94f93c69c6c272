package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/cchess/store"
)

func gameRows(id string, plies int, redValue float32, source string) []store.TrainingRow {
	rows := make([]store.TrainingRow, plies)
	v := redValue
	for i := range rows {
		rows[i] = store.TrainingRow{GameID: id, Ply: int32(i), Mover: "red", Value: v, Source: source}
		v = -v
	}
	return rows
}

func TestSummarize(t *testing.T) {
	dir := t.TempDir()
	var rows []store.TrainingRow
	rows = append(rows, gameRows("a", 4, 1, "selfplay")...)
	rows = append(rows, gameRows("b", 6, -1, "selfplay")...)
	_, err := store.WriteBatchParquetAtomic(dir, rows)
	require.NoError(t, err)
	_, err = store.WriteBatchParquetAtomic(filepath.Join(dir, "older"), gameRows("c", 2, 0, "eval"))
	require.NoError(t, err)
	// Half-written files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tmp", "partial.parquet"), []byte("junk"), 0o644))

	db, err := openRows([]string{dir})
	require.NoError(t, err)
	defer db.Close()

	sum, err := summarize(context.Background(), db)
	require.NoError(t, err)
	require.EqualValues(t, 3, sum.Games)
	require.EqualValues(t, 12, sum.Rows)
	require.EqualValues(t, 1, sum.RedWins)
	require.EqualValues(t, 1, sum.BlackWins)
	require.EqualValues(t, 1, sum.Draws)
	require.InDelta(t, 4.0, sum.AvgPlies, 1e-9)
	require.Equal(t, map[string]int64{"eval": 1, "selfplay": 2}, sum.BySource)
}

func TestOpenRows_Empty(t *testing.T) {
	_, err := openRows([]string{t.TempDir()})
	require.ErrorIs(t, err, errNoBatches)
}
