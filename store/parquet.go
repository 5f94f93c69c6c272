// Package store persists self-play training samples as Parquet.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const SchemaName = "cchess_training_row_v1"

// TrainingRow is one searched position of a self-play game.
//
// Placement is the board from the side to move's perspective, upper case
// for the mover, ranks from y=9 down to y=0. PolicyIndex/PolicyProb hold the
// visit distribution sparsely over the action label vocabulary. Value is the
// game outcome for the side to move: 1 win, -1 loss, 0 draw.
type TrainingRow struct {
	GameID      string    `parquet:"game_id,dict"`
	Ply         int32     `parquet:"ply"`
	Mover       string    `parquet:"mover,dict"`
	Placement   string    `parquet:"placement"`
	Move        string    `parquet:"move"`
	PolicyIndex []int32   `parquet:"policy_index"`
	PolicyProb  []float32 `parquet:"policy_prob"`
	Value       float32   `parquet:"value"`
	Source      string    `parquet:"source,dict"`

	ModelPath string `parquet:"model_path,dict,optional"`
}

// SparsePolicy keeps the non-zero entries of a dense policy.
func SparsePolicy(dense []float32) ([]int32, []float32) {
	var idx []int32
	var prob []float32
	for i, p := range dense {
		if p == 0 {
			continue
		}
		idx = append(idx, int32(i))
		prob = append(prob, p)
	}
	return idx, prob
}

// DensePolicy expands a row's sparse policy to size entries.
func (r TrainingRow) DensePolicy(size int) ([]float32, error) {
	if len(r.PolicyIndex) != len(r.PolicyProb) {
		return nil, fmt.Errorf("policy index/prob length mismatch: %d vs %d", len(r.PolicyIndex), len(r.PolicyProb))
	}
	out := make([]float32, size)
	for i, idx := range r.PolicyIndex {
		if idx < 0 || int(idx) >= size {
			return nil, fmt.Errorf("policy index %d out of range", idx)
		}
		out[idx] = r.PolicyProb[i]
	}
	return out, nil
}

// WriteBatchParquetAtomic writes rows into outDir/tmp and then moves the file
// into outDir, so readers never observe a partial file.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", SchemaName),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadRows loads every training row of a batch file.
func ReadRows(path string) ([]TrainingRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[TrainingRow](pf)
	defer reader.Close()

	rows := make([]TrainingRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}
