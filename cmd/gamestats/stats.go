package main

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

var errNoBatches = errors.New("no parquet batches found")

// Summary describes the self-play games stored under a set of directories.
type Summary struct {
	Games     int64
	Rows      int64
	RedWins   int64
	BlackWins int64
	Draws     int64
	AvgPlies  float64
	BySource  map[string]int64
}

// openRows creates an in-memory DuckDB with a "rows" view over every batch
// below roots. Files still being written under tmp/ are skipped.
func openRows(roots []string) (*sql.DB, error) {
	files := make([]string, 0, 64)
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		for _, f := range findBatches(root) {
			files = append(files, "'"+escapeSQLString(f)+"'")
		}
	}
	if len(files) == 0 {
		return nil, errNoBatches
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec("PRAGMA threads=4")

	// union_by_name tolerates batches written before model_path existed.
	sqlText := `CREATE OR REPLACE VIEW rows AS
		SELECT * FROM read_parquet([` + strings.Join(files, ",") + `], union_by_name=true)`
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func findBatches(root string) []string {
	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "tmp" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".parquet") {
			files = append(files, path)
		}
		return nil
	})
	return files
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func summarize(ctx context.Context, db *sql.DB) (Summary, error) {
	sum := Summary{BySource: map[string]int64{}}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT game_id), COUNT(*) FROM rows`).Scan(&sum.Games, &sum.Rows); err != nil {
		return Summary{}, err
	}

	var avg sql.NullFloat64
	if err := db.QueryRowContext(ctx, `SELECT AVG(n) FROM (SELECT MAX(ply) + 1 AS n FROM rows GROUP BY game_id)`).Scan(&avg); err != nil {
		return Summary{}, err
	}
	sum.AvgPlies = avg.Float64

	// Red moves at ply 0, so that row's value is the result for red.
	res, err := db.QueryContext(ctx, `SELECT value, COUNT(*) FROM rows WHERE ply = 0 GROUP BY value`)
	if err != nil {
		return Summary{}, err
	}
	defer res.Close()
	for res.Next() {
		var v float64
		var n int64
		if err := res.Scan(&v, &n); err != nil {
			return Summary{}, err
		}
		switch {
		case v > 0:
			sum.RedWins += n
		case v < 0:
			sum.BlackWins += n
		default:
			sum.Draws += n
		}
	}
	if err := res.Err(); err != nil {
		return Summary{}, err
	}

	src, err := db.QueryContext(ctx, `SELECT source, COUNT(DISTINCT game_id) FROM rows GROUP BY source ORDER BY source`)
	if err != nil {
		return Summary{}, err
	}
	defer src.Close()
	for src.Next() {
		var name sql.NullString
		var n int64
		if err := src.Scan(&name, &n); err != nil {
			return Summary{}, err
		}
		sum.BySource[name.String] = n
	}
	return sum, src.Err()
}
