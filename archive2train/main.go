package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/brensch/cchess/executor/convert"
	"github.com/brensch/cchess/game"
	"github.com/brensch/cchess/logging"
	"github.com/brensch/cchess/store"
)

// TrainingXRow is a self-play row with the position already encoded as
// input planes, ready for the trainer to read without any game logic.
type TrainingXRow struct {
	GameID string `parquet:"game_id,dict"`
	Ply    int32  `parquet:"ply"`

	X []byte `parquet:"x"`

	Policy []float32 `parquet:"policy"`
	Value  float32   `parquet:"value"`

	XC int32 `parquet:"x_c"`
	XH int32 `parquet:"x_h"`
	XW int32 `parquet:"x_w"`

	Source string `parquet:"source,dict"`
}

const outSchema = "cchess_training_x_row_v1"

func main() {
	inDir := pflag.String("in-dir", "", "directory containing self-play parquet batches")
	outDir := pflag.String("out-dir", "", "output directory for encoded training shards")
	level := pflag.String("log-level", "info", "zerolog level")
	pflag.Parse()

	if _, err := logging.Setup(os.Stderr, *level, false); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	if *inDir == "" || *outDir == "" {
		log.Fatal().Msg("--in-dir and --out-dir are required")
	}

	absIn, _ := filepath.Abs(*inDir)
	absOut, _ := filepath.Abs(*outDir)
	if absIn == absOut {
		log.Fatal().Msg("out-dir must be different from in-dir")
	}
	if err := os.MkdirAll(absOut, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create out-dir")
	}

	inputs := findInputs(absIn)
	if len(inputs) == 0 {
		log.Fatal().Str("dir", absIn).Msg("no parquet inputs found")
	}

	converted := 0
	for _, inPath := range inputs {
		base := filepath.Base(inPath)
		outPath := filepath.Join(absOut, strings.TrimSuffix(base, filepath.Ext(base))+".train.parquet")
		n, err := convertOne(inPath, outPath)
		if err != nil {
			log.Error().Err(err).Str("file", inPath).Msg("convert failed")
			continue
		}
		log.Debug().Str("file", outPath).Int("rows", n).Msg("converted")
		if n > 0 {
			converted++
		}
	}
	if converted == 0 {
		log.Fatal().Msg("no output written (no convertible rows)")
	}
	log.Info().Int("files", converted).Str("out", absOut).Msg("done")
}

func findInputs(dir string) []string {
	inputs := make([]string, 0, 1024)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
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
			inputs = append(inputs, path)
		}
		return nil
	})
	return inputs
}

// encodeRow turns a stored row into planes and a dense policy.
func encodeRow(row store.TrainingRow) (TrainingXRow, error) {
	s, err := game.ParseState(row.Placement)
	if err != nil {
		return TrainingXRow{}, fmt.Errorf("game %s ply %d: %w", row.GameID, row.Ply, err)
	}
	policy, err := row.DensePolicy(game.NumActions)
	if err != nil {
		return TrainingXRow{}, fmt.Errorf("game %s ply %d: %w", row.GameID, row.Ply, err)
	}

	planes := convert.ToPlanes(s)
	b := convert.PlanesToBytes(*planes)
	convert.PutPlanes(planes)
	x := make([]byte, len(*b))
	copy(x, *b)
	convert.PutBuffer(b)

	return TrainingXRow{
		GameID: row.GameID,
		Ply:    row.Ply,
		X:      x,
		Policy: policy,
		Value:  row.Value,
		XC:     int32(convert.Channels),
		XH:     int32(convert.Height),
		XW:     int32(convert.Width),
		Source: row.Source,
	}, nil
}

func convertOne(inPath string, outPath string) (int, error) {
	rows, err := store.ReadRows(inPath)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	out := make([]TrainingXRow, 0, len(rows))
	for _, row := range rows {
		x, err := encodeRow(row)
		if err != nil {
			return 0, err
		}
		out = append(out, x)
	}

	outTmp := outPath + ".tmp"
	_ = os.Remove(outTmp)
	outF, err := os.OpenFile(outTmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	writer := parquet.NewGenericWriter[TrainingXRow](
		outF,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	writer.SetKeyValueMetadata("schema", outSchema)

	_, werr := writer.Write(out)
	werr = errors.Join(werr, writer.Close(), outF.Sync(), outF.Close())
	if werr != nil {
		_ = os.Remove(outTmp)
		return 0, werr
	}
	if err := os.Rename(outTmp, outPath); err != nil {
		_ = os.Remove(outTmp)
		return 0, err
	}
	return len(out), nil
}
