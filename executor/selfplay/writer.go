package selfplay

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/brensch/cchess/store"
)

// Writer buffers finished games into rolling Parquet batches.
type Writer struct {
	mu            sync.Mutex
	outDir        string
	gamesPerFlush int
	written       *store.WrittenLog
	logger        zerolog.Logger

	batch *store.BatchWriter
}

// NewWriter flushes a batch to outDir every gamesPerFlush games. written
// may be nil.
func NewWriter(outDir string, gamesPerFlush int, written *store.WrittenLog, logger zerolog.Logger) *Writer {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}
	return &Writer{outDir: outDir, gamesPerFlush: gamesPerFlush, written: written, logger: logger}
}

// Add is a Sink.
func (w *Writer) Add(rec GameRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.batch == nil {
		bw, err := store.NewBatchWriter(w.outDir)
		if err != nil {
			return err
		}
		w.batch = bw
	}
	if err := w.batch.WriteGame(rec.ID, rec.Rows); err != nil {
		return err
	}
	if w.batch.BufferedGames() >= w.gamesPerFlush {
		return w.flush()
	}
	return nil
}

// Close publishes any buffered games.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

func (w *Writer) flush() error {
	if w.batch == nil {
		return nil
	}
	bw := w.batch
	w.batch = nil
	path, ids, rows, err := bw.Finalize()
	if err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}
	if path == "" {
		return nil
	}
	w.logger.Info().Str("path", path).Int("games", len(ids)).Int("rows", rows).Msg("parquet flush ok")
	if w.written != nil {
		if err := w.written.Record(path, ids); err != nil {
			return err
		}
	}
	return nil
}
