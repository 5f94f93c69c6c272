package selfplay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/frand"

	"github.com/brensch/cchess/executor/mcts"
)

type WorkerConfig struct {
	Game GameOptions
	// ShareTree lets both sides search one tree.
	ShareTree bool
	// ResetTreeEvery clears the trees after that many games; 0 keeps them
	// until the memory guard resets them.
	ResetTreeEvery int
	// MaxGames stops all workers once that many games finished; 0 is
	// unlimited.
	MaxGames int64
}

// Sink receives finished games. It is called from every worker goroutine.
type Sink func(GameRecord) error

// Worker plays games back to back over its own trees.
type Worker struct {
	ID   int
	Eval mcts.Evaluator
	Cfg  WorkerConfig
	Sink Sink

	played *atomic.Int64
}

func (w *Worker) open() (red, black *mcts.Searcher, err error) {
	cfg := w.Cfg.Game.Search
	red, err = mcts.Open(mcts.NewTree(cfg.Stripes), w.Eval, cfg)
	if err != nil {
		return nil, nil, err
	}
	if w.Cfg.ShareTree {
		return red, red, nil
	}
	black, err = mcts.Open(mcts.NewTree(cfg.Stripes), w.Eval, cfg)
	if err != nil {
		red.Close()
		return nil, nil, err
	}
	return red, black, nil
}

// Run plays until ctx ends, MaxGames is reached or a game fails.
func (w *Worker) Run(ctx context.Context) error {
	logger := zerolog.Ctx(ctx).With().Int("worker", w.ID).Logger()
	ctx = logger.WithContext(ctx)

	red, black, err := w.open()
	if err != nil {
		return fmt.Errorf("worker %d: %w", w.ID, err)
	}
	defer func() {
		red.Close()
		if black != red {
			black.Close()
		}
	}()

	seed := frand.Uint64n(math.MaxUint64)
	rng := rand.New(rand.NewPCG(seed, uint64(w.ID)))

	for games := 0; ; games++ {
		if ctx.Err() != nil {
			return nil
		}
		if w.Cfg.ResetTreeEvery > 0 && games > 0 && games%w.Cfg.ResetTreeEvery == 0 {
			red.Tree().Reset()
			black.Tree().Reset()
			logger.Debug().Int("games", games).Msg("reset search trees")
		}

		rec, err := PlayGame(ctx, red, black, rng, w.Cfg.Game)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d: %w", w.ID, err)
		}
		if w.Sink != nil {
			if err := w.Sink(rec); err != nil {
				return fmt.Errorf("worker %d: sink: %w", w.ID, err)
			}
		}
		if w.played != nil {
			if n := w.played.Add(1); w.Cfg.MaxGames > 0 && n >= w.Cfg.MaxGames {
				return nil
			}
		}
	}
}

// RunWorkers runs n workers sharing eval until ctx ends or MaxGames games
// are done. The first worker error stops the others.
func RunWorkers(ctx context.Context, n int, eval mcts.Evaluator, cfg WorkerConfig, sink Sink) error {
	var played atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()
	for i := 0; i < n; i++ {
		w := &Worker{ID: i, Eval: eval, Cfg: cfg, Sink: sink, played: &played}
		g.Go(func() error {
			err := w.Run(gctx)
			if err == nil && cfg.MaxGames > 0 && played.Load() >= cfg.MaxGames {
				cancel()
			}
			return err
		})
	}
	return g.Wait()
}
