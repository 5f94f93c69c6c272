package selfplay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brensch/cchess/executor/mcts"
	"github.com/brensch/cchess/game"
	"github.com/brensch/cchess/rules"
	"github.com/brensch/cchess/store"
)

// ErrNoMove reports a search that produced no move in a live position.
var ErrNoMove = errors.New("search returned no move")

type Side int8

const (
	Red Side = iota
	Black
)

func (s Side) String() string {
	if s == Red {
		return "red"
	}
	return "black"
}

func (s Side) Other() Side { return 1 - s }

// Result is the game's outcome from red's perspective.
type Result int8

const (
	Draw     Result = 0
	RedWin   Result = 1
	BlackWin Result = -1
)

func (r Result) String() string {
	switch r {
	case RedWin:
		return "red"
	case BlackWin:
		return "black"
	}
	return "draw"
}

func winner(s Side) Result {
	if s == Red {
		return RedWin
	}
	return BlackWin
}

// repetitionLimit is how many plies in a row may repeat the move played
// four plies earlier before the game is drawn.
const repetitionLimit = 4

type GameOptions struct {
	Search mcts.Config
	// MaxGameLength draws the game after this many full moves.
	MaxGameLength int
	// EnableResignRate is the probability that a game allows resignation.
	EnableResignRate float64
	// Source and ModelPath are stamped on every training row.
	Source    string
	ModelPath string
	Verbose   bool
	// OnPly is called after every move.
	OnPly func()
}

// GameRecord is a finished game. Moves are in red's frame.
type GameRecord struct {
	ID     string
	Moves  []game.Move
	Result Result
	Reason string
	Rows   []store.TrainingRow
}

// PlayGame plays one self-play game. red and black search for their side;
// they may be the same searcher when the tree is shared.
func PlayGame(ctx context.Context, red, black *mcts.Searcher, rng *rand.Rand, opts GameOptions) (GameRecord, error) {
	rec := GameRecord{ID: uuid.NewString()}
	logger := zerolog.Ctx(ctx).With().Str("game", rec.ID).Logger()
	ctx = logger.WithContext(ctx)

	resign := rng.Float64() < opts.EnableResignRate
	searchers := [2]*mcts.Searcher{red, black}

	state := game.NewState()
	side := Red
	repeats := 0
	for ply := 0; ; ply++ {
		if err := ctx.Err(); err != nil {
			return rec, err
		}
		if opts.Verbose {
			logger.Debug().Int("ply", ply).Str("side", side.String()).Msg("\n" + PrintBoard(state, side))
		}

		if out := rules.IsTerminal(state); out.Done && out.Forcing.IsNull() {
			if out.Value > 0 {
				rec.Result = winner(side)
			} else {
				rec.Result = winner(side.Other())
			}
			rec.Reason = "king captured"
			break
		}

		d, err := searchers[side].SelectMove(ctx, state, ply, nil)
		if err != nil {
			return rec, fmt.Errorf("ply %d: %w", ply, err)
		}
		if d.Resign {
			if resign {
				rec.Result = winner(side.Other())
				rec.Reason = "resignation"
				break
			}
			// Resignation is off for this game: play the most visited move.
			d.Move = bestMove(d.Policy)
			d.Policy = normalise(d.Policy)
		}
		if d.Move.IsNull() {
			return rec, fmt.Errorf("ply %d: %w", ply, ErrNoMove)
		}

		idx, prob := store.SparsePolicy(d.Policy)
		rec.Rows = append(rec.Rows, store.TrainingRow{
			GameID:      rec.ID,
			Ply:         int32(ply),
			Mover:       side.String(),
			Placement:   state.String(),
			Move:        d.Move.String(),
			PolicyIndex: idx,
			PolicyProb:  prob,
			Source:      opts.Source,
			ModelPath:   opts.ModelPath,
		})

		played := d.Move
		if side == Black {
			played = game.FlipMove(played)
		}
		rec.Moves = append(rec.Moves, played)
		if n := len(rec.Moves); n > 6 && rec.Moves[n-1] == rec.Moves[n-5] {
			repeats++
		} else {
			repeats = 0
		}

		state = rules.Apply(state, d.Move)
		side = side.Other()
		if opts.OnPly != nil {
			opts.OnPly()
		}

		if (ply+1)/2 >= opts.MaxGameLength && opts.MaxGameLength > 0 {
			rec.Result, rec.Reason = Draw, "max length"
			break
		}
		if repeats >= repetitionLimit {
			rec.Result, rec.Reason = Draw, "repetition"
			break
		}
	}

	for i := range rec.Rows {
		v := float32(rec.Result)
		if rec.Rows[i].Mover == Black.String() {
			v = -v
		}
		rec.Rows[i].Value = v
	}
	logger.Info().
		Str("result", rec.Result.String()).
		Str("reason", rec.Reason).
		Int("plies", len(rec.Moves)).
		Msg("game finished")
	return rec, nil
}

// bestMove returns the label with the most visits.
func bestMove(counts []float32) game.Move {
	best := -1
	for i, c := range counts {
		if c > 0 && (best < 0 || c > counts[best]) {
			best = i
		}
	}
	if best < 0 {
		return game.NullMove
	}
	return game.Labels[best]
}

func normalise(counts []float32) []float32 {
	total := float32(0)
	for _, c := range counts {
		total += c
	}
	out := make([]float32, len(counts))
	if total == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = c / total
	}
	return out
}
