// Package rules implements Xiangqi move generation and terminal detection.
//
// Every function works on a game.State from the mover's perspective and is
// safe to call concurrently: nothing here holds shared mutable state.
package rules

import (
	"github.com/brensch/cchess/game"
)

type dir struct{ dx, dy int }

var (
	kingDirs    = []dir{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}
	advisorDirs = []dir{{-1, -1}, {1, -1}, {-1, 1}, {1, 1}}
	bishopDirs  = []dir{{-2, -2}, {2, -2}, {2, 2}, {-2, 2}}
	knightDirs  = []dir{{-1, -2}, {1, -2}, {2, -1}, {2, 1}, {1, 2}, {-1, 2}, {-2, 1}, {-2, -1}}
	pawnDirs    = []dir{{0, 1}, {-1, 0}, {1, 0}}
)

// Outcome describes a finished position from the mover's perspective.
type Outcome struct {
	Done    bool
	Value   float32
	Forcing game.Move
}

// canLand reports whether the side to move may put a piece on (x, y).
func canLand(s *game.State, x, y int) bool {
	if !game.OnBoard(x, y) {
		return false
	}
	return !s.At(x, y).Own()
}

func inPalace(x, y int) bool { return x >= 3 && x <= 5 && y >= 0 && y <= 2 }

// LegalMoves returns the pseudo-legal moves of the side to move, square by
// square from (0,0). Moves that leave the own king attacked are included;
// the opponent answers them by capturing the king.
func LegalMoves(s game.State) []game.Move {
	moves := make([]game.Move, 0, 64)
	for sq := 0; sq < game.Squares; sq++ {
		p := s.Board[sq]
		if !p.Own() {
			continue
		}
		x, y := game.Coords(sq)
		switch p {
		case game.King:
			for _, d := range kingDirs {
				x1, y1 := x+d.dx, y+d.dy
				if canLand(&s, x1, y1) && inPalace(x1, y1) {
					moves = append(moves, game.NewMove(x, y, x1, y1))
				}
			}
			if u := scanUp(&s, x, y); u < game.Height && s.At(x, u) == 'k' {
				moves = append(moves, game.NewMove(x, y, x, u))
			}
		case game.Advisor:
			for _, d := range advisorDirs {
				x1, y1 := x+d.dx, y+d.dy
				if canLand(&s, x1, y1) && inPalace(x1, y1) {
					moves = append(moves, game.NewMove(x, y, x1, y1))
				}
			}
		case game.Bishop:
			for _, d := range bishopDirs {
				x1, y1 := x+d.dx, y+d.dy
				if !canLand(&s, x1, y1) || y1 > 4 {
					continue
				}
				if !s.At(x+d.dx/2, y+d.dy/2).IsEmpty() {
					continue
				}
				moves = append(moves, game.NewMove(x, y, x1, y1))
			}
		case game.Knight:
			for _, d := range knightDirs {
				x1, y1 := x+d.dx, y+d.dy
				if !canLand(&s, x1, y1) {
					continue
				}
				if !s.At(x+d.dx/2, y+d.dy/2).IsEmpty() {
					continue
				}
				moves = append(moves, game.NewMove(x, y, x1, y1))
			}
		case game.Pawn:
			for _, d := range pawnDirs {
				x1, y1 := x+d.dx, y+d.dy
				if !canLand(&s, x1, y1) {
					continue
				}
				if d.dx != 0 && y < 5 {
					continue
				}
				moves = append(moves, game.NewMove(x, y, x1, y1))
			}
		case game.Rook, game.Cannon:
			moves = appendSliding(moves, &s, x, y, p == game.Cannon)
		}
	}
	return moves
}

func appendSliding(moves []game.Move, s *game.State, x, y int, cannon bool) []game.Move {
	l, r := scanLeft(s, x, y), scanRight(s, x, y)
	d, u := scanDown(s, x, y), scanUp(s, x, y)
	for x1 := l + 1; x1 < x; x1++ {
		moves = append(moves, game.NewMove(x, y, x1, y))
	}
	for x1 := x + 1; x1 < r; x1++ {
		moves = append(moves, game.NewMove(x, y, x1, y))
	}
	for y1 := d + 1; y1 < y; y1++ {
		moves = append(moves, game.NewMove(x, y, x, y1))
	}
	for y1 := y + 1; y1 < u; y1++ {
		moves = append(moves, game.NewMove(x, y, x, y1))
	}
	if cannon {
		// The first blocker in each direction is the screen.
		if l >= 0 {
			l = scanLeft(s, l, y)
		}
		if r < game.Width {
			r = scanRight(s, r, y)
		}
		if d >= 0 {
			d = scanDown(s, x, d)
		}
		if u < game.Height {
			u = scanUp(s, x, u)
		}
		for _, t := range [][2]int{{l, y}, {r, y}, {x, d}, {x, u}} {
			if game.OnBoard(t[0], t[1]) && s.At(t[0], t[1]).Opp() {
				moves = append(moves, game.NewMove(x, y, t[0], t[1]))
			}
		}
		return moves
	}
	for _, t := range [][2]int{{l, y}, {r, y}, {x, d}, {x, u}} {
		if canLand(s, t[0], t[1]) {
			moves = append(moves, game.NewMove(x, y, t[0], t[1]))
		}
	}
	return moves
}

// scan* return the coordinate of the first occupied square in a direction,
// or the off-board coordinate when the line is clear.
func scanLeft(s *game.State, x, y int) int {
	for x--; x >= 0 && s.At(x, y).IsEmpty(); x-- {
	}
	return x
}

func scanRight(s *game.State, x, y int) int {
	for x++; x < game.Width && s.At(x, y).IsEmpty(); x++ {
	}
	return x
}

func scanDown(s *game.State, x, y int) int {
	for y--; y >= 0 && s.At(x, y).IsEmpty(); y-- {
	}
	return y
}

func scanUp(s *game.State, x, y int) int {
	for y++; y < game.Height && s.At(x, y).IsEmpty(); y++ {
	}
	return y
}

// Apply plays m and returns the resulting state from the opponent's
// perspective. The move is not validated.
func Apply(s game.State, m game.Move) game.State {
	s.Board[m.To] = s.Board[m.From]
	s.Board[m.From] = game.Empty
	return s.Flip()
}

// IsTerminal evaluates s for the side to move. A position where the mover
// can capture the opposing king counts as already won, with Forcing set to
// the capturing move.
func IsTerminal(s game.State) Outcome {
	out, _ := Analyze(s)
	return out
}

// Analyze is IsTerminal that also returns the legal moves it generated. The
// moves are nil when a king is already missing.
func Analyze(s game.State) (Outcome, []game.Move) {
	own := s.Find(game.King)
	opp := s.Find('k')
	if opp < 0 {
		return Outcome{Done: true, Value: 1, Forcing: game.NullMove}, nil
	}
	if own < 0 {
		return Outcome{Done: true, Value: -1, Forcing: game.NullMove}, nil
	}
	moves := LegalMoves(s)
	for _, m := range moves {
		if int(m.To) == opp {
			return Outcome{Done: true, Value: 1, Forcing: m}, moves
		}
	}
	return Outcome{Forcing: game.NullMove}, moves
}

// InCheck reports whether the opponent could capture the mover's king if it
// were their turn. Facing kings count as check.
func InCheck(s game.State) bool {
	own := s.Find(game.King)
	if own < 0 {
		return false
	}
	target := game.Squares - 1 - own
	for _, m := range LegalMoves(s.Flip()) {
		if int(m.To) == target {
			return true
		}
	}
	return false
}
