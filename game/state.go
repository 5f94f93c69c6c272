// Package game defines the core board types for Chinese Chess (Xiangqi).
//
// A State is always expressed from the perspective of the side to move: its
// pieces are upper case and sit on ranks 0..4. After every move the board is
// rotated 180 degrees and the case of every piece is swapped, so the search
// tree can be shared by both colours.
package game

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Width   = 9
	Height  = 10
	Squares = Width * Height
)

// Piece is a single board square. Upper case belongs to the side to move.
type Piece byte

const (
	Empty   Piece = '.'
	King    Piece = 'K'
	Advisor Piece = 'A'
	Bishop  Piece = 'B'
	Knight  Piece = 'N'
	Rook    Piece = 'R'
	Cannon  Piece = 'C'
	Pawn    Piece = 'P'
)

// StartPlacement is the initial position, ranks listed from y=9 down to y=0.
const StartPlacement = "rnbakabnr/9/1c5c1/p1p1p1p1p/9/9/P1P1P1P1P/1C5C1/9/RNBAKABNR"

var ErrBadPlacement = errors.New("bad placement")

func (p Piece) IsEmpty() bool { return p == Empty || p == 0 }

// Own reports whether the piece belongs to the side to move.
func (p Piece) Own() bool { return p >= 'A' && p <= 'Z' }

// Opp reports whether the piece belongs to the opponent.
func (p Piece) Opp() bool { return p >= 'a' && p <= 'z' }

// Kind returns the upper case letter of the piece regardless of owner.
func (p Piece) Kind() Piece {
	if p.Opp() {
		return p - 'a' + 'A'
	}
	return p
}

func (p Piece) swapCase() Piece {
	switch {
	case p.Own():
		return p - 'A' + 'a'
	case p.Opp():
		return p - 'a' + 'A'
	}
	return p
}

// State is the board from the mover's perspective. Index is y*Width+x.
type State struct {
	Board [Squares]Piece
}

func Index(x, y int) int { return y*Width + x }

func Coords(sq int) (x, y int) { return sq % Width, sq / Width }

func OnBoard(x, y int) bool { return x >= 0 && x < Width && y >= 0 && y < Height }

// NewState returns the starting position with red to move.
func NewState() State {
	s, err := ParseState(StartPlacement)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *State) At(x, y int) Piece { return s.Board[Index(x, y)] }

// Clone returns a copy of the state. States are plain values; Clone exists so
// callers holding a pointer don't accidentally share the board.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// Flip rotates the board 180 degrees and swaps piece ownership.
func (s State) Flip() State {
	var out State
	for i, p := range s.Board {
		out.Board[Squares-1-i] = p.swapCase()
	}
	return out
}

// ParseState reads a FEN-style placement. Ranks are listed from y=9 down to
// y=0, upper case pieces belong to the side to move.
func ParseState(placement string) (State, error) {
	var s State
	for i := range s.Board {
		s.Board[i] = Empty
	}
	if f := strings.Fields(placement); len(f) > 0 {
		placement = f[0]
	}
	ranks := strings.Split(placement, "/")
	if len(ranks) != Height {
		return s, fmt.Errorf("%w: %d ranks", ErrBadPlacement, len(ranks))
	}
	for r, rank := range ranks {
		y := Height - 1 - r
		x := 0
		for _, ch := range rank {
			switch {
			case ch >= '1' && ch <= '9':
				x += int(ch - '0')
			case strings.ContainsRune("KABNRCPkabnrcp", ch):
				if x >= Width {
					return s, fmt.Errorf("%w: rank %d overflows", ErrBadPlacement, y)
				}
				s.Board[Index(x, y)] = Piece(ch)
				x++
			default:
				return s, fmt.Errorf("%w: unexpected %q", ErrBadPlacement, ch)
			}
		}
		if x != Width {
			return s, fmt.Errorf("%w: rank %d has %d files", ErrBadPlacement, y, x)
		}
	}
	return s, nil
}

func (s State) String() string {
	var sb strings.Builder
	for y := Height - 1; y >= 0; y-- {
		gap := 0
		for x := 0; x < Width; x++ {
			p := s.At(x, y)
			if p.IsEmpty() {
				gap++
				continue
			}
			if gap > 0 {
				sb.WriteByte(byte('0' + gap))
				gap = 0
			}
			sb.WriteByte(byte(p))
		}
		if gap > 0 {
			sb.WriteByte(byte('0' + gap))
		}
		if y > 0 {
			sb.WriteByte('/')
		}
	}
	return sb.String()
}

// Find returns the square of the first piece equal to p, or -1.
func (s *State) Find(p Piece) int {
	for i, q := range s.Board {
		if q == p {
			return i
		}
	}
	return -1
}
