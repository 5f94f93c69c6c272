package game

import (
	"fmt"
)

// Move is a from-to pair of square indices in the mover's frame.
type Move struct {
	From uint8
	To   uint8
}

// NullMove is returned when no move could be chosen.
var NullMove = Move{From: 0xFF, To: 0xFF}

func NewMove(x0, y0, x1, y1 int) Move {
	return Move{From: uint8(Index(x0, y0)), To: uint8(Index(x1, y1))}
}

func (m Move) IsNull() bool { return m == NullMove }

func (m Move) Coords() (x0, y0, x1, y1 int) {
	x0, y0 = Coords(int(m.From))
	x1, y1 = Coords(int(m.To))
	return
}

// String renders the move as four digits "x0y0x1y1".
func (m Move) String() string {
	if m.IsNull() {
		return "0000"
	}
	x0, y0, x1, y1 := m.Coords()
	return fmt.Sprintf("%d%d%d%d", x0, y0, x1, y1)
}

// ParseMove accepts the four digit form produced by String.
func ParseMove(s string) (Move, error) {
	if len(s) != 4 {
		return NullMove, fmt.Errorf("bad move %q", s)
	}
	var v [4]int
	for i := 0; i < 4; i++ {
		if s[i] < '0' || s[i] > '9' {
			return NullMove, fmt.Errorf("bad move %q", s)
		}
		v[i] = int(s[i] - '0')
	}
	if !OnBoard(v[0], v[1]) || !OnBoard(v[2], v[3]) {
		return NullMove, fmt.Errorf("bad move %q: off board", s)
	}
	return NewMove(v[0], v[1], v[2], v[3]), nil
}

// FlipMove maps a move into the rotated frame: (8-x, 9-y) for both ends.
func FlipMove(m Move) Move {
	if m.IsNull() {
		return m
	}
	return Move{From: uint8(Squares - 1 - int(m.From)), To: uint8(Squares - 1 - int(m.To))}
}
