package mcts

import (
	"github.com/brensch/cchess/game"
)

// Path is a simulation's route from the search root: states[0] is the root
// and moves[i] leads from states[i] to states[i+1]. A Path is never mutated
// after construction; Extend copies, so concurrent tasks never share the
// backing arrays.
type Path struct {
	states []game.State
	keys   []game.Key
	moves  []game.Move
}

func NewPath(root game.State) Path {
	return Path{
		states: []game.State{root},
		keys:   []game.Key{root.Key()},
	}
}

// Extend returns a new path with m played from the tip, arriving at next.
func (p Path) Extend(m game.Move, next game.State) Path {
	n := len(p.states)
	out := Path{
		states: make([]game.State, n+1),
		keys:   make([]game.Key, n+1),
		moves:  make([]game.Move, n),
	}
	copy(out.states, p.states)
	copy(out.keys, p.keys)
	copy(out.moves, p.moves)
	out.states[n] = next
	out.keys[n] = next.Key()
	out.moves[n-1] = m
	return out
}

// Len is the number of states on the path.
func (p Path) Len() int { return len(p.states) }

func (p Path) Tip() game.State { return p.states[len(p.states)-1] }

func (p Path) TipKey() game.Key { return p.keys[len(p.keys)-1] }

func (p Path) State(i int) game.State { return p.states[i] }

func (p Path) Key(i int) game.Key { return p.keys[i] }

// Move returns the move played from State(i).
func (p Path) Move(i int) game.Move { return p.moves[i] }

// RepeatsTip returns the index of the latest earlier occurrence of the tip
// state.
func (p Path) RepeatsTip() (int, bool) {
	tip := p.TipKey()
	for i := len(p.keys) - 2; i >= 0; i-- {
		if p.keys[i] == tip {
			return i, true
		}
	}
	return -1, false
}
