package mcts

import (
	"fmt"

	"github.com/brensch/cchess/rules"
)

// LoopPolicy scores a path whose tip repeats the state at index first.
// The value is from the perspective of the side to move at the tip.
type LoopPolicy interface {
	Value(p Path, first int) float32
}

// ZeroLoop scores every repetition as 0.
type ZeroLoop struct{}

func (ZeroLoop) Value(Path, int) float32 { return 0 }

// CheckLoop punishes perpetual check: when every position of the cycle in
// which one side was to move had that side in check, the checking side
// loses. Other repetitions score 0.
type CheckLoop struct{}

func (CheckLoop) Value(p Path, first int) float32 {
	tip := p.Len() - 1
	if tip-first < 2 {
		return 0
	}
	// Positions tip, tip-2, ... have the tip's mover to move; the others
	// have the opponent to move.
	moverChecked, oppChecked := true, true
	for i := tip; i > first; i-- {
		inCheck := rules.InCheck(p.State(i))
		if (tip-i)%2 == 0 {
			moverChecked = moverChecked && inCheck
		} else {
			oppChecked = oppChecked && inCheck
		}
	}
	switch {
	case moverChecked && !oppChecked:
		return 1
	case oppChecked && !moverChecked:
		return -1
	}
	return 0
}

// ParseLoopPolicy maps a config name to a policy: "zero" or "check".
func ParseLoopPolicy(name string) (LoopPolicy, error) {
	switch name {
	case "", "zero":
		return ZeroLoop{}, nil
	case "check":
		return CheckLoop{}, nil
	}
	return nil, fmt.Errorf("unknown loop policy %q", name)
}
