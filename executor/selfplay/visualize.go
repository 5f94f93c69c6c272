// visualize.go - Console rendering for debugging self-play games.
package selfplay

import (
	"fmt"
	"strings"

	"github.com/brensch/cchess/executor/convert"
	"github.com/brensch/cchess/game"
)

// PrintBoard renders s, given from side's perspective, with red at the
// bottom in upper case.
func PrintBoard(s game.State, side Side) string {
	if side == Black {
		s = s.Flip()
	}
	var sb strings.Builder
	for y := game.Height - 1; y >= 0; y-- {
		fmt.Fprintf(&sb, "%d ", y)
		for x := 0; x < game.Width; x++ {
			sb.WriteByte(byte(s.At(x, y)))
			sb.WriteByte(' ')
		}
		sb.WriteByte('\n')
		if y == 5 {
			sb.WriteString("  ~~~~~~~~~~~~~~~~~\n")
		}
	}
	sb.WriteString("  0 1 2 3 4 5 6 7 8\n")
	fmt.Fprintf(&sb, "%s to move\n", side)
	return sb.String()
}

var channelNames = [convert.Channels]string{
	"mover_pawn", "mover_cannon", "mover_rook", "mover_knight", "mover_bishop", "mover_advisor", "mover_king",
	"opp_pawn", "opp_cannon", "opp_rook", "opp_knight", "opp_bishop", "opp_advisor", "opp_king",
}

// PrintPlanes renders the oracle input for s, one block per non-empty
// channel, rows in tensor order.
func PrintPlanes(s game.State) string {
	planes := convert.ToPlanes(s)
	defer convert.PutPlanes(planes)
	data := *planes

	var sb strings.Builder
	for c := 0; c < convert.Channels; c++ {
		base := c * convert.Height * convert.Width
		block := data[base : base+convert.Height*convert.Width]
		empty := true
		for _, v := range block {
			if v != 0 {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		fmt.Fprintf(&sb, "Layer %d (%s):\n", c, channelNames[c])
		for r := 0; r < convert.Height; r++ {
			for x := 0; x < convert.Width; x++ {
				if block[r*convert.Width+x] == 0 {
					sb.WriteString(". ")
				} else {
					sb.WriteString("1 ")
				}
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
