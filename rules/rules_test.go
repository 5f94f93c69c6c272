package rules

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/brensch/cchess/game"
)

func dumpState(s game.State) string {
	var b strings.Builder
	for y := game.Height - 1; y >= 0; y-- {
		fmt.Fprintf(&b, "%d ", y)
		for x := 0; x < game.Width; x++ {
			b.WriteByte(byte(s.At(x, y)))
		}
		b.WriteByte('\n')
	}
	b.WriteString("  012345678\n")
	return b.String()
}

func mustParse(t *testing.T, placement string) game.State {
	t.Helper()
	s, err := game.ParseState(placement)
	if err != nil {
		t.Fatalf("parse %q: %v", placement, err)
	}
	return s
}

func movesFrom(moves []game.Move, x, y int) []string {
	var out []string
	for _, m := range moves {
		if int(m.From) == game.Index(x, y) {
			out = append(out, m.String())
		}
	}
	sort.Strings(out)
	return out
}

func hasMove(moves []game.Move, s string) bool {
	for _, m := range moves {
		if m.String() == s {
			return true
		}
	}
	return false
}

func TestLegalMoves_StartPosition(t *testing.T) {
	s := game.NewState()
	moves := LegalMoves(s)
	if len(moves) != 44 {
		t.Fatalf("start moves=%d want 44\n%s%v", len(moves), dumpState(s), moves)
	}
	for _, m := range moves {
		if _, ok := game.LabelIndex(m); !ok {
			t.Fatalf("move %s has no label", m)
		}
	}
	// Cannon at (1,2) can capture the knight at (1,9) over the cannon screen at (1,7).
	if !hasMove(moves, "1219") {
		t.Fatalf("missing cannon capture 1219")
	}
	if hasMove(moves, "1217") {
		t.Fatalf("cannon must not capture without a screen")
	}
}

func TestLegalMoves_Deterministic(t *testing.T) {
	s := game.NewState()
	a := LegalMoves(s)
	b := LegalMoves(s)
	if len(a) != len(b) {
		t.Fatalf("len mismatch")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("order differs at %d: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestLegalMoves_KnightLeg(t *testing.T) {
	// Knight at (4,4) with a blocker directly above it.
	s := mustParse(t, "3k5/9/9/9/4P4/4N4/9/9/9/4K4")
	got := movesFrom(LegalMoves(s), 4, 4)
	for _, m := range got {
		if m == "4436" || m == "4456" {
			t.Fatalf("knight jumped over its leg: %v\n%s", got, dumpState(s))
		}
	}
	if len(got) != 6 {
		t.Fatalf("knight moves=%v want 6", got)
	}
}

func TestLegalMoves_ElephantRiverAndEye(t *testing.T) {
	s := mustParse(t, "3k5/9/9/9/9/9/9/9/3P5/2B1K4")
	got := movesFrom(LegalMoves(s), 2, 0)
	want := []string{"2002"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("elephant moves=%v want %v\n%s", got, want, dumpState(s))
	}

	s = mustParse(t, "3k5/9/9/9/9/2B6/9/9/9/4K4")
	got = movesFrom(LegalMoves(s), 2, 4)
	for _, m := range got {
		if m[3] > '4' {
			t.Fatalf("elephant crossed the river: %v", got)
		}
	}
	if len(got) != 2 {
		t.Fatalf("elephant moves=%v want 2", got)
	}
}

func TestLegalMoves_PawnSideways(t *testing.T) {
	s := mustParse(t, "3k5/9/9/9/9/4P4/9/9/9/4K4")
	if got := movesFrom(LegalMoves(s), 4, 4); len(got) != 1 {
		t.Fatalf("pawn before river moves=%v want 1", got)
	}
	s = mustParse(t, "3k5/9/9/9/4P4/9/9/9/9/4K4")
	if got := movesFrom(LegalMoves(s), 4, 5); len(got) != 3 {
		t.Fatalf("pawn after river moves=%v want 3", got)
	}
}

func TestLegalMoves_PalaceAndFlyingGeneral(t *testing.T) {
	s := mustParse(t, "4k4/9/9/9/9/9/9/9/9/3K5")
	got := movesFrom(LegalMoves(s), 3, 0)
	want := []string{"3031", "3040"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("king moves=%v want %v", got, want)
	}

	s = mustParse(t, "4k4/9/9/9/9/9/9/9/9/4K4")
	if !hasMove(LegalMoves(s), "4049") {
		t.Fatalf("flying general capture not generated")
	}
}

func TestApply_Flips(t *testing.T) {
	s := game.NewState()
	m, _ := game.ParseMove("1242")
	next := Apply(s, m)
	// The moved cannon belongs to the opponent now and sits at (8-4, 9-2).
	if next.At(4, 7) != 'c' {
		t.Fatalf("moved cannon missing\n%s", dumpState(next))
	}
	if next.At(7, 7) != game.Empty {
		t.Fatalf("origin not cleared\n%s", dumpState(next))
	}
	if s.At(1, 2) != game.Cannon {
		t.Fatalf("Apply mutated its input")
	}
}

func TestIsTerminal(t *testing.T) {
	cases := []struct {
		name      string
		placement string
		done      bool
		value     float32
		forcing   string
	}{
		{"start", game.StartPlacement, false, 0, ""},
		{"own king missing", "4k4/9/9/9/9/9/9/9/9/4R4", true, -1, ""},
		{"opponent king missing", "9/9/9/9/9/9/9/9/9/4K4", true, 1, ""},
		{"kings facing", "4k4/9/9/9/9/9/9/9/9/4K4", true, 1, "4049"},
		{"rook takes king", "3k5/9/9/9/9/9/9/9/9/3RK4", true, 1, "3039"},
		{"blocked file", "4k4/9/9/9/4p4/9/9/9/9/4K4", false, 0, ""},
	}
	for _, tc := range cases {
		s := mustParse(t, tc.placement)
		out := IsTerminal(s)
		if out.Done != tc.done || out.Value != tc.value {
			t.Fatalf("%s: got %+v want done=%v value=%v\n%s", tc.name, out, tc.done, tc.value, dumpState(s))
		}
		if tc.forcing != "" && out.Forcing.String() != tc.forcing {
			t.Fatalf("%s: forcing=%s want %s", tc.name, out.Forcing, tc.forcing)
		}
		if tc.forcing == "" && !out.Forcing.IsNull() {
			t.Fatalf("%s: unexpected forcing move %s", tc.name, out.Forcing)
		}
	}
}

func TestInCheck(t *testing.T) {
	// Opponent rook on the king's file.
	s := mustParse(t, "3k5/9/9/9/4r4/9/9/9/9/4K4")
	if !InCheck(s) {
		t.Fatalf("expected check\n%s", dumpState(s))
	}
	s = mustParse(t, "3k5/9/9/9/3r5/9/9/9/9/4K4")
	if InCheck(s) {
		t.Fatalf("unexpected check\n%s", dumpState(s))
	}
	if InCheck(game.NewState()) {
		t.Fatalf("start position is not check")
	}
}
