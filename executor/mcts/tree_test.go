package mcts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brensch/cchess/game"
	"github.com/brensch/cchess/rules"
)

func TestTree_AcquireCreatesOnce(t *testing.T) {
	tree := NewTree(4)
	s := game.NewState()
	legal := rules.LegalMoves(s)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, unlock, ok := tree.acquire(s.Key(), 0, legal)
			if !ok {
				t.Error("stale generation")
				return
			}
			unlock()
			if c {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 || tree.Len() != 1 {
		t.Fatalf("created=%d len=%d", created, tree.Len())
	}
	v, ok := tree.Snapshot(s.Key())
	if !ok || !v.Pending || len(v.Edges) != len(legal) {
		t.Fatalf("snapshot=%+v ok=%v", v, ok)
	}
}

func TestTree_ResetInvalidatesGeneration(t *testing.T) {
	tree := NewTree(0)
	s := game.NewState()
	gen := tree.Generation()
	if _, _, unlock, ok := tree.acquire(s.Key(), gen, nil); ok {
		unlock()
	}
	tree.Reset()
	if tree.Len() != 0 {
		t.Fatalf("len=%d after reset", tree.Len())
	}
	if _, _, _, ok := tree.acquire(s.Key(), gen, nil); ok {
		t.Fatalf("acquire succeeded with a stale generation")
	}
	if _, _, ok := tree.lookup(s.Key(), gen); ok {
		t.Fatalf("lookup succeeded with a stale generation")
	}
	if _, ok := tree.Snapshot(s.Key()); ok {
		t.Fatalf("node survived reset")
	}
}

func TestNode_SeedPriorsRenormalises(t *testing.T) {
	s := game.NewState()
	legal := rules.LegalMoves(s)
	n := newNode(legal)

	prior := make([]float32, game.NumActions)
	a, _ := game.LabelIndex(legal[0])
	b, _ := game.LabelIndex(legal[1])
	prior[a], prior[b] = 0.2, 0.6
	// Mass on an illegal label is dropped.
	prior[0] = 5
	n.prior = prior
	n.seedPriors()

	if got := n.Edges[legal[0]].P; got < 0.2499 || got > 0.2501 {
		t.Fatalf("P(a)=%v want 0.25", got)
	}
	if got := n.Edges[legal[1]].P; got < 0.7499 || got > 0.7501 {
		t.Fatalf("P(b)=%v want 0.75", got)
	}
	if n.prior != nil {
		t.Fatalf("prior kept after seeding")
	}
}

func TestNode_SeedPriorsUniformFallback(t *testing.T) {
	legal := rules.LegalMoves(game.NewState())
	n := newNode(legal)
	n.prior = make([]float32, game.NumActions)
	n.seedPriors()
	want := 1 / float32(len(legal))
	for _, m := range legal {
		if n.Edges[m].P != want {
			t.Fatalf("P(%v)=%v want %v", m, n.Edges[m].P, want)
		}
	}
}

func TestNodeView_BestPrefersEarlierOnTies(t *testing.T) {
	v := NodeView{Edges: []EdgeView{
		{Move: game.NewMove(0, 0, 0, 1), ActionStat: ActionStat{N: 3}},
		{Move: game.NewMove(1, 0, 2, 2), ActionStat: ActionStat{N: 5}},
		{Move: game.NewMove(7, 0, 6, 2), ActionStat: ActionStat{N: 5}},
	}}
	best, ok := v.Best()
	if !ok || best.Move != v.Edges[1].Move {
		t.Fatalf("best=%v ok=%v", best.Move, ok)
	}
	if _, ok := (NodeView{Edges: []EdgeView{{}}}).Best(); ok {
		t.Fatalf("unvisited node reported a best edge")
	}
}

func TestNodeView_Settled(t *testing.T) {
	a := game.NewMove(0, 0, 0, 1)
	b := game.NewMove(1, 0, 2, 2)
	// a: two completed visits worth +1 each, one simulation in flight with
	// virtual loss 3. b: only in flight.
	v := NodeView{SumN: 2 + 3 + 3, Edges: []EdgeView{
		{Move: a, ActionStat: ActionStat{N: 2 + 3, W: 2 - 3, InFlight: 1}},
		{Move: b, ActionStat: ActionStat{N: 3, W: -3, InFlight: 1}},
	}}
	for i := range v.Edges {
		v.Edges[i].recompute()
	}

	got := v.Settled(3)
	if got.SumN != 2 {
		t.Fatalf("SumN=%d want 2", got.SumN)
	}
	if e := got.Edges[0]; e.N != 2 || e.Q != 1 || e.InFlight != 0 {
		t.Fatalf("a settled to %+v", e.ActionStat)
	}
	if e := got.Edges[1]; e.N != 0 || e.Q != 0 {
		t.Fatalf("b settled to %+v", e.ActionStat)
	}
	if best, ok := got.Best(); !ok || best.Move != a {
		t.Fatalf("best=%v ok=%v", best.Move, ok)
	}
	// The original view is untouched.
	if v.Edges[1].N != 3 {
		t.Fatalf("Settled mutated its receiver")
	}
}

func TestLatch(t *testing.T) {
	l := newLatch(3)
	for i := 0; i < 3; i++ {
		select {
		case <-l.done:
			t.Fatalf("released after %d", i)
		default:
		}
		l.countDown()
	}
	if err := l.wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if err := newLatch(0).wait(context.Background()); err != nil {
		t.Fatalf("empty latch: %v", err)
	}

	boom := errors.New("boom")
	l = newLatch(2)
	l.abort(boom)
	l.countDown()
	l.countDown()
	if err := l.wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("aborted latch err=%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := newLatch(1).wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait err=%v", err)
	}
}

func TestPath_ExtendCopies(t *testing.T) {
	s := game.NewState()
	legal := rules.LegalMoves(s)
	base := NewPath(s)
	a := base.Extend(legal[0], rules.Apply(s, legal[0]))
	b := base.Extend(legal[1], rules.Apply(s, legal[1]))
	if a.Move(0) != legal[0] || b.Move(0) != legal[1] {
		t.Fatalf("branches share storage: %v %v", a.Move(0), b.Move(0))
	}
	if base.Len() != 1 || a.Len() != 2 {
		t.Fatalf("len base=%d a=%d", base.Len(), a.Len())
	}
	if _, ok := a.RepeatsTip(); ok {
		t.Fatalf("fresh path reports a repeat")
	}
}

func TestQueue_FIFOAndClose(t *testing.T) {
	q := newJobQueue()
	for i := 0; i < 3; i++ {
		q.push(job{value: float32(i)})
	}
	for i := 0; i < 3; i++ {
		j, ok := q.pop()
		if !ok || j.value != float32(i) {
			t.Fatalf("pop %d = %v,%v", i, j.value, ok)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := q.pop(); ok {
			t.Error("pop returned a job from a closed queue")
		}
	}()
	time.Sleep(5 * time.Millisecond)
	q.close()
	<-done
	if q.push(job{}) {
		t.Fatalf("push accepted after close")
	}
}

func shuttlePath(t *testing.T, placement string, moves ...game.Move) Path {
	t.Helper()
	s, err := game.ParseState(placement)
	if err != nil {
		t.Fatal(err)
	}
	p := NewPath(s)
	for _, m := range moves {
		p = p.Extend(m, rules.Apply(p.Tip(), m))
	}
	return p
}

func TestCheckLoop(t *testing.T) {
	// The mover's rook chases the king between ranks 9 and 8.
	p := shuttlePath(t, "4k4/R8/9/9/9/9/9/9/9/3K5",
		game.NewMove(0, 8, 0, 9),
		game.FlipMove(game.NewMove(4, 9, 4, 8)),
		game.NewMove(0, 9, 0, 8),
		game.FlipMove(game.NewMove(4, 8, 4, 9)),
	)
	first, ok := p.RepeatsTip()
	if !ok || first != 0 {
		t.Fatalf("RepeatsTip=%d,%v", first, ok)
	}
	if v := (CheckLoop{}).Value(p, first); v != -1 {
		t.Fatalf("perpetual checker to move scored %v, want -1", v)
	}
	if v := (ZeroLoop{}).Value(p, first); v != 0 {
		t.Fatalf("zero loop scored %v", v)
	}

	// One more ply puts the checked side to move.
	p = p.Extend(game.NewMove(0, 8, 0, 9), rules.Apply(p.Tip(), game.NewMove(0, 8, 0, 9)))
	first, ok = p.RepeatsTip()
	if !ok || first != 1 {
		t.Fatalf("RepeatsTip=%d,%v", first, ok)
	}
	if v := (CheckLoop{}).Value(p, first); v != 1 {
		t.Fatalf("perpetually checked side to move scored %v, want 1", v)
	}

	quiet := shuttlePath(t, game.StartPlacement,
		game.NewMove(1, 0, 2, 2),
		game.FlipMove(game.NewMove(1, 9, 2, 7)),
		game.NewMove(2, 2, 1, 0),
		game.FlipMove(game.NewMove(2, 7, 1, 9)),
	)
	first, _ = quiet.RepeatsTip()
	if v := (CheckLoop{}).Value(quiet, first); v != 0 {
		t.Fatalf("quiet repetition scored %v", v)
	}
}

func TestParseLoopPolicy(t *testing.T) {
	for name, want := range map[string]LoopPolicy{"": ZeroLoop{}, "zero": ZeroLoop{}, "check": CheckLoop{}} {
		got, err := ParseLoopPolicy(name)
		if err != nil || got != want {
			t.Fatalf("%q -> %v, %v", name, got, err)
		}
	}
	if _, err := ParseLoopPolicy("draw"); err == nil {
		t.Fatalf("unknown policy accepted")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Width = 0
	cfg.CPuct = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("bad config accepted")
	}
}
