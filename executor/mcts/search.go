package mcts

import (
	"fmt"
	"math"

	"github.com/brensch/cchess/executor/convert"
	"github.com/brensch/cchess/executor/inference"
	"github.com/brensch/cchess/game"
	"github.com/brensch/cchess/rules"
)

// fastWinQ short-circuits selection onto an edge that is already a
// near-certain win.
const fastWinQ = 1 - 1e-7

type step uint8

const (
	stepDescend step = iota
	stepExpand
	stepPark
	stepNoMove
	stepStale
)

// runSelect drives one simulation down the tree until it backs up, parks on
// a pending node or hands its leaf to the oracle. It never blocks.
func (s *Searcher) runSelect(c continuation) {
	p := c.path
	for {
		tip := p.Tip()
		out, legal := rules.Analyze(tip)
		if out.Done {
			s.backup(c, p, out.Value)
			return
		}
		if first, ok := p.RepeatsTip(); ok {
			s.backup(c, p, s.cfg.Loop.Value(p, first))
			return
		}

		root := s.rootFor(p)
		here := continuation{path: p, latch: c.latch, gen: c.gen}
		next, m := s.visit(here, legal, root)
		switch next {
		case stepExpand:
			s.expand(here)
			return
		case stepPark:
			return
		case stepStale:
			c.latch.countDown()
			return
		case stepNoMove:
			if root != nil {
				s.log().Error().Str("state", tip.String()).Msg("no legal move selectable")
				c.latch.countDown()
				return
			}
			// No pseudo-legal move at all: the side to move has lost.
			s.backup(c, p, -1)
			return
		}
		p = p.Extend(m, rules.Apply(tip, m))
	}
}

// visit performs the locked part of one selection step at the tip of c.
func (s *Searcher) visit(c continuation, legal []game.Move, root *rootInfo) (step, game.Move) {
	node, created, unlock, ok := s.tree.acquire(c.path.TipKey(), c.gen, legal)
	if !ok {
		return stepStale, game.NullMove
	}
	defer unlock()

	if created {
		return stepExpand, game.NullMove
	}
	if node.Pending {
		node.waiters = append(node.waiters, c)
		return stepPark, game.NullMove
	}
	m, ok := s.choose(node, root)
	if !ok {
		return stepNoMove, game.NullMove
	}

	// Virtual loss keeps concurrent simulations off this edge until the
	// real result lands.
	e := node.Edges[m]
	L := s.cfg.VirtualLoss
	node.SumN += L
	e.N += L
	e.W -= float32(L)
	e.InFlight++
	e.recompute()
	return stepDescend, m
}

// expand sends the tip of c to the oracle. The reply resumes c as a backup.
func (s *Searcher) expand(c continuation) {
	planes := convert.ToPlanes(c.path.Tip())
	err := s.eval.Enqueue(*planes, func(pred inference.Prediction, err error) {
		convert.PutPlanes(planes)
		if err != nil {
			s.fail(fmt.Errorf("oracle: %w", err), c.latch)
			return
		}
		s.queue.push(job{kind: jobBackup, continuation: c, value: pred.Value, pred: &pred})
	})
	if err != nil {
		convert.PutPlanes(planes)
		s.fail(fmt.Errorf("enqueue leaf: %w", err), c.latch)
	}
}

// choose picks the edge to descend. Called with node's stripe held.
func (s *Searcher) choose(node *Node, root *rootInfo) (game.Move, bool) {
	candidates := node.Legal
	if root != nil && len(root.forbidden) > 0 {
		candidates = make([]game.Move, 0, len(node.Legal))
		for _, m := range node.Legal {
			if !root.forbidden[m] {
				candidates = append(candidates, m)
			}
		}
	}
	if len(candidates) == 0 {
		return game.NullMove, false
	}

	for _, m := range candidates {
		if node.Edges[m].Q > fastWinQ {
			return m, true
		}
	}

	var noise []float64
	eps := s.cfg.NoiseEps
	if root != nil && eps > 0 && len(candidates) > 1 {
		noise = s.dirichlet(len(candidates))
	}

	sqrtN := float32(math.Sqrt(float64(node.SumN + 1)))
	best := game.NullMove
	bestScore := float32(math.Inf(-1))
	for i, m := range candidates {
		e := node.Edges[m]
		p := e.P
		if noise != nil {
			p = (1-eps)*p + eps*float32(noise[i])
		}
		score := e.Q + s.cfg.CPuct*p*sqrtN/float32(1+e.N)
		if score > bestScore {
			bestScore = score
			best = m
		}
	}
	return best, !best.IsNull()
}

// runBackup stores an oracle answer if the job carries one, wakes the
// simulations parked on that node and backs the value up the path.
func (s *Searcher) runBackup(j job) {
	if j.pred != nil {
		for _, w := range s.store(j.path.TipKey(), j.gen, j.pred) {
			s.queue.push(job{kind: jobSelect, continuation: w})
		}
	}
	s.backup(j.continuation, j.path, j.value)
}

// store seeds the node's priors from pred and marks it ready. It returns the
// parked continuations.
func (s *Searcher) store(k game.Key, gen uint64, pred *inference.Prediction) []continuation {
	node, unlock, ok := s.tree.lookup(k, gen)
	if !ok {
		return nil
	}
	defer unlock()
	if !node.Pending {
		return nil
	}
	node.prior = pred.Policy
	node.seedPriors()
	node.Pending = false
	waiters := node.waiters
	node.waiters = nil
	return waiters
}

// backup applies value v, given from the tip mover's perspective, to every
// edge of the path with alternating sign, reversing the virtual loss taken
// on the way down.
func (s *Searcher) backup(c continuation, p Path, v float32) {
	for i := p.Len() - 2; i >= 0; i-- {
		v = -v
		if !s.update(p.Key(i), c.gen, p.Move(i), v) {
			// The tree was reset under a stale simulation.
			break
		}
	}
	c.latch.countDown()
}

func (s *Searcher) update(k game.Key, gen uint64, m game.Move, v float32) bool {
	node, unlock, ok := s.tree.lookup(k, gen)
	if !ok {
		return false
	}
	defer unlock()

	L := s.cfg.VirtualLoss
	if e, ok := node.Edges[m]; ok {
		e.N += 1 - L
		e.W += v + float32(L)
		e.InFlight--
		e.recompute()
		node.SumN += 1 - L
	}
	return true
}

func (s *Searcher) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("search job panic: %v", r)
			s.log().Error().Err(err).Msg("search worker recovered")
			s.fail(err, j.latch)
		}
	}()
	switch j.kind {
	case jobSelect:
		s.runSelect(j.continuation)
	case jobBackup:
		s.runBackup(j)
	}
}

func (s *Searcher) worker() error {
	for {
		j, ok := s.queue.pop()
		if !ok {
			return nil
		}
		s.run(j)
	}
}
