package mcts

import (
	"github.com/brensch/cchess/game"
)

// ActionStat holds the statistics of one edge. Q is kept equal to W/N after
// every mutation.
type ActionStat struct {
	N int
	W float32
	Q float32
	P float32
	// InFlight counts simulations that took virtual loss on this edge and
	// have not backed up yet.
	InFlight int
}

func (a *ActionStat) recompute() {
	if a.N != 0 {
		a.Q = a.W / float32(a.N)
	} else {
		a.Q = 0
	}
}

// Node is the per-state record of the shared tree. Every field is guarded
// by the tree stripe that owns the node's key.
type Node struct {
	// SumN counts visits routed through the node, outstanding virtual loss
	// included.
	SumN  int
	Edges map[game.Move]*ActionStat
	Legal []game.Move

	// Pending is true from creation until the oracle's answer is stored.
	Pending bool

	prior   []float32
	waiters []continuation
}

func newNode(legal []game.Move) *Node {
	n := &Node{
		Legal:   legal,
		Edges:   make(map[game.Move]*ActionStat, len(legal)),
		Pending: true,
	}
	for _, m := range legal {
		n.Edges[m] = &ActionStat{}
	}
	return n
}

// seedPriors consumes the stored policy once, renormalising it over the
// legal moves. Without prior mass on any legal move it falls back to a
// uniform prior.
func (n *Node) seedPriors() {
	prior := n.prior
	n.prior = nil
	if len(n.Legal) == 0 {
		return
	}

	total := float32(0)
	for _, m := range n.Legal {
		p := float32(0)
		if idx, ok := game.LabelIndex(m); ok && idx < len(prior) && prior[idx] > 0 {
			p = prior[idx]
		}
		n.Edges[m].P = p
		total += p
	}
	if total <= 0 {
		u := 1 / float32(len(n.Legal))
		for _, m := range n.Legal {
			n.Edges[m].P = u
		}
		return
	}
	for _, m := range n.Legal {
		n.Edges[m].P /= total
	}
}

// EdgeView is a read-only copy of one edge.
type EdgeView struct {
	Move game.Move
	ActionStat
}

// NodeView is a read-only copy of a node, edges in move enumeration order.
type NodeView struct {
	SumN    int
	Pending bool
	Waiters int
	Edges   []EdgeView
}

func (n *Node) view() NodeView {
	v := NodeView{SumN: n.SumN, Pending: n.Pending, Waiters: len(n.waiters), Edges: make([]EdgeView, 0, len(n.Legal))}
	for _, m := range n.Legal {
		v.Edges = append(v.Edges, EdgeView{Move: m, ActionStat: *n.Edges[m]})
	}
	return v
}

// Settled strips the virtual loss of in-flight simulations, leaving only
// completed visits. vloss is the searcher's virtual loss per simulation.
func (v NodeView) Settled(vloss int) NodeView {
	out := v
	out.Edges = make([]EdgeView, len(v.Edges))
	for i, e := range v.Edges {
		if e.InFlight > 0 {
			out.SumN -= vloss * e.InFlight
			e.N -= vloss * e.InFlight
			e.W += float32(vloss * e.InFlight)
			e.InFlight = 0
			e.recompute()
		}
		out.Edges[i] = e
	}
	return out
}

// Edge returns the edge for m, if present.
func (v NodeView) Edge(m game.Move) (EdgeView, bool) {
	for _, e := range v.Edges {
		if e.Move == m {
			return e, true
		}
	}
	return EdgeView{}, false
}

// Best returns the most visited edge; ties go to the earlier move.
func (v NodeView) Best() (EdgeView, bool) {
	best := -1
	for i, e := range v.Edges {
		if best < 0 || e.N > v.Edges[best].N {
			best = i
		}
	}
	if best < 0 || v.Edges[best].N <= 0 {
		return EdgeView{}, false
	}
	return v.Edges[best], true
}
