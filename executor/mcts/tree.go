package mcts

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"

	"github.com/brensch/cchess/game"
)

const DefaultStripes = 256

type stripe struct {
	mu    sync.Mutex
	nodes map[game.Key]*Node
}

// Tree is the node store shared by every search task of an episode. Keys
// hash onto a fixed set of stripes; a stripe's mutex guards its map and
// every node in it.
type Tree struct {
	stripes []stripe
	size    atomic.Int64
	// gen changes on every Reset, with every stripe held.
	gen atomic.Uint64
}

func NewTree(stripes int) *Tree {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	t := &Tree{stripes: make([]stripe, stripes)}
	for i := range t.stripes {
		t.stripes[i].nodes = make(map[game.Key]*Node)
	}
	return t
}

func (t *Tree) stripeFor(k game.Key) *stripe {
	h := xxhash.Sum64(k[:])
	return &t.stripes[h%uint64(len(t.stripes))]
}

// acquire locks k's stripe and returns its node, creating it over legal
// when absent. created reports whether this caller made the node and so owns
// its expansion. ok is false, with nothing locked, when the tree has been
// reset since generation gen. Otherwise the caller must call unlock once.
func (t *Tree) acquire(k game.Key, gen uint64, legal []game.Move) (n *Node, created bool, unlock func(), ok bool) {
	s := t.stripeFor(k)
	s.mu.Lock()
	if t.gen.Load() != gen {
		s.mu.Unlock()
		return nil, false, nil, false
	}
	n, found := s.nodes[k]
	if !found {
		n = newNode(legal)
		s.nodes[k] = n
		t.size.Add(1)
		created = true
	}
	return n, created, s.mu.Unlock, true
}

// lookup locks k's stripe and returns its node if present in generation
// gen. When found, the caller must call unlock.
func (t *Tree) lookup(k game.Key, gen uint64) (*Node, func(), bool) {
	s := t.stripeFor(k)
	s.mu.Lock()
	n, ok := s.nodes[k]
	if !ok || t.gen.Load() != gen {
		s.mu.Unlock()
		return nil, nil, false
	}
	return n, s.mu.Unlock, true
}

// Generation identifies the tree's contents between resets.
func (t *Tree) Generation() uint64 {
	return t.gen.Load()
}

// Len is the number of nodes in the tree.
func (t *Tree) Len() int {
	return int(t.size.Load())
}

// Reset drops every node. Simulations started before the reset become
// no-ops.
func (t *Tree) Reset() {
	for i := range t.stripes {
		t.stripes[i].mu.Lock()
	}
	t.gen.Add(1)
	for i := range t.stripes {
		t.stripes[i].nodes = make(map[game.Key]*Node)
	}
	t.size.Store(0)
	for i := range t.stripes {
		t.stripes[i].mu.Unlock()
	}
}

// Snapshot copies the node stored under k.
func (t *Tree) Snapshot(k game.Key) (NodeView, bool) {
	n, unlock, ok := t.lookup(k, t.gen.Load())
	if !ok {
		return NodeView{}, false
	}
	defer unlock()
	return n.view(), true
}

// Walk calls fn with a copy of every node. Stripes are locked one at a time,
// so the walk is only a consistent picture of a quiescent tree.
func (t *Tree) Walk(fn func(game.Key, NodeView)) {
	for i := range t.stripes {
		s := &t.stripes[i]
		s.mu.Lock()
		views := make(map[game.Key]NodeView, len(s.nodes))
		for k, n := range s.nodes {
			views[k] = n.view()
		}
		s.mu.Unlock()
		for k, v := range views {
			fn(k, v)
		}
	}
}
