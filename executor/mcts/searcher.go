package mcts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distmv"
	"lukechampine.com/frand"

	"github.com/brensch/cchess/executor/inference"
	"github.com/brensch/cchess/game"
	"github.com/brensch/cchess/rules"
)

var (
	ErrSearcherClosed = errors.New("searcher closed")
	ErrSearcherFailed = errors.New("searcher failed")
)

// approxNodeBytes is a rough per-node footprint used to turn a memory budget
// into a node cap.
const approxNodeBytes = 4096

// maxLineDepth bounds the principal line reported to OnProgress.
const maxLineDepth = 20

// Evaluator accepts leaf evaluations. *inference.Batcher implements it.
type Evaluator interface {
	Enqueue(planes []float32, reply func(inference.Prediction, error)) error
}

// Decision is the outcome of one SelectMove call. Move is game.NullMove when
// resigning or when no move could be chosen; the latter means the episode is
// abnormal.
type Decision struct {
	Move   game.Move
	Resign bool
	// Policy is indexed by game.Labels in the mover's frame: the normalised
	// visit distribution, or raw visit counts when resigning.
	Policy []float32
	// Value is the chosen edge's Q from the mover's perspective.
	Value       float32
	Simulations int
}

// Progress is a read-only report emitted after every chunk of simulations.
type Progress struct {
	Simulations int
	// Line is the most visited line, every move in the root mover's frame.
	Line  []game.Move
	Value float32
}

type rootInfo struct {
	key       game.Key
	forbidden map[game.Move]bool
}

// Searcher runs simulations for one episode over a shared tree. SelectMove
// must not be called concurrently.
type Searcher struct {
	tree   *Tree
	eval   Evaluator
	cfg    Config
	logger atomic.Pointer[zerolog.Logger]

	queue  *jobQueue
	group  *errgroup.Group
	owned  *inference.Batcher
	root   atomic.Pointer[rootInfo]
	closed atomic.Bool

	errMu sync.Mutex
	err   error

	rngMu      sync.Mutex
	rng        *rand.Rand
	src        rand.Source
	dirichlets map[int]*distmv.Dirichlet
}

// Open starts a searcher's worker pool. The evaluator's lifecycle stays
// with the caller.
func Open(tree *Tree, eval Evaluator, cfg Config) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search config: %w", err)
	}
	if cfg.Loop == nil {
		cfg.Loop = ZeroLoop{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = frand.Uint64n(math.MaxUint64) + 1
	}
	src := rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)

	s := &Searcher{
		tree:       tree,
		eval:       eval,
		cfg:        cfg,
		queue:      newJobQueue(),
		src:        src,
		rng:        rand.New(src),
		dirichlets: make(map[int]*distmv.Dirichlet),
	}
	nop := zerolog.Nop()
	s.logger.Store(&nop)
	s.group = new(errgroup.Group)
	for i := 0; i < cfg.Threads; i++ {
		s.group.Go(s.worker)
	}
	return s, nil
}

// OpenWithOracle is Open with a private batcher in front of oracle. Close
// stops the batcher.
func OpenWithOracle(ctx context.Context, tree *Tree, oracle inference.Oracle, cfg Config) (*Searcher, error) {
	b := inference.NewBatcher(oracle, inference.BatcherConfig{Limit: cfg.BatchLimit, PolicySize: game.NumActions})
	s, err := Open(tree, b, cfg)
	if err != nil {
		return nil, err
	}
	b.Start(ctx)
	s.owned = b
	return s, nil
}

// Close stops the workers. Simulations still in flight are dropped.
func (s *Searcher) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.owned != nil {
		s.owned.Stop()
	}
	s.queue.close()
	return s.group.Wait()
}

func (s *Searcher) Tree() *Tree { return s.tree }

// log is the logger of the SelectMove call in progress. Stale simulations
// may log under a later call's fields.
func (s *Searcher) log() *zerolog.Logger { return s.logger.Load() }

// Err returns the error that failed the episode, if any.
func (s *Searcher) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Searcher) fail(err error, l *latch) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	l.abort(err)
}

func (s *Searcher) rootFor(p Path) *rootInfo {
	if p.Len() != 1 {
		return nil
	}
	r := s.root.Load()
	if r == nil || r.key != p.TipKey() {
		return nil
	}
	return r
}

// dirichlet draws a fresh noise vector over n candidates.
func (s *Searcher) dirichlet(n int) []float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	d, ok := s.dirichlets[n]
	if !ok {
		alpha := make([]float64, n)
		for i := range alpha {
			alpha[i] = s.cfg.DirichletAlpha
		}
		d = distmv.NewDirichlet(alpha, s.src)
		s.dirichlets[n] = d
	}
	return d.Rand(nil)
}

// SelectMove searches from state and picks a move for the side to move.
// ply is the number of half-moves played so far and drives temperature and
// resignation. Forbidden moves are never selected at the root.
//
// When ctx ends before the budget is spent the decision is extracted from the
// visits so far. Simulations still in flight keep running and finish into
// the tree later.
func (s *Searcher) SelectMove(ctx context.Context, state game.State, ply int, forbidden []game.Move) (Decision, error) {
	if s.closed.Load() {
		return Decision{Move: game.NullMove}, ErrSearcherClosed
	}
	if err := s.Err(); err != nil {
		return Decision{Move: game.NullMove}, fmt.Errorf("%w: %w", ErrSearcherFailed, err)
	}
	if s.cfg.ThinkTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ThinkTime)
		defer cancel()
	}
	logger := zerolog.Ctx(ctx).With().Int("ply", ply).Logger()
	s.logger.Store(&logger)

	s.guardTreeSize(logger)

	if out := rules.IsTerminal(state); out.Done {
		if out.Forcing.IsNull() {
			return Decision{Move: game.NullMove, Value: out.Value}, nil
		}
		policy := make([]float32, game.NumActions)
		if idx, ok := game.LabelIndex(out.Forcing); ok {
			policy[idx] = 1
		}
		return Decision{Move: out.Forcing, Policy: policy, Value: out.Value}, nil
	}

	root := &rootInfo{key: state.Key()}
	if len(forbidden) > 0 {
		root.forbidden = lo.SliceToMap(forbidden, func(m game.Move) (game.Move, bool) { return m, true })
	}
	s.root.Store(root)

	if err := s.runBudget(ctx, state, root); err != nil {
		return Decision{Move: game.NullMove}, err
	}
	return s.decide(state, root, ply, logger)
}

// runBudget launches simulations in chunks of at most Width until the root
// has Simulations visits, the context ends, or a chunk makes no progress.
func (s *Searcher) runBudget(ctx context.Context, state game.State, root *rootInfo) error {
	for {
		before, ready := s.rootVisits(root.key)
		budget := s.cfg.Simulations - before
		if budget <= 0 {
			return nil
		}
		width := min(budget, s.cfg.Width)

		l := newLatch(width)
		gen := s.tree.Generation()
		for i := 0; i < width; i++ {
			s.queue.push(job{kind: jobSelect, continuation: continuation{path: NewPath(state), latch: l, gen: gen}})
		}

		err := l.wait(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil && (err == nil || errors.Is(err, ctxErr)) {
			s.log().Debug().Err(ctxErr).Int("visits", before).Msg("search cut short")
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSearcherFailed, err)
		}

		after, _ := s.rootVisits(root.key)
		s.report(state, after)
		if after == before && ready {
			s.log().Debug().Int("visits", after).Msg("search made no progress")
			return nil
		}
	}
}

// settled snapshots the node under k with in-flight virtual loss removed.
func (s *Searcher) settled(k game.Key) (NodeView, bool) {
	v, ok := s.tree.Snapshot(k)
	if !ok {
		return NodeView{}, false
	}
	return v.Settled(s.cfg.VirtualLoss), true
}

// rootVisits returns the root's completed visits and whether it was already
// expanded.
func (s *Searcher) rootVisits(k game.Key) (int, bool) {
	v, ok := s.settled(k)
	if !ok {
		return 0, false
	}
	return v.SumN, !v.Pending
}

func (s *Searcher) decide(state game.State, root *rootInfo, ply int, logger zerolog.Logger) (Decision, error) {
	view, ok := s.settled(root.key)
	if !ok || view.Pending {
		logger.Error().Str("state", state.String()).Msg("root was never expanded")
		return Decision{Move: game.NullMove}, nil
	}

	counts := make([]float32, game.NumActions)
	total := float32(0)
	maxQ := float32(math.Inf(-1))
	for _, e := range view.Edges {
		if root.forbidden[e.Move] || e.N <= 0 {
			continue
		}
		idx, ok := game.LabelIndex(e.Move)
		if !ok {
			continue
		}
		counts[idx] = float32(e.N)
		total += float32(e.N)
		maxQ = max(maxQ, e.Q)
	}
	if total <= 0 {
		return s.decideFromPriors(state, root, view, logger)
	}

	if s.cfg.EnableResign && ply > s.cfg.MinResignTurn && maxQ < s.cfg.ResignThreshold {
		logger.Info().Float32("q", maxQ).Msg("resigning")
		return Decision{Move: game.NullMove, Resign: true, Policy: counts, Value: maxQ, Simulations: view.SumN}, nil
	}

	policy := lo.Map(counts, func(c float32, _ int) float32 { return c / total })

	idx := s.pick(policy, ply)
	move := game.Labels[idx]
	e, _ := view.Edge(move)
	return Decision{Move: move, Policy: policy, Value: e.Q, Simulations: view.SumN}, nil
}

// decideFromPriors chooses by prior when the root is expanded but no
// simulation below it has completed, as after an early timeout. It never
// resigns.
func (s *Searcher) decideFromPriors(state game.State, root *rootInfo, view NodeView, logger zerolog.Logger) (Decision, error) {
	policy := make([]float32, game.NumActions)
	total := float32(0)
	for _, e := range view.Edges {
		if root.forbidden[e.Move] {
			continue
		}
		idx, ok := game.LabelIndex(e.Move)
		if !ok {
			continue
		}
		// A tiny floor keeps zero-prior moves selectable.
		p := max(e.P, 1e-9)
		policy[idx] = p
		total += p
	}
	if total <= 0 {
		logger.Error().Str("state", state.String()).Msg("no legal move selectable")
		return Decision{Move: game.NullMove, Policy: policy, Simulations: view.SumN}, nil
	}
	for i := range policy {
		policy[i] /= total
	}
	logger.Warn().Msg("no completed simulation, choosing by prior")
	move := game.Labels[argmax(policy)]
	return Decision{Move: move, Policy: policy, Simulations: view.SumN}, nil
}

// Temperature returns the sampling temperature for a ply; 0 means argmax.
func (c Config) Temperature(ply int) float64 {
	if c.TauDecayRate == 0 || (c.TauCutoff > 0 && ply >= c.TauCutoff) {
		return 0
	}
	tau := math.Pow(c.TauDecayRate, float64(ply+1))
	if tau < 0.1 {
		return 0
	}
	return tau
}

// pick chooses a label index from the visit policy under the ply's
// temperature.
func (s *Searcher) pick(policy []float32, ply int) int {
	tau := s.cfg.Temperature(ply)
	if tau == 0 {
		return argmax(policy)
	}

	weights := make([]float64, len(policy))
	sum := 0.0
	for i, p := range policy {
		if p > 0 {
			weights[i] = math.Pow(float64(p), 1/tau)
			sum += weights[i]
		}
	}
	if sum <= 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return argmax(policy)
	}

	s.rngMu.Lock()
	r := s.rng.Float64() * sum
	s.rngMu.Unlock()

	last := 0
	for i, w := range weights {
		if w == 0 {
			continue
		}
		last = i
		if r < w {
			return i
		}
		r -= w
	}
	return last
}

func argmax(xs []float32) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

// report sends the current principal line to OnProgress.
func (s *Searcher) report(state game.State, visits int) {
	if s.cfg.OnProgress == nil {
		return
	}
	line, value := s.PrincipalLine(state, maxLineDepth)
	s.cfg.OnProgress(Progress{Simulations: visits, Line: line, Value: value})
}

// PrincipalLine follows the most visited edges from state. Moves are
// returned in state's frame; value is the first edge's Q.
func (s *Searcher) PrincipalLine(state game.State, depth int) ([]game.Move, float32) {
	var line []game.Move
	var value float32
	cur := state
	for d := 0; d < depth; d++ {
		view, ok := s.settled(cur.Key())
		if !ok {
			break
		}
		best, ok := view.Best()
		if !ok {
			break
		}
		if d == 0 {
			value = best.Q
		}
		m := best.Move
		if d%2 == 1 {
			m = game.FlipMove(m)
		}
		line = append(line, m)
		cur = rules.Apply(cur, best.Move)
	}
	return line, value
}

// guardTreeSize resets the tree at a move boundary once it outgrows its cap.
func (s *Searcher) guardTreeSize(logger zerolog.Logger) {
	limit := s.cfg.MaxTreeNodes
	if limit == 0 {
		frac := s.cfg.MemoryFraction
		if frac <= 0 {
			return
		}
		limit = int(float64(memory.TotalMemory()) * frac / approxNodeBytes)
	}
	if limit <= 0 {
		return
	}
	if n := s.tree.Len(); n > limit {
		logger.Info().Int("nodes", n).Int("limit", limit).Msg("resetting search tree")
		s.tree.Reset()
	}
}
