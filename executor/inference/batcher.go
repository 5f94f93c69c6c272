package inference

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBatchLimit   = 256
	DefaultPollInterval = 1 * time.Millisecond
)

type BatcherConfig struct {
	// Limit caps the number of requests per oracle call.
	Limit int
	// PollInterval is how often an idle sender rechecks the queue.
	PollInterval time.Duration
	// PolicySize, when set, is the policy length every result must have.
	PolicySize int
}

type request struct {
	planes []float32
	reply  func(Prediction, error)
}

// flight is one outstanding oracle call.
type flight struct {
	reqs    []request
	results []Prediction
	err     error
	started time.Time
	done    chan struct{}
}

// Batcher queues leaf evaluations and forwards them to an Oracle, one batch
// at a time. The sender drains the queue only while it holds the gate token;
// the receiver returns the token after delivering the batch's replies. Reply
// callbacks run on the receiver goroutine and must not block.
type Batcher struct {
	oracle Oracle
	cfg    BatcherConfig

	mu    sync.Mutex
	queue []request

	notify   chan struct{}
	gate     chan struct{}
	inflight chan *flight

	stopped atomic.Bool
	stop    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	totalBatches  atomic.Int64
	totalItems    atomic.Int64
	totalRunNanos atomic.Int64
	lastBatchSize atomic.Int64
}

func NewBatcher(oracle Oracle, cfg BatcherConfig) *Batcher {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultBatchLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	b := &Batcher{
		oracle:   oracle,
		cfg:      cfg,
		notify:   make(chan struct{}, 1),
		gate:     make(chan struct{}, 1),
		inflight: make(chan *flight, 1),
		stop:     make(chan struct{}),
	}
	b.gate <- struct{}{}
	return b
}

// Enqueue adds one request. reply is called exactly once unless the batcher
// is stopped before the request is sent.
func (b *Batcher) Enqueue(planes []float32, reply func(Prediction, error)) error {
	if b.stopped.Load() {
		return ErrStopped
	}
	b.mu.Lock()
	b.queue = append(b.queue, request{planes: planes, reply: reply})
	n := len(b.queue)
	b.mu.Unlock()
	queueDepth.Set(float64(n))

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Start launches the sender and receiver loops.
func (b *Batcher) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, b.cancel = context.WithCancel(ctx)
		b.wg.Add(2)
		go b.sendLoop(ctx)
		go b.receiveLoop(ctx)
	})
}

// Stop halts both loops and waits for them. Queued requests are dropped
// without a reply.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		close(b.stop)
		if b.cancel != nil {
			b.cancel()
		}
	})
	b.wg.Wait()
}

func (b *Batcher) drain() []request {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.queue)
	if n == 0 {
		return nil
	}
	if n > b.cfg.Limit {
		n = b.cfg.Limit
	}
	out := make([]request, n)
	copy(out, b.queue[:n])
	rest := copy(b.queue, b.queue[n:])
	clear(b.queue[rest:])
	b.queue = b.queue[:rest]
	queueDepth.Set(float64(rest))
	return out
}

func (b *Batcher) sendLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-b.gate:
		}

		var reqs []request
		for {
			if reqs = b.drain(); len(reqs) > 0 {
				break
			}
			select {
			case <-b.stop:
				return
			case <-b.notify:
			case <-ticker.C:
			}
		}

		f := &flight{reqs: reqs, started: time.Now(), done: make(chan struct{})}
		batch := make([][]float32, len(reqs))
		for i, r := range reqs {
			batch[i] = r.planes
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer close(f.done)
			defer func() {
				if r := recover(); r != nil {
					f.err = fmt.Errorf("oracle panic: %v", r)
				}
			}()
			f.results, f.err = b.oracle.Predict(ctx, batch)
		}()

		// Capacity one and the gate guarantees the slot is free.
		b.inflight <- f
	}
}

func (b *Batcher) receiveLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		var f *flight
		select {
		case <-b.stop:
			return
		case f = <-b.inflight:
		}

		select {
		case <-b.stop:
			return
		case <-f.done:
		}

		b.deliver(ctx, f)
		b.gate <- struct{}{}
	}
}

func (b *Batcher) deliver(ctx context.Context, f *flight) {
	elapsed := time.Since(f.started)
	n := int64(len(f.reqs))
	b.totalBatches.Add(1)
	b.totalItems.Add(n)
	b.totalRunNanos.Add(elapsed.Nanoseconds())
	b.lastBatchSize.Store(n)
	batchSizeHist.Observe(float64(n))
	oracleLatency.Observe(elapsed.Seconds())

	err := f.err
	if err != nil {
		oracleErrors.WithLabelValues("oracle").Inc()
	} else if err = b.validate(f); err != nil {
		oracleErrors.WithLabelValues("malformed").Inc()
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("batch", len(f.reqs)).Msg("oracle batch failed")
		for _, r := range f.reqs {
			r.reply(Prediction{}, err)
		}
		return
	}
	for i, r := range f.reqs {
		r.reply(f.results[i], nil)
	}
}

func (b *Batcher) validate(f *flight) error {
	if len(f.results) != len(f.reqs) {
		return fmt.Errorf("%w: %d results for %d requests", ErrMalformedResponse, len(f.results), len(f.reqs))
	}
	if b.cfg.PolicySize <= 0 {
		return nil
	}
	for i, p := range f.results {
		if len(p.Policy) != b.cfg.PolicySize {
			return fmt.Errorf("%w: result %d has policy length %d, want %d", ErrMalformedResponse, i, len(p.Policy), b.cfg.PolicySize)
		}
	}
	return nil
}

// QueueLen is the number of requests waiting for a batch.
func (b *Batcher) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Batcher) Stats() RuntimeStats {
	batches := b.totalBatches.Load()
	items := b.totalItems.Load()
	runNanos := b.totalRunNanos.Load()

	avgBatch := 0.0
	avgRunMs := 0.0
	if batches > 0 {
		avgBatch = float64(items) / float64(batches)
		avgRunMs = (float64(runNanos) / 1e6) / float64(batches)
	}
	return RuntimeStats{
		TotalBatches:  batches,
		TotalItems:    items,
		TotalRunNanos: runNanos,
		LastBatchSize: b.lastBatchSize.Load(),
		QueueLen:      b.QueueLen(),
		AvgBatchSize:  avgBatch,
		AvgRunMs:      avgRunMs,
	}
}
