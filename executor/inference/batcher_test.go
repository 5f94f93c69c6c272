package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingOracle echoes planes[0] back as the value and records batch sizes.
type recordingOracle struct {
	mu      sync.Mutex
	sizes   []int
	drop    int
	fail    error
	release chan struct{}
	called  chan int
}

func (o *recordingOracle) Predict(ctx context.Context, batch [][]float32) ([]Prediction, error) {
	o.mu.Lock()
	o.sizes = append(o.sizes, len(batch))
	o.mu.Unlock()
	if o.called != nil {
		o.called <- len(batch)
	}
	if o.release != nil {
		select {
		case <-o.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if o.fail != nil {
		return nil, o.fail
	}
	out := make([]Prediction, 0, len(batch))
	for _, p := range batch {
		out = append(out, Prediction{Policy: []float32{1}, Value: p[0]})
	}
	return out[:len(out)-o.drop], nil
}

func (o *recordingOracle) batchSizes() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.sizes...)
}

type result struct {
	idx  int
	pred Prediction
	err  error
}

func TestBatcher_OneCallInSubmissionOrder(t *testing.T) {
	oracle := &recordingOracle{}
	b := NewBatcher(oracle, BatcherConfig{})

	results := make(chan result, 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			planes := []float32{float32(i)}
			err := b.Enqueue(planes, func(p Prediction, err error) {
				results <- result{idx: i, pred: p, err: err}
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	b.Start(context.Background())
	defer b.Stop()

	for n := 0; n < 10; n++ {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			assert.Equal(t, float32(r.idx), r.pred.Value, "reply delivered to the wrong request")
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of 10 replies arrived", n)
		}
	}
	assert.Equal(t, []int{10}, oracle.batchSizes())

	st := b.Stats()
	assert.Equal(t, int64(1), st.TotalBatches)
	assert.Equal(t, int64(10), st.TotalItems)
	assert.Equal(t, int64(10), st.LastBatchSize)
	assert.Equal(t, 0, st.QueueLen)
}

func TestBatcher_SingleBatchInFlight(t *testing.T) {
	oracle := &recordingOracle{release: make(chan struct{}), called: make(chan int, 4)}
	b := NewBatcher(oracle, BatcherConfig{})
	b.Start(context.Background())
	defer b.Stop()

	var replies atomic.Int32
	reply := func(Prediction, error) { replies.Add(1) }

	require.NoError(t, b.Enqueue([]float32{0}, reply))
	select {
	case n := <-oracle.called:
		assert.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("first batch never sent")
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Enqueue([]float32{float32(i + 1)}, reply))
	}
	select {
	case n := <-oracle.called:
		t.Fatalf("second batch of %d sent while the first was outstanding", n)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 5, b.QueueLen())

	close(oracle.release)
	select {
	case n := <-oracle.called:
		assert.Equal(t, 5, n)
	case <-time.After(5 * time.Second):
		t.Fatal("second batch never sent")
	}
	require.Eventually(t, func() bool { return replies.Load() == 6 }, 5*time.Second, time.Millisecond)
}

func TestBatcher_RespectsLimit(t *testing.T) {
	oracle := &recordingOracle{}
	b := NewBatcher(oracle, BatcherConfig{Limit: 4})

	var replies atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Enqueue([]float32{float32(i)}, func(Prediction, error) { replies.Add(1) }))
	}
	b.Start(context.Background())
	defer b.Stop()

	require.Eventually(t, func() bool { return replies.Load() == 10 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, []int{4, 4, 2}, oracle.batchSizes())
}

func TestBatcher_MalformedResponse(t *testing.T) {
	oracle := &recordingOracle{drop: 1}
	b := NewBatcher(oracle, BatcherConfig{})

	results := make(chan result, 3)
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, b.Enqueue([]float32{float32(i)}, func(p Prediction, err error) {
			results <- result{idx: i, pred: p, err: err}
		}))
	}
	b.Start(context.Background())
	defer b.Stop()

	for n := 0; n < 3; n++ {
		select {
		case r := <-results:
			assert.ErrorIs(t, r.err, ErrMalformedResponse)
		case <-time.After(5 * time.Second):
			t.Fatal("missing reply")
		}
	}
}

func TestBatcher_PolicySizeChecked(t *testing.T) {
	b := NewBatcher(&recordingOracle{}, BatcherConfig{PolicySize: 3})
	done := make(chan error, 1)
	require.NoError(t, b.Enqueue([]float32{0}, func(_ Prediction, err error) { done <- err }))
	b.Start(context.Background())
	defer b.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrMalformedResponse)
	case <-time.After(5 * time.Second):
		t.Fatal("missing reply")
	}
}

func TestBatcher_OracleErrorReachesEveryRequest(t *testing.T) {
	boom := errors.New("boom")
	b := NewBatcher(&recordingOracle{fail: boom}, BatcherConfig{})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Enqueue([]float32{0}, func(_ Prediction, err error) { errs <- err }))
	}
	b.Start(context.Background())
	defer b.Stop()

	for n := 0; n < 2; n++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, boom)
		case <-time.After(5 * time.Second):
			t.Fatal("missing reply")
		}
	}
}

func TestBatcher_StopAbandonsQueue(t *testing.T) {
	oracle := &recordingOracle{release: make(chan struct{}), called: make(chan int, 4)}
	b := NewBatcher(oracle, BatcherConfig{})
	b.Start(context.Background())

	var replies atomic.Int32
	reply := func(Prediction, error) { replies.Add(1) }
	require.NoError(t, b.Enqueue([]float32{0}, reply))
	<-oracle.called
	require.NoError(t, b.Enqueue([]float32{1}, reply))

	b.Stop()
	assert.Equal(t, int32(0), replies.Load())
	assert.ErrorIs(t, b.Enqueue([]float32{2}, reply), ErrStopped)
	assert.Equal(t, []int{1}, oracle.batchSizes())
}
