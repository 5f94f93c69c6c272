// Package inference connects the search to a policy/value oracle.
//
// An Oracle evaluates a batch of plane tensors in one call. The Batcher sits
// in front of it and turns many small, concurrent leaf requests into one
// in-flight batch at a time.
package inference

import (
	"context"
	"errors"

	"github.com/brensch/cchess/game"
)

var (
	// ErrMalformedResponse is delivered to every request of a batch whose
	// results do not line up with its inputs.
	ErrMalformedResponse = errors.New("malformed oracle response")
	// ErrStopped is returned by Enqueue once the batcher has been stopped.
	ErrStopped = errors.New("inference stopped")
)

// Prediction is the oracle's answer for one position. Policy is indexed by
// game.Labels in the mover's frame; Value is from the mover's perspective.
type Prediction struct {
	Policy []float32
	Value  float32
}

// Oracle evaluates a batch of [14,10,9] plane tensors. The i-th result
// belongs to the i-th input.
type Oracle interface {
	Predict(ctx context.Context, batch [][]float32) ([]Prediction, error)
}

// RuntimeStats is a snapshot of batching counters.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int

	AvgBatchSize float64
	AvgRunMs     float64
}

// UniformOracle answers every position with a flat policy and a fixed value.
// It stands in for a model in smoke runs.
type UniformOracle struct {
	Value float32
}

func (u UniformOracle) Predict(ctx context.Context, batch [][]float32) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	policy := make([]float32, game.NumActions)
	p := 1 / float32(game.NumActions)
	for i := range policy {
		policy[i] = p
	}
	out := make([]Prediction, len(batch))
	for i := range out {
		out[i] = Prediction{Policy: policy, Value: u.Value}
	}
	return out, nil
}
