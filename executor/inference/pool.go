package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// Pool fans out Predict calls across several oracles, e.g. one ONNX session
// per GPU stream.
type Pool struct {
	oracles []Oracle
	rr      atomic.Uint64
}

func NewPool(oracles ...Oracle) *Pool {
	return &Pool{oracles: oracles}
}

// NewOnnxPool opens sessions ONNX Runtime sessions on the same model.
func NewOnnxPool(modelPath string, sessions int, cfg OnnxConfig) (*Pool, error) {
	if sessions <= 0 {
		sessions = 1
	}

	oracles := make([]Oracle, 0, sessions)
	for i := 0; i < sessions; i++ {
		o, err := NewOnnxOracle(modelPath, cfg)
		if err != nil {
			_ = NewPool(oracles...).Close()
			return nil, fmt.Errorf("create onnx session %d/%d: %w", i+1, sessions, err)
		}
		oracles = append(oracles, o)
	}
	return NewPool(oracles...), nil
}

func (p *Pool) Len() int { return len(p.oracles) }

// Close closes every member that implements io.Closer.
func (p *Pool) Close() error {
	var errs []error
	for _, o := range p.oracles {
		if c, ok := o.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) Predict(ctx context.Context, batch [][]float32) ([]Prediction, error) {
	if len(p.oracles) == 0 {
		return nil, fmt.Errorf("oracle pool is empty")
	}
	idx := int(p.rr.Add(1)-1) % len(p.oracles)
	return p.oracles[idx].Predict(ctx, batch)
}
