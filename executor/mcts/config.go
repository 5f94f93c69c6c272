package mcts

import (
	"errors"
	"fmt"
	"time"
)

// Config holds MCTS configuration.
type Config struct {
	CPuct float32
	// NoiseEps mixes Dirichlet(DirichletAlpha) noise into the root priors.
	NoiseEps       float32
	DirichletAlpha float64
	VirtualLoss    int

	// Simulations is the visit target for the root of every move.
	Simulations int
	// Threads is the worker pool size.
	Threads int
	// Width bounds the simulations in flight at once.
	Width   int
	Stripes int

	TauDecayRate float64
	// TauCutoff stops sampling from turn TauCutoff on; 0 disables the cutoff.
	TauCutoff int

	EnableResign    bool
	ResignThreshold float32
	MinResignTurn   int

	Loop LoopPolicy

	// MaxTreeNodes resets the tree at a move boundary once exceeded. When 0
	// the cap is derived from MemoryFraction of physical memory.
	MaxTreeNodes   int
	MemoryFraction float64

	// ThinkTime, when set, bounds each SelectMove call.
	ThinkTime time.Duration
	// Seed drives root noise and temperature sampling; 0 picks a random seed.
	Seed uint64

	// BatchLimit sizes the batcher created by OpenWithOracle.
	BatchLimit int

	OnProgress func(Progress)
}

func DefaultConfig() Config {
	return Config{
		CPuct:           1.5,
		NoiseEps:        0.25,
		DirichletAlpha:  0.2,
		VirtualLoss:     3,
		Simulations:     800,
		Threads:         8,
		Width:           16,
		Stripes:         DefaultStripes,
		TauDecayRate:    0.98,
		EnableResign:    true,
		ResignThreshold: -0.95,
		MinResignTurn:   40,
		Loop:            ZeroLoop{},
		MemoryFraction:  0.25,
		BatchLimit:      256,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.CPuct <= 0 {
		errs = append(errs, fmt.Errorf("c_puct must be positive, got %v", c.CPuct))
	}
	if c.NoiseEps < 0 || c.NoiseEps > 1 {
		errs = append(errs, fmt.Errorf("noise_eps must be in [0,1], got %v", c.NoiseEps))
	}
	if c.NoiseEps > 0 && c.DirichletAlpha <= 0 {
		errs = append(errs, fmt.Errorf("dirichlet_alpha must be positive, got %v", c.DirichletAlpha))
	}
	if c.VirtualLoss < 0 {
		errs = append(errs, fmt.Errorf("virtual_loss must not be negative, got %d", c.VirtualLoss))
	}
	if c.Simulations <= 0 {
		errs = append(errs, fmt.Errorf("simulations must be positive, got %d", c.Simulations))
	}
	if c.Threads <= 0 {
		errs = append(errs, fmt.Errorf("search_threads must be positive, got %d", c.Threads))
	}
	if c.Width <= 0 {
		errs = append(errs, fmt.Errorf("width must be positive, got %d", c.Width))
	}
	if c.TauDecayRate < 0 || c.TauDecayRate > 1 {
		errs = append(errs, fmt.Errorf("tau_decay_rate must be in [0,1], got %v", c.TauDecayRate))
	}
	if c.MaxTreeNodes < 0 {
		errs = append(errs, fmt.Errorf("max_tree_nodes must not be negative, got %d", c.MaxTreeNodes))
	}
	if c.MemoryFraction < 0 || c.MemoryFraction > 1 {
		errs = append(errs, fmt.Errorf("memory_fraction must be in [0,1], got %v", c.MemoryFraction))
	}
	return errors.Join(errs...)
}
