package scheduler

import (
	"errors"
	"fmt"
	"time"
)

type Mode string

const (
	// ModeSimple picks one operation per target per iteration from a ratio of the home node.
	ModeSimple Mode = "simple"
	// ModeBatch runs full batches against prepared targets and skips the rest.
	ModeBatch Mode = "batch"
	// ModeHybrid batches prepared targets and prepares the others with single operations.
	ModeHybrid Mode = "hybrid"
)

// NodeOrder is the order the distributor walks worker nodes in.
type NodeOrder string

const (
	OrderHomeFirst NodeOrder = "home-first"
	OrderAsListed  NodeOrder = "as-listed"
	OrderMostFree  NodeOrder = "most-free"
)

// Ratios split the home node's free capacity in simple mode.
type Ratios struct {
	Weaken float64
	Grow   float64
	Hack   float64
}

// Config is fixed for the lifetime of a Scheduler.
type Config struct {
	Mode      Mode
	Home      string
	NodeOrder NodeOrder

	BatchSpacing   time.Duration
	SecurityBuffer float64
	MoneyThreshold float64
	HackFraction   float64
	Ratios         Ratios

	TargetDelay    time.Duration // between targets
	IterationDelay time.Duration // between iterations
	IdleDelay      time.Duration // when no target is eligible

	SimpleRetries int
	RetryDelay    time.Duration

	// NodeTimeout is how stale a heartbeat may be before a node stops
	// receiving work and is marked OFFLINE.
	NodeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Mode:           ModeHybrid,
		Home:           "home",
		NodeOrder:      OrderHomeFirst,
		BatchSpacing:   200 * time.Millisecond,
		SecurityBuffer: 3,
		MoneyThreshold: 0.75,
		HackFraction:   0.75,
		Ratios:         Ratios{Weaken: 0.4, Grow: 0.5, Hack: 0.1},
		TargetDelay:    200 * time.Millisecond,
		IterationDelay: 200 * time.Millisecond,
		IdleDelay:      100 * time.Millisecond,
		SimpleRetries:  0,
		RetryDelay:     100 * time.Millisecond,
		NodeTimeout:    9 * time.Second,
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeSimple, ModeBatch, ModeHybrid:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	switch c.NodeOrder {
	case OrderHomeFirst, OrderAsListed, OrderMostFree:
	default:
		return fmt.Errorf("unknown node order %q", c.NodeOrder)
	}
	if c.Home == "" {
		return errors.New("home node is required")
	}
	if c.BatchSpacing <= 0 {
		return fmt.Errorf("batch spacing must be positive, got %s", c.BatchSpacing)
	}
	if c.MoneyThreshold <= 0 || c.MoneyThreshold > 1 {
		return fmt.Errorf("money threshold must be in (0, 1], got %v", c.MoneyThreshold)
	}
	if c.HackFraction <= 0 || c.HackFraction >= 1 {
		return fmt.Errorf("hack fraction must be in (0, 1), got %v", c.HackFraction)
	}
	for name, r := range map[string]float64{"weaken": c.Ratios.Weaken, "grow": c.Ratios.Grow, "hack": c.Ratios.Hack} {
		if r < 0 || r > 1 {
			return fmt.Errorf("%s ratio must be in [0, 1], got %v", name, r)
		}
	}
	if c.NodeTimeout <= 0 {
		return fmt.Errorf("node timeout must be positive, got %s", c.NodeTimeout)
	}
	if c.SimpleRetries < 0 {
		return errors.New("simple retries cannot be negative")
	}
	return nil
}
