package scheduler

import (
	"context"
	"fmt"
	"math"

	"grinder/pkg/model"
)

// ceilSlack absorbs float noise so an exact multiple does not round up.
const ceilSlack = 1e-9

// Security raised by one hack / grow unit, expressed in weaken units.
const (
	hackUnitsPerWeaken = 25.0
	growUnitsPerWeaken = 12.5
)

// Calculator computes exact unit counts per operation. Results depend only
// on the target snapshot and the environment's yield functions.
type Calculator struct {
	state        TargetState
	hackFraction float64
}

func NewCalculator(state TargetState, cfg Config) *Calculator {
	return &Calculator{state: state, hackFraction: cfg.HackFraction}
}

func (c *Calculator) Units(ctx context.Context, t *model.Target, op model.Operation) (int, error) {
	switch op {
	case model.OpWeaken:
		return WeakenUnits(t)
	case model.OpHack:
		return c.HackUnits(ctx, t)
	case model.OpGrow:
		return c.GrowUnits(ctx, t)
	}
	return 0, fmt.Errorf("unknown operation %q", op)
}

// WeakenUnits brings security down to the floor, plus one unit of margin.
func WeakenUnits(t *model.Target) (int, error) {
	diff := t.Security - t.MinSecurity
	if math.IsNaN(diff) || math.IsInf(diff, 0) {
		return 0, fmt.Errorf("%w: security %v min %v on %s", ErrInvalidState, t.Security, t.MinSecurity, t.ID)
	}
	steps := 0
	if diff > 0 {
		steps = clampUnits(math.Ceil(diff/model.WeakenPerUnit - ceilSlack))
	}
	return steps + 1, nil
}

// HackUnits takes the configured fraction of current money.
func (c *Calculator) HackUnits(ctx context.Context, t *model.Target) (int, error) {
	if t.Money <= 0 || math.IsNaN(t.Money) {
		return 0, nil
	}
	raw, err := c.state.HackUnits(ctx, t.ID, t.Money*c.hackFraction)
	if err != nil {
		return 0, err
	}
	return clampUnits(math.Floor(raw)), nil
}

// GrowUnits restores money to the ceiling after the paired hack has taken
// its fraction. The floor of 1 keeps the multiplier finite on empty targets.
func (c *Calculator) GrowUnits(ctx context.Context, t *model.Target) (int, error) {
	if t.MaxMoney <= 0 || math.IsNaN(t.MaxMoney) {
		return 0, fmt.Errorf("%w: max money %v on %s", ErrInvalidState, t.MaxMoney, t.ID)
	}
	remaining := math.Max(t.Money*(1-c.hackFraction), 1)
	multiplier := t.MaxMoney / remaining
	if math.IsNaN(multiplier) || multiplier <= 1 {
		return 0, nil
	}
	raw, err := c.state.GrowUnits(ctx, t.ID, multiplier)
	if err != nil {
		return 0, err
	}
	return clampUnits(math.Ceil(raw - ceilSlack)), nil
}

// CompensatingWeaken cancels the security added by hack and grow units.
func CompensatingWeaken(hackUnits, growUnits int) int {
	return clampUnits(math.Ceil(float64(hackUnits)/hackUnitsPerWeaken + float64(growUnits)/growUnitsPerWeaken))
}
