package scheduler

import (
	"errors"
	"fmt"
	"math"

	"grinder/pkg/model"
)

var (
	ErrInvalidCost  = errors.New("invalid operation cost")
	ErrInvalidState = errors.New("invalid target state")
)

// MaxUnits is how many units of cost fit in the node's free capacity.
// It is never negative; an unusable cost yields 0 and ErrInvalidCost.
func MaxUnits(node *model.Node, cost float64) (int, error) {
	return fitUnits(node, cost, 1)
}

// fitUnits is MaxUnits over a fraction of the free capacity.
func fitUnits(node *model.Node, cost, ratio float64) (int, error) {
	if math.IsNaN(cost) || math.IsInf(cost, 0) || cost <= 0 {
		return 0, fmt.Errorf("%w: %v on %s", ErrInvalidCost, cost, node.ID)
	}
	free := node.Free() * ratio
	if math.IsNaN(free) || free <= 0 {
		return 0, nil
	}
	return clampUnits(math.Floor(free / cost)), nil
}

// clampUnits turns a rounded float into a unit count, mapping NaN, Inf and
// negatives to 0.
func clampUnits(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}
