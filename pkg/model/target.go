package model

import (
	"math"
	"time"
)

// Per-unit security effects of each operation.
const (
	WeakenPerUnit       = 0.05
	HackSecurityPerUnit = 0.002
	GrowSecurityPerUnit = 0.004
)

// Duration multipliers relative to the hack duration.
const (
	growTimeFactor   = 3.2
	weakenTimeFactor = 4.0
)

type Target struct {
	ID            string  `json:"id"`
	Security      float64 `json:"security"`       // current, raised by hack/grow
	MinSecurity   float64 `json:"min_security"`   // floor, never changes
	Money         float64 `json:"money"`          // current, mutated by hack/grow
	MaxMoney      float64 `json:"max_money"`      // ceiling, never changes
	RequiredLevel int     `json:"required_level"` // capability level needed to work the target

	// Environment supplied effect parameters
	BaseHackTimeMs float64 `json:"base_hack_time_ms"` // hack duration at min security
	HackPerUnit    float64 `json:"hack_per_unit"`     // fraction of current money taken by one unit
	GrowthRate     float64 `json:"growth_rate"`       // money multiplier applied per unit (> 1)
}

// Duration returns how long op takes against the target at its current
// security level. Durations shrink as security approaches the floor.
func (t *Target) Duration(op Operation) time.Duration {
	ms := t.BaseHackTimeMs
	if t.MinSecurity > 0 && t.Security > t.MinSecurity {
		ms *= t.Security / t.MinSecurity
	}
	switch op {
	case OpGrow:
		ms *= growTimeFactor
	case OpWeaken:
		ms *= weakenTimeFactor
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// MoneyRatio is current money as a fraction of the ceiling.
func (t *Target) MoneyRatio() float64 {
	if t.MaxMoney <= 0 {
		return 0
	}
	return t.Money / t.MaxMoney
}

// HackUnitsFor returns the fractional unit count needed to take amount from
// the target. It is 0 when the target holds no money or cannot be hacked.
func (t *Target) HackUnitsFor(amount float64) float64 {
	if amount <= 0 || t.Money <= 0 || t.HackPerUnit <= 0 {
		return 0
	}
	perUnit := t.Money * t.HackPerUnit
	return amount / perUnit
}

// GrowUnitsFor returns the fractional unit count needed to multiply current
// money by multiplier.
func (t *Target) GrowUnitsFor(multiplier float64) float64 {
	if multiplier <= 1 || t.GrowthRate <= 1 {
		return 0
	}
	return math.Log(multiplier) / math.Log(t.GrowthRate)
}

// ApplyWeaken lowers security by units steps, never below the floor, and
// returns the reduction achieved.
func (t *Target) ApplyWeaken(units int) float64 {
	before := t.Security
	t.Security = math.Max(t.MinSecurity, t.Security-float64(units)*WeakenPerUnit)
	return before - t.Security
}

// ApplyHack takes money from the target and returns the amount taken.
func (t *Target) ApplyHack(units int) float64 {
	if units <= 0 {
		return 0
	}
	stolen := math.Min(t.Money, t.Money*t.HackPerUnit*float64(units))
	if stolen < 0 {
		stolen = 0
	}
	t.Money -= stolen
	t.Security += float64(units) * HackSecurityPerUnit
	return stolen
}

// ApplyGrow grows money toward the ceiling and returns the multiplier achieved.
func (t *Target) ApplyGrow(units int) float64 {
	if units <= 0 {
		return 1
	}
	before := t.Money
	grown := (t.Money + float64(units)) * math.Pow(math.Max(t.GrowthRate, 1), float64(units))
	t.Money = math.Min(t.MaxMoney, grown)
	t.Security += float64(units) * GrowSecurityPerUnit
	if before <= 0 {
		return t.Money
	}
	return t.Money / before
}
