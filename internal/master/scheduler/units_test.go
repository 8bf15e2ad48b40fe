package scheduler

import (
	"context"
	"errors"
	"testing"

	"grinder/pkg/model"

	"gotest.tools/v3/assert"
)

func TestWeakenUnitsBracket(t *testing.T) {
	const r = model.WeakenPerUnit
	for _, sec := range []float64{5.01, 5.05, 5.5, 7.33, 10, 42.7, 99.99} {
		tg := &model.Target{ID: "t", Security: sec, MinSecurity: 5}
		units, err := WeakenUnits(tg)
		assert.NilError(t, err)

		// units carries one unit of margin on top of the exact count
		exact := units - 1
		assert.Assert(t, 5+float64(exact-1)*r < sec, "sec=%v units=%d", sec, units)
		assert.Assert(t, sec <= 5+float64(exact)*r+1e-9, "sec=%v units=%d", sec, units)
	}
}

func TestWeakenUnitsAtFloor(t *testing.T) {
	units, err := WeakenUnits(&model.Target{ID: "t", Security: 5, MinSecurity: 5})
	assert.NilError(t, err)
	assert.Equal(t, units, 1)
}

func TestHackUnits(t *testing.T) {
	env := newFakeEnv()
	tg := preparedTarget("t")
	env.addTarget(tg)
	calc := NewCalculator(env, DefaultConfig())

	units, err := calc.HackUnits(context.Background(), tg)
	assert.NilError(t, err)
	assert.Equal(t, units, 12)

	empty := *tg
	empty.Money = 0
	units, err = calc.HackUnits(context.Background(), &empty)
	assert.NilError(t, err)
	assert.Equal(t, units, 0)
}

func TestGrowUnits(t *testing.T) {
	env := newFakeEnv()
	tg := preparedTarget("t")
	env.addTarget(tg)
	calc := NewCalculator(env, DefaultConfig())
	ctx := context.Background()

	units, err := calc.GrowUnits(ctx, tg)
	assert.NilError(t, err)
	assert.Equal(t, units, 2)

	// empty target uses the floor of 1 instead of dividing by zero
	empty := *tg
	empty.Money = 0
	units, err = calc.GrowUnits(ctx, &empty)
	assert.NilError(t, err)
	assert.Equal(t, units, 20) // log2(2^20)

	broken := *tg
	broken.MaxMoney = 0
	_, err = calc.GrowUnits(ctx, &broken)
	assert.Assert(t, errors.Is(err, ErrInvalidState))
}

func TestCompensatingWeaken(t *testing.T) {
	cases := []struct{ hack, grow, want int }{
		{0, 0, 0},
		{25, 0, 1},
		{0, 25, 2},
		{1, 1, 1},
		{12, 2, 1},
		{100, 100, 12},
	}
	for _, tc := range cases {
		assert.Equal(t, CompensatingWeaken(tc.hack, tc.grow), tc.want, "hack=%d grow=%d", tc.hack, tc.grow)
	}
}

func TestUnitsIsPure(t *testing.T) {
	env := newFakeEnv()
	tg := preparedTarget("t")
	tg.Security = 9.3
	tg.Money = 300_000
	env.addTarget(tg)
	calc := NewCalculator(env, DefaultConfig())
	before := *tg

	for _, op := range model.Operations {
		first, err := calc.Units(context.Background(), tg, op)
		assert.NilError(t, err)
		second, err := calc.Units(context.Background(), tg, op)
		assert.NilError(t, err)
		assert.Equal(t, first, second, "op=%s", op)
	}
	assert.DeepEqual(t, *tg, before)

	_, err := calc.Units(context.Background(), tg, model.Operation("share"))
	assert.ErrorContains(t, err, "unknown operation")
}
