package scheduler

import (
	"context"
	"testing"

	"grinder/pkg/model"

	"gotest.tools/v3/assert"
)

func TestDecide(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityBuffer = 3
	cfg.MoneyThreshold = 0.75

	cases := []struct {
		name     string
		security float64
		money    float64
		want     model.Operation
	}{
		{name: "security above buffer", security: 10, money: 1_000_000, want: model.OpWeaken},
		{name: "money under threshold", security: 6, money: 500_000, want: model.OpGrow},
		{name: "ready to hack", security: 6, money: 900_000, want: model.OpHack},
		{name: "exactly on buffer", security: 8, money: 750_000, want: model.OpHack},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tg := &model.Target{ID: "t", Security: tc.security, MinSecurity: 5, Money: tc.money, MaxMoney: 1_000_000}
			assert.Equal(t, Decide(tg, cfg), tc.want)
			assert.Equal(t, Prepared(tg, cfg), tc.want == model.OpHack)
		})
	}
}

func TestRunSingleUsesRatioOfHome(t *testing.T) {
	env := newFakeEnv()
	env.addNode("home", 100, 0)
	env.addNode("n1", 100, 0)
	tg := preparedTarget("t")
	env.addTarget(tg)
	cfg := testConfig()
	cfg.Mode = ModeSimple
	s, _ := newTestScheduler(t, env, cfg)

	assert.NilError(t, s.runSingle(context.Background(), tg, model.OpWeaken))
	assert.NilError(t, s.runSingle(context.Background(), tg, model.OpHack))

	got := env.dispatches()
	assert.Equal(t, len(got), 2)
	assert.Equal(t, got[0].NodeID, "home")
	assert.Equal(t, got[0].Units, 40) // 40% of 100 free
	assert.Equal(t, got[1].Op, model.OpHack)
	assert.Equal(t, got[1].Units, 6) // 10% of the 60 left
}

func TestRunSingleRetriesThenGivesUp(t *testing.T) {
	env := newFakeEnv()
	env.addNode("home", 100, 100)
	tg := preparedTarget("t")
	env.addTarget(tg)
	cfg := testConfig()
	cfg.SimpleRetries = 2
	s, logs := newTestScheduler(t, env, cfg)

	assert.NilError(t, s.runSingle(context.Background(), tg, model.OpGrow))
	assert.Equal(t, len(env.dispatches()), 0)
	assert.Equal(t, logs.FilterMessageSnippet("Not enough capacity").Len(), 3)
	assert.Equal(t, logs.FilterMessageSnippet("Waiting for available capacity").Len(), 2)
}

func TestRunSingleStopsOnCancel(t *testing.T) {
	env := newFakeEnv()
	env.addNode("home", 100, 100)
	tg := preparedTarget("t")
	env.addTarget(tg)
	cfg := testConfig()
	cfg.SimpleRetries = 1000
	s, _ := newTestScheduler(t, env, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Assert(t, s.runSingle(ctx, tg, model.OpGrow) != nil)
}
