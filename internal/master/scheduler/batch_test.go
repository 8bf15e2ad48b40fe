package scheduler

import (
	"context"
	"testing"
	"time"

	"grinder/pkg/model"

	"gotest.tools/v3/assert"
)

func TestPlanBatchDelays(t *testing.T) {
	tg := preparedTarget("t") // hack 1s, grow 3.2s, weaken 4s
	spacing := 200 * time.Millisecond

	b, shift := PlanBatch(tg, 12, 2, 1, spacing)
	assert.Equal(t, shift, time.Duration(0))

	assert.Equal(t, b.Steps[0].Op, model.OpWeaken)
	assert.Equal(t, b.Steps[0].Delay, time.Duration(0))
	assert.Equal(t, b.Steps[1].Op, model.OpHack)
	assert.Equal(t, b.Steps[1].Delay, 2400*time.Millisecond)
	assert.Equal(t, b.Steps[2].Op, model.OpGrow)
	assert.Equal(t, b.Steps[2].Delay, 400*time.Millisecond)
	assert.Equal(t, b.Steps[3].Op, model.OpWeaken)
	assert.Equal(t, b.Steps[3].Delay, spacing)
	assert.Equal(t, b.Steps[3].Units, 1)

	// hack lands first, then grow, then both weakens
	assert.Assert(t, b.Steps[1].Completion() < b.Steps[2].Completion())
	assert.Assert(t, b.Steps[2].Completion() < b.Steps[0].Completion())
	assert.Assert(t, b.Steps[0].Completion() < b.Steps[3].Completion())
	assert.Equal(t, b.Spread(), 4*spacing)
}

func TestPlanBatchShiftsNegativeDelays(t *testing.T) {
	tg := preparedTarget("t")
	spacing := 2 * time.Second

	b, shift := PlanBatch(tg, 12, 2, 1, spacing)
	assert.Equal(t, shift, 3200*time.Millisecond)
	for _, s := range b.Steps {
		assert.Assert(t, s.Delay >= 0, "%s delay %s", s.Op, s.Delay)
	}
	assert.Equal(t, b.Spread(), 4*spacing)
	assert.Assert(t, b.Steps[1].Completion() < b.Steps[2].Completion())
}

func TestPlanBatchNeverNegative(t *testing.T) {
	for _, base := range []float64{1, 50, 900, 12_000, 250_000} {
		for _, sec := range []float64{5, 7.5, 30} {
			for _, spacing := range []time.Duration{time.Millisecond, 50 * time.Millisecond, 200 * time.Millisecond, 5 * time.Second} {
				tg := preparedTarget("t")
				tg.BaseHackTimeMs = base
				tg.Security = sec
				b, _ := PlanBatch(tg, 10, 10, 10, spacing)
				for _, s := range b.Steps {
					assert.Assert(t, s.Delay >= 0)
				}
				assert.Assert(t, b.Spread() <= 4*spacing, "base=%v sec=%v spacing=%s spread=%s", base, sec, spacing, b.Spread())
			}
		}
	}
}

func TestRunBatchDispatchesInOrder(t *testing.T) {
	env := newFakeEnv()
	env.addNode("home", 1000, 0)
	env.addNode("n1", 1000, 0)
	tg := preparedTarget("joesguns")
	env.addTarget(tg)
	s, logs := newTestScheduler(t, env, testConfig())

	report, err := s.RunBatch(context.Background(), tg, []string{"home", "n1"})
	assert.NilError(t, err)
	assert.Equal(t, len(report.Distributions), 4)

	got := env.dispatches()
	assert.Equal(t, len(got), 4)
	wantOps := []model.Operation{model.OpWeaken, model.OpHack, model.OpGrow, model.OpWeaken}
	wantUnits := []int{1, 12, 2, 1}
	for i, d := range got {
		assert.Equal(t, d.Op, wantOps[i])
		assert.Equal(t, d.Units, wantUnits[i])
		assert.Equal(t, d.NodeID, "home")
		assert.Equal(t, d.BatchID, report.Batch.ID)
		assert.Equal(t, d.Delay, report.Batch.Steps[i].Delay)
		assert.Equal(t, d.TargetID, "joesguns")
	}
	assert.Equal(t, logs.FilterMessageSnippet("[BATCH STARTED]").Len(), 1)
	assert.Equal(t, logs.FilterMessageSnippet("[ACTIONED]").Len(), 1)
}

func TestRunBatchSkipsEmptySteps(t *testing.T) {
	env := newFakeEnv()
	env.addNode("home", 1000, 0)
	tg := preparedTarget("t")
	tg.Money = 0 // nothing to hack
	env.addTarget(tg)
	s, _ := newTestScheduler(t, env, testConfig())

	report, err := s.RunBatch(context.Background(), tg, []string{"home"})
	assert.NilError(t, err)
	for _, d := range env.dispatches() {
		assert.Assert(t, d.Op != model.OpHack)
	}
	assert.Equal(t, report.Batch.Steps[1].Units, 0)
}
