package scheduler

import (
	"math"
	"testing"

	"grinder/internal/logging"

	"gotest.tools/v3/assert"
)

func ids(ranked []Ranked) []string {
	out := make([]string, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Target.ID)
	}
	return out
}

func TestRankFiltersIneligible(t *testing.T) {
	ok := preparedTarget("ok")
	tooHard := preparedTarget("too-hard")
	tooHard.RequiredLevel = 500
	broke := preparedTarget("broke")
	broke.MaxMoney = 0
	mine := preparedTarget("pserv-0")
	locked := preparedTarget("locked")

	cands := []Candidate{
		{Target: ok, HasAccess: true},
		{Target: tooHard, HasAccess: true},
		{Target: broke, HasAccess: true},
		{Target: mine, HasAccess: true, Owned: true},
		{Target: locked, HasAccess: false},
	}
	ranked := NewRanker(logging.NewNop()).Rank(cands, 100)
	assert.DeepEqual(t, ids(ranked), []string{"ok"})
}

func TestRankOrdersByScore(t *testing.T) {
	small := preparedTarget("small")
	small.MaxMoney = 1_000
	big := preparedTarget("big")
	big.MaxMoney = 1_000_000
	slow := preparedTarget("slow")
	slow.MaxMoney = 1_000_000
	slow.BaseHackTimeMs = 60_000

	cands := []Candidate{{Target: small, HasAccess: true}, {Target: slow, HasAccess: true}, {Target: big, HasAccess: true}}
	ranked := NewRanker(logging.NewNop()).Rank(cands, 100)
	assert.DeepEqual(t, ids(ranked), []string{"big", "slow", "small"})
	for i := 1; i < len(ranked); i++ {
		assert.Assert(t, ranked[i-1].Score >= ranked[i].Score)
	}
}

func TestRankTiesKeepEnumerationOrder(t *testing.T) {
	a, b, c := preparedTarget("a"), preparedTarget("b"), preparedTarget("c")
	r := NewRanker(logging.NewNop())

	ranked := r.Rank([]Candidate{{Target: a, HasAccess: true}, {Target: b, HasAccess: true}, {Target: c, HasAccess: true}}, 100)
	assert.DeepEqual(t, ids(ranked), []string{"a", "b", "c"})

	ranked = r.Rank([]Candidate{{Target: c, HasAccess: true}, {Target: a, HasAccess: true}, {Target: b, HasAccess: true}}, 100)
	assert.DeepEqual(t, ids(ranked), []string{"c", "a", "b"})
}

func TestScoreGuardsZeroLevelFactor(t *testing.T) {
	tg := preparedTarget("t")
	tg.RequiredLevel = 10

	// |10 + 2 - 12| = 0, log2(0) = -Inf
	s := Score(tg, 12)
	assert.Assert(t, !math.IsInf(s, 0) && !math.IsNaN(s))
	assert.Assert(t, s > 0)

	// |10 + 2 - 11| = 1, log2(1) = 0
	s = Score(tg, 11)
	assert.Assert(t, !math.IsInf(s, 0) && !math.IsNaN(s))
	assert.Assert(t, s > 0)

	tg.MinSecurity = 0
	s = Score(tg, 50)
	assert.Assert(t, !math.IsInf(s, 0) && !math.IsNaN(s))
}

func TestScoreFormula(t *testing.T) {
	tg := preparedTarget("t")
	tg.MaxMoney = 1_000_000
	tg.RequiredLevel = 14 // |14 + 2 - 8| = 8, log2 = 3
	got := Score(tg, 8)
	want := 1_000_000 / (5 * 3 * 1000.0)
	assert.Assert(t, math.Abs(got-want) < 1e-9, "got %v want %v", got, want)
}
