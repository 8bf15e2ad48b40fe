package scheduler

import (
	"math"
	"sort"
	"time"

	"grinder/internal/logging"
	"grinder/pkg/model"

	"go.uber.org/zap"
)

// scoreEpsilon replaces a zero or invalid denominator term in Score.
const scoreEpsilon = 1e-6

// Candidate is a target as seen by the ranker for one iteration.
type Candidate struct {
	Target    *model.Target
	HasAccess bool
	Owned     bool
}

// Ranked is an eligible target with its profitability score.
type Ranked struct {
	Target *model.Target `json:"target"`
	Score  float64       `json:"score"`
}

type Ranker struct {
	log *logging.Logger
}

func NewRanker(log *logging.Logger) *Ranker {
	return &Ranker{log: log}
}

// Rank filters out ineligible candidates and orders the rest by descending
// score. Equal scores keep their enumeration order. The score is a
// heuristic; the only promise is that a higher score sorts earlier.
func (r *Ranker) Rank(cands []Candidate, actorLevel int) []Ranked {
	ranked := make([]Ranked, 0, len(cands))
	for _, c := range cands {
		if !r.eligible(c, actorLevel) {
			continue
		}
		ranked = append(ranked, Ranked{Target: c.Target, Score: Score(c.Target, actorLevel)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// eligible runs the hard checks, same spirit as a node filter predicate.
func (r *Ranker) eligible(c Candidate, actorLevel int) bool {
	t := c.Target
	switch {
	case c.Owned:
		return false
	case !c.HasAccess:
		r.log.Debug("[Rank] skipping target: no access", zap.String("target", t.ID))
		return false
	case t.RequiredLevel > actorLevel:
		r.log.Info("[Rank] skipping target: level too low",
			zap.String("target", t.ID), zap.Int("required", t.RequiredLevel), zap.Int("actor", actorLevel))
		return false
	case !(t.MaxMoney > 0):
		r.log.Info("[Rank] skipping target: max money is zero", zap.String("target", t.ID))
		return false
	}
	return true
}

// Score is maxMoney / (minSecurity * levelFactor * hackDuration) with
// levelFactor = log2(|required + 2 - actor|). Zero or invalid factors are
// replaced by scoreEpsilon so the result is always finite.
func Score(t *model.Target, actorLevel int) float64 {
	levelFactor := guard(math.Log2(math.Abs(float64(t.RequiredLevel + 2 - actorLevel))))
	minSec := guard(t.MinSecurity)
	hackMs := guard(float64(t.Duration(model.OpHack)) / float64(time.Millisecond))

	score := t.MaxMoney / (minSec * levelFactor * hackMs)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}

func guard(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return scoreEpsilon
	}
	return v
}
