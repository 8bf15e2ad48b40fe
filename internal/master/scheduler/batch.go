package scheduler

import (
	"context"
	"fmt"
	"time"

	"grinder/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Step positions inside a batch, in dispatch order.
const (
	stepWeaken = iota
	stepHack
	stepGrow
	stepCompensate
)

// BatchReport is the outcome of one RunBatch call.
type BatchReport struct {
	Batch         model.Batch
	Shift         time.Duration // added to every delay when a raw delay was negative
	Distributions []*Distribution
}

// PlanBatch computes the four steps and their start delays:
//
//	weaken1 = 0
//	hack    = W - H - 3*spacing
//	grow    = W - G - 2*spacing
//	weaken2 = spacing
//
// so hack lands first, then grow, then the two weakens, all within
// 4*spacing of each other. If any delay comes out negative the whole batch
// is pushed back by that amount instead of dispatching a negative wait.
func PlanBatch(t *model.Target, hackUnits, growUnits, weakenUnits int, spacing time.Duration) (model.Batch, time.Duration) {
	w := t.Duration(model.OpWeaken)
	g := t.Duration(model.OpGrow)
	h := t.Duration(model.OpHack)

	b := model.Batch{TargetID: t.ID}
	b.Steps[stepWeaken] = model.BatchStep{Op: model.OpWeaken, Units: weakenUnits, Delay: 0, Duration: w}
	b.Steps[stepHack] = model.BatchStep{Op: model.OpHack, Units: hackUnits, Delay: w - h - 3*spacing, Duration: h}
	b.Steps[stepGrow] = model.BatchStep{Op: model.OpGrow, Units: growUnits, Delay: w - g - 2*spacing, Duration: g}
	b.Steps[stepCompensate] = model.BatchStep{
		Op:       model.OpWeaken,
		Units:    CompensatingWeaken(hackUnits, growUnits),
		Delay:    spacing,
		Duration: w,
	}

	var shift time.Duration
	for _, s := range b.Steps {
		if -s.Delay > shift {
			shift = -s.Delay
		}
	}
	if shift > 0 {
		for i := range b.Steps {
			b.Steps[i].Delay += shift
		}
	}
	return b, shift
}

// RunBatch plans a batch against t and distributes each step in order,
// waiting for each step's staging and dispatch before the next. Remote
// completion order comes only from the delays.
func (s *Scheduler) RunBatch(ctx context.Context, t *model.Target, nodes []string) (*BatchReport, error) {
	weaken, err := WeakenUnits(t)
	if err != nil {
		return nil, err
	}
	hack, err := s.calc.HackUnits(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("hack units for %s: %w", t.ID, err)
	}
	grow, err := s.calc.GrowUnits(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("grow units for %s: %w", t.ID, err)
	}

	batch, shift := PlanBatch(t, hack, grow, weaken, s.cfg.BatchSpacing)
	batch.ID = uuid.New().String()
	report := &BatchReport{Batch: batch, Shift: shift}
	if shift > 0 {
		s.log.Warning("[Batch] negative delay, pushing batch back",
			zap.String("target", t.ID), zap.Duration("shift", shift))
	}

	s.log.Action(fmt.Sprintf("[BATCH STARTED] Target: %s | Servers: %d", t.ID, len(nodes)),
		zap.String("batch", batch.ID),
		zap.Int("weaken", weaken), zap.Int("hack", hack), zap.Int("grow", grow),
		zap.Int("compensate", batch.Steps[stepCompensate].Units))
	s.metrics.Batches.Inc()

	for _, step := range batch.Steps {
		if step.Units <= 0 {
			s.log.Debug("[Batch] nothing to do for step", zap.String("op", string(step.Op)), zap.String("target", t.ID))
			continue
		}
		dist := s.dist.Distribute(ctx, Request{
			Op:       step.Op,
			Units:    step.Units,
			TargetID: t.ID,
			Delay:    step.Delay,
			BatchID:  batch.ID,
		}, nodes)
		report.Distributions = append(report.Distributions, dist)
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	s.log.Success(fmt.Sprintf("[ACTIONED] Batch executed on %s", t.ID), zap.String("batch", batch.ID))
	return report, nil
}
