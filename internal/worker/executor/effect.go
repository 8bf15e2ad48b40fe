package executor

import (
	"context"
	"fmt"
	"time"

	"grinder/internal/logging"
	"grinder/pkg/model"

	"go.uber.org/zap"
)

// TargetUpdater is the slice of the store the effect executor writes through.
type TargetUpdater interface {
	GetTarget(ctx context.Context, id string) (*model.Target, error)
	UpdateTarget(ctx context.Context, id string, fn func(t *model.Target) error) (*model.Target, error)
}

// EffectExecutor simulates an operation in-process: it waits the
// operation's duration, measured at start, then applies the effect to the
// stored target atomically.
type EffectExecutor struct {
	targets TargetUpdater
	log     *logging.Logger
	// Speed divides every operation duration; 1 is real time.
	Speed float64

	wait func(ctx context.Context, d time.Duration) error
}

func NewEffectExecutor(targets TargetUpdater, log *logging.Logger) *EffectExecutor {
	return &EffectExecutor{targets: targets, log: log.Named("effect"), Speed: 1, wait: sleep}
}

func (e *EffectExecutor) Run(ctx context.Context, d *model.Dispatch, p *model.Payload) (float64, error) {
	t, err := e.targets.GetTarget(ctx, d.TargetID)
	if err != nil {
		return 0, fmt.Errorf("read target %s: %w", d.TargetID, err)
	}
	dur := t.Duration(d.Op)
	if e.Speed > 0 {
		dur = time.Duration(float64(dur) / e.Speed)
	}
	e.log.Debug("[Effect] running", zap.String("op", string(d.Op)), zap.String("payload", p.Name),
		zap.String("target", d.TargetID), zap.Int("units", d.Units), zap.Duration("duration", dur))

	if err := e.wait(ctx, dur); err != nil {
		return 0, err
	}

	var value float64
	_, err = e.targets.UpdateTarget(ctx, d.TargetID, func(t *model.Target) error {
		switch d.Op {
		case model.OpWeaken:
			value = t.ApplyWeaken(d.Units)
		case model.OpHack:
			value = t.ApplyHack(d.Units)
		case model.OpGrow:
			value = t.ApplyGrow(d.Units)
		default:
			return fmt.Errorf("unknown operation %q", d.Op)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply %s to %s: %w", d.Op, d.TargetID, err)
	}
	return value, nil
}
