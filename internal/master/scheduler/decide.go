package scheduler

import (
	"context"
	"errors"
	"fmt"

	"grinder/pkg/model"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Decide picks the single operation for a target: weaken while security is
// above the buffer, grow while money is under the threshold, hack otherwise.
func Decide(t *model.Target, cfg Config) model.Operation {
	switch {
	case t.Security > t.MinSecurity+cfg.SecurityBuffer:
		return model.OpWeaken
	case t.Money < t.MaxMoney*cfg.MoneyThreshold:
		return model.OpGrow
	default:
		return model.OpHack
	}
}

// Prepared reports whether a target is ready for a full batch.
func Prepared(t *model.Target, cfg Config) bool {
	return t.Security <= t.MinSecurity+cfg.SecurityBuffer && t.Money >= t.MaxMoney*cfg.MoneyThreshold
}

func (c Config) ratio(op model.Operation) float64 {
	switch op {
	case model.OpWeaken:
		return c.Ratios.Weaken
	case model.OpGrow:
		return c.Ratios.Grow
	}
	return c.Ratios.Hack
}

// runSingle spends the op's ratio of the home node's free capacity on one
// dispatch. This trades exact convergence for throughput. When nothing fits
// it retries up to SimpleRetries times, waiting RetryDelay between tries.
func (s *Scheduler) runSingle(ctx context.Context, t *model.Target, op model.Operation) error {
	home := s.cfg.Home
	backoff := rate.NewLimiter(rate.Every(s.cfg.RetryDelay), 1)
	backoff.Allow() // start empty so the first retry waits a full delay

	s.log.Action(fmt.Sprintf("-> ACTION: %s %s", op, t.ID), zap.String("host", home))

	for attempt := 0; ; attempt++ {
		node, err := s.env.Node(ctx, home)
		if err != nil {
			return fmt.Errorf("read home node %s: %w", home, err)
		}
		if !node.Alive(s.dist.now(), s.cfg.NodeTimeout) {
			s.log.Warning(fmt.Sprintf("Home node %s is offline, cannot execute %s on %s", home, op, t.ID),
				zap.String("status", string(node.Status)))
			return nil
		}
		cost, err := s.env.UnitCost(ctx, home, op)
		if err != nil {
			return fmt.Errorf("unit cost of %s on %s: %w", op, home, err)
		}
		units, err := fitUnits(node, cost, s.cfg.ratio(op))
		if err != nil {
			return err
		}

		if units > 0 {
			req := Request{Op: op, Units: units, TargetID: t.ID}
			disp, err := s.dist.launch(ctx, req, home, units, cost)
			if errors.Is(err, ErrNoCapacity) {
				s.metrics.ShortfallUnits.WithLabelValues(string(op)).Add(float64(units))
				s.log.Warning(fmt.Sprintf("Not enough capacity to execute %s on %s", op, t.ID),
					zap.String("host", home), zap.Error(err))
				return nil
			}
			if err != nil {
				s.metrics.DispatchFailures.WithLabelValues(string(op)).Inc()
				s.log.Error(fmt.Sprintf("Failed to execute %s on %s", op, t.ID), zap.Error(err))
				return nil
			}
			s.metrics.UnitsDispatched.WithLabelValues(string(op)).Add(float64(units))
			s.log.Info(fmt.Sprintf("Executing %s on %s with %d units", op, t.ID, units),
				zap.String("dispatch", disp.ID), zap.Int64("handle", disp.Handle))
			return nil
		}

		s.log.Warning(fmt.Sprintf("Not enough capacity to execute %s on %s", op, t.ID),
			zap.String("host", home), zap.Float64("free", node.Free()))
		if attempt >= s.cfg.SimpleRetries {
			s.metrics.ShortfallUnits.WithLabelValues(string(op)).Inc()
			return nil
		}
		s.log.Warning(fmt.Sprintf("Waiting for available capacity to execute %s on %s", op, t.ID),
			zap.Int("attempt", attempt+1))
		if err := backoff.Wait(ctx); err != nil {
			return err
		}
	}
}
