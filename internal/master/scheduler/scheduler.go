package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grinder/internal/logging"
	"grinder/internal/metrics"
	"grinder/pkg/model"

	"go.uber.org/zap"
)

// Scheduler is the control loop: rank targets, then batch or run single
// operations against each one, forever.
type Scheduler struct {
	env     Environment
	cfg     Config
	log     *logging.Logger
	metrics *metrics.Metrics

	calc   *Calculator
	ranker *Ranker
	dist   *Distributor

	mu      sync.RWMutex
	ranking []Ranked
}

func NewScheduler(env Environment, cfg Config, log *logging.Logger, m *metrics.Metrics) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	log = log.Named("scheduler")
	return &Scheduler{
		env:     env,
		cfg:     cfg,
		log:     log,
		metrics: m,
		calc:    NewCalculator(env, cfg),
		ranker:  NewRanker(log),
		dist:    NewDistributor(env, cfg, log, m),
	}, nil
}

// Run loops until ctx is cancelled. Failures inside an iteration are logged
// and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("[Scheduler] Started", zap.String("mode", string(s.cfg.Mode)), zap.String("home", s.cfg.Home))

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.metrics.CollaboratorErrs.Inc()
			s.log.Error("[Scheduler] iteration failed", zap.Error(err))
		}
		if err := sleep(ctx, s.cfg.IterationDelay); err != nil {
			s.log.Info("[Scheduler] Stopped.")
			return
		}
	}
}

// Ranking returns the target order computed by the latest iteration.
func (s *Scheduler) Ranking() []Ranked {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Ranked, len(s.ranking))
	copy(out, s.ranking)
	return out
}

// iterationView is everything refreshed at the top of an iteration.
type iterationView struct {
	actorLevel int
	candidates []Candidate
	workers    []string
}

// RunOnce performs a single iteration.
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	defer s.recoverInto(&err, "iteration")
	s.metrics.Iterations.Inc()

	// 1. snapshot the world
	view, err := s.refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	// 2. rank candidates
	ranked := s.ranker.Rank(view.candidates, view.actorLevel)
	s.mu.Lock()
	s.ranking = ranked
	s.mu.Unlock()

	if len(ranked) == 0 {
		s.log.Warning("[Scheduler] No eligible targets found. Sleeping...")
		return sleep(ctx, s.cfg.IdleDelay)
	}

	// 3. one decision per target, best first
	for _, r := range ranked {
		if err := s.processTarget(ctx, r.Target.ID, view.workers); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.metrics.CollaboratorErrs.Inc()
			s.log.Error("[Scheduler] target failed", zap.String("target", r.Target.ID), zap.Error(err))
		}
		if err := sleep(ctx, s.cfg.TargetDelay); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) refresh(ctx context.Context) (*iterationView, error) {
	// 1. retire nodes whose agent went quiet
	offline, err := s.env.MarkStale(ctx, s.cfg.NodeTimeout)
	if err != nil {
		s.log.Error("[Scheduler] liveness sweep failed", zap.Error(err))
	}
	for _, id := range offline {
		s.log.Warning("[Scheduler] node went offline", zap.String("node", id), zap.Duration("timeout", s.cfg.NodeTimeout))
	}

	// 2. discovery and actor profile
	ids, err := s.env.ListAllNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	level, err := s.env.ActorLevel(ctx)
	if err != nil {
		return nil, fmt.Errorf("actor level: %w", err)
	}
	owned, err := s.env.OwnedNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("owned nodes: %w", err)
	}
	ownedSet := map[string]bool{s.cfg.Home: true}
	for _, id := range owned {
		ownedSet[id] = true
	}

	// 3. per node: worker eligibility and target candidacy
	view := &iterationView{actorLevel: level, workers: []string{s.cfg.Home}}
	seen := map[string]bool{s.cfg.Home: true}
	for _, id := range ids {
		if err := s.inspect(ctx, id, view, seen, ownedSet[id]); err != nil {
			s.metrics.CollaboratorErrs.Inc()
			s.log.Error("[Scheduler] failed to read node", zap.String("node", id), zap.Error(err))
		}
	}
	return view, nil
}

// inspect adds id to the view as a worker and/or a target candidate. A
// failing or panicking read only drops this node for the iteration.
func (s *Scheduler) inspect(ctx context.Context, id string, view *iterationView, seen map[string]bool, owned bool) (err error) {
	defer s.recoverInto(&err, "node "+id)

	access, err := s.env.HasAccess(ctx, id)
	if err != nil {
		return fmt.Errorf("access check: %w", err)
	}
	if access && !seen[id] {
		required, err := s.env.RequiredLevel(ctx, id)
		if err != nil {
			s.log.Error("[Scheduler] level lookup failed", zap.String("node", id), zap.Error(err))
		} else if required <= view.actorLevel {
			view.workers = append(view.workers, id)
			seen[id] = true
		}
	}

	t, err := s.env.Target(ctx, id)
	if err != nil {
		return fmt.Errorf("read target: %w", err)
	}
	if t != nil {
		view.candidates = append(view.candidates, Candidate{Target: t, HasAccess: access, Owned: owned})
	}
	return nil
}

// processTarget re-reads the target and acts on it per the configured mode.
func (s *Scheduler) processTarget(ctx context.Context, id string, workers []string) (err error) {
	defer s.recoverInto(&err, "target "+id)

	t, err := s.env.Target(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	if !(t.MaxMoney > 0) {
		s.skip(t, "unworkable", "[SKIPPED] max money is zero")
		return nil
	}
	s.logStatus(t)

	switch s.cfg.Mode {
	case ModeSimple:
		if t.Money <= 0 {
			s.skip(t, "no-money", "[SKIPPED] current money is zero")
			return nil
		}
		err = s.runSingle(ctx, t, Decide(t, s.cfg))
	case ModeBatch:
		if !Prepared(t, s.cfg) {
			s.skip(t, "not-prepared", fmt.Sprintf("[SKIPPED] %s | Security: %.2f | Money: %.2f%%", t.ID, t.Security, t.MoneyRatio()*100))
			return nil
		}
		_, err = s.RunBatch(ctx, t, workers)
	case ModeHybrid:
		if Prepared(t, s.cfg) {
			_, err = s.RunBatch(ctx, t, workers)
		} else {
			err = s.runSingle(ctx, t, Decide(t, s.cfg))
		}
	}

	if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrInvalidCost) {
		s.skip(t, "unworkable", "[SKIPPED] target currently unworkable: "+err.Error())
		return nil
	}
	return err
}

func (s *Scheduler) skip(t *model.Target, reason, msg string) {
	s.metrics.Skipped.WithLabelValues(reason).Inc()
	s.log.Info(msg, zap.String("target", t.ID))
}

func (s *Scheduler) logStatus(t *model.Target) {
	s.log.Debug(fmt.Sprintf("----- Target: %s -----", t.ID),
		zap.String("security", fmt.Sprintf("%.2f (Min: %.2f, Buffer: +%v)", t.Security, t.MinSecurity, s.cfg.SecurityBuffer)),
		zap.String("money", fmt.Sprintf("$%.0f / $%.0f (%.2f%%)", t.Money, t.MaxMoney, t.MoneyRatio()*100)),
		zap.String("host", s.cfg.Home))
}

// recoverInto turns a collaborator panic into an error at the scope boundary.
func (s *Scheduler) recoverInto(err *error, scope string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic in %s: %v", scope, r)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
