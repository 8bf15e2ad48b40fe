package environment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grinder/internal/master/discovery"
	"grinder/internal/master/scheduler"
	"grinder/pkg/model"
	"grinder/pkg/store"

	"go.uber.org/multierr"
)

// Config is the static part of the environment: where discovery starts and
// which payload runs each operation.
type Config struct {
	Home     string
	Payloads map[model.Operation]model.Payload
}

// Environment serves the scheduler's collaborator interfaces from a Store.
type Environment struct {
	store store.Store
	cfg   Config
}

var _ scheduler.Environment = (*Environment)(nil)

func New(s store.Store, cfg Config) (*Environment, error) {
	if cfg.Home == "" {
		return nil, errors.New("environment: home node is required")
	}
	for _, op := range model.Operations {
		p, ok := cfg.Payloads[op]
		if !ok {
			return nil, fmt.Errorf("environment: no payload for %s", op)
		}
		if !(p.Cost > 0) {
			return nil, fmt.Errorf("environment: payload %s has cost %v", op, p.Cost)
		}
	}
	return &Environment{store: s, cfg: cfg}, nil
}

func (e *Environment) ListAllNodes(ctx context.Context) ([]string, error) {
	return discovery.Scan(ctx, e.cfg.Home, func(ctx context.Context, id string) ([]string, error) {
		n, err := e.store.GetNode(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return n.Neighbors, nil
	})
}

func (e *Environment) HasAccess(ctx context.Context, id string) (bool, error) {
	n, err := e.store.GetNode(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n.RootAccess, nil
}

func (e *Environment) RequiredLevel(ctx context.Context, id string) (int, error) {
	n, err := e.store.GetNode(ctx, id)
	if err != nil {
		return 0, err
	}
	return n.RequiredLevel, nil
}

func (e *Environment) ActorLevel(ctx context.Context) (int, error) {
	a, err := e.store.GetActor(ctx)
	if err != nil {
		return 0, err
	}
	return a.Level, nil
}

func (e *Environment) OwnedNodes(ctx context.Context) ([]string, error) {
	a, err := e.store.GetActor(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a.Owned, nil
}

func (e *Environment) Target(ctx context.Context, id string) (*model.Target, error) {
	t, err := e.store.GetTarget(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return t, err
}

func (e *Environment) HackUnits(ctx context.Context, id string, amount float64) (float64, error) {
	t, err := e.store.GetTarget(ctx, id)
	if err != nil {
		return 0, err
	}
	return t.HackUnitsFor(amount), nil
}

func (e *Environment) GrowUnits(ctx context.Context, id string, multiplier float64) (float64, error) {
	t, err := e.store.GetTarget(ctx, id)
	if err != nil {
		return 0, err
	}
	return t.GrowUnitsFor(multiplier), nil
}

func (e *Environment) Node(ctx context.Context, id string) (*model.Node, error) {
	return e.store.GetNode(ctx, id)
}

// UnitCost prefers the node's own override over the configured payload cost.
func (e *Environment) UnitCost(ctx context.Context, nodeID string, op model.Operation) (float64, error) {
	n, err := e.store.GetNode(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	if c, ok := n.UnitCosts[op]; ok {
		return c, nil
	}
	p, ok := e.cfg.Payloads[op]
	if !ok {
		return 0, fmt.Errorf("no payload for %s", op)
	}
	return p.Cost, nil
}

func (e *Environment) Stage(ctx context.Context, op model.Operation, nodeID string) error {
	p, ok := e.cfg.Payloads[op]
	if !ok {
		return fmt.Errorf("no payload for %s", op)
	}
	p.Op = op
	return e.store.StagePayload(ctx, nodeID, &p)
}

func (e *Environment) Dispatch(ctx context.Context, d *model.Dispatch) (int64, error) {
	h, err := e.store.CreateDispatch(ctx, d)
	if errors.Is(err, store.ErrInsufficientCapacity) {
		return 0, fmt.Errorf("%w: %w", scheduler.ErrNoCapacity, err)
	}
	return h, err
}

// MarkStale flips READY nodes whose heartbeat is older than timeout to
// OFFLINE. The check is repeated inside the update so a heartbeat that
// lands concurrently wins.
func (e *Environment) MarkStale(ctx context.Context, timeout time.Duration) ([]string, error) {
	nodes, err := e.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var stale []string
	var errs error
	for _, n := range nodes {
		if n.Status != model.NodeReady || n.Alive(now, timeout) {
			continue
		}
		marked := false
		_, err := e.store.UpdateNode(ctx, n.ID, func(n *model.Node) error {
			marked = n.Status == model.NodeReady && !n.Alive(now, timeout)
			if marked {
				n.Status = model.NodeOffline
			}
			return nil
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("node %s: %w", n.ID, err))
			continue
		}
		if marked {
			stale = append(stale, n.ID)
		}
	}
	return stale, errs
}

// Seed writes the actor, nodes and targets in one pass. Failures are
// collected so a partial seed reports every bad record.
func Seed(ctx context.Context, s store.Store, actor *model.Actor, nodes []*model.Node, targets []*model.Target) error {
	var errs error
	if actor != nil {
		errs = multierr.Append(errs, s.PutActor(ctx, actor))
	}
	for _, n := range nodes {
		if err := s.RegisterNode(ctx, n); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("node %s: %w", n.ID, err))
		}
	}
	for _, t := range targets {
		if err := s.PutTarget(ctx, t); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("target %s: %w", t.ID, err))
		}
	}
	return errs
}
