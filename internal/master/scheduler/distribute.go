package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"grinder/internal/logging"
	"grinder/internal/metrics"
	"grinder/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrNoCapacity is reported by Execution when the node no longer has
	// room for the dispatch.
	ErrNoCapacity = errors.New("node out of capacity")
)

// Request asks for Units of Op against TargetID, starting after Delay.
type Request struct {
	Op       model.Operation
	Units    int
	TargetID string
	Delay    time.Duration
	BatchID  string
}

// Distribution records where a request's units went.
type Distribution struct {
	Request    Request
	Allocated  int
	Shortfall  int // units with no capacity left for them
	Abandoned  int // units dropped after a dispatch failure
	Dispatches []*model.Dispatch
}

type distributorEnv interface {
	CapacityState
	Execution
}

type Distributor struct {
	env     distributorEnv
	home    string
	order   NodeOrder
	timeout time.Duration
	now     func() time.Time
	log     *logging.Logger
	metrics *metrics.Metrics
}

func NewDistributor(env Environment, cfg Config, log *logging.Logger, m *metrics.Metrics) *Distributor {
	return &Distributor{
		env:     env,
		home:    cfg.Home,
		order:   cfg.NodeOrder,
		timeout: cfg.NodeTimeout,
		now:     time.Now,
		log:     log,
		metrics: m,
	}
}

// Distribute spreads req.Units greedily over nodes, one dispatch per node
// that receives a share. Node capacity is read fresh on every call. Units
// that do not fit are reported as a shortfall and left for the next
// iteration; a failed dispatch abandons the rest of the request.
func (d *Distributor) Distribute(ctx context.Context, req Request, nodeIDs []string) *Distribution {
	out := &Distribution{Request: req}
	remaining := req.Units
	if remaining <= 0 {
		return out
	}

	for _, node := range d.orderNodes(d.snapshot(ctx, nodeIDs)) {
		if remaining <= 0 {
			break
		}
		if ctx.Err() != nil {
			break
		}

		cost, err := d.env.UnitCost(ctx, node.ID, req.Op)
		if err != nil {
			d.log.Error("[Distribute] unit cost lookup failed", zap.String("node", node.ID), zap.Error(err))
			continue
		}
		available, err := MaxUnits(node, cost)
		if err != nil {
			d.log.Info("[Distribute] node unusable", zap.String("node", node.ID), zap.Error(err))
			continue
		}
		share := min(remaining, available)
		if share <= 0 {
			continue
		}

		disp, err := d.launch(ctx, req, node.ID, share, cost)
		if errors.Is(err, ErrNoCapacity) {
			d.log.Info("[Distribute] node filled up before dispatch, trying next node",
				zap.String("op", string(req.Op)), zap.String("node", node.ID), zap.Int("units", share))
			continue
		}
		if err != nil {
			d.log.Error("[Distribute] dispatch failed, abandoning units for this batch",
				zap.String("op", string(req.Op)), zap.String("node", node.ID),
				zap.String("target", req.TargetID), zap.Int("units", remaining), zap.Error(err))
			d.metrics.DispatchFailures.WithLabelValues(string(req.Op)).Inc()
			out.Abandoned = remaining
			return out
		}

		out.Dispatches = append(out.Dispatches, disp)
		out.Allocated += share
		remaining -= share
		d.metrics.UnitsDispatched.WithLabelValues(string(req.Op)).Add(float64(share))
		d.log.Info("[Distribute] dispatched",
			zap.String("op", string(req.Op)), zap.String("node", node.ID), zap.String("target", req.TargetID),
			zap.Int("units", share), zap.Duration("delay", req.Delay), zap.String("batch", req.BatchID))
	}

	if remaining > 0 {
		out.Shortfall = remaining
		d.metrics.ShortfallUnits.WithLabelValues(string(req.Op)).Add(float64(remaining))
		d.log.Warning("[Distribute] capacity shortfall, retrying next iteration",
			zap.String("op", string(req.Op)), zap.String("target", req.TargetID),
			zap.Int("requested", req.Units), zap.Int("allocated", out.Allocated), zap.Int("missing", remaining))
	}
	return out
}

// launch stages the payload and issues one dispatch.
func (d *Distributor) launch(ctx context.Context, req Request, nodeID string, units int, cost float64) (*model.Dispatch, error) {
	if err := d.env.Stage(ctx, req.Op, nodeID); err != nil {
		return nil, fmt.Errorf("stage %s on %s: %w", req.Op, nodeID, err)
	}
	disp := &model.Dispatch{
		ID:       uuid.New().String(),
		BatchID:  req.BatchID,
		Op:       req.Op,
		NodeID:   nodeID,
		TargetID: req.TargetID,
		Units:    units,
		Delay:    req.Delay,
		UnitCost: cost,
	}
	disp.Status.State = model.DispatchPending

	handle, err := d.env.Dispatch(ctx, disp)
	if err != nil {
		if errors.Is(err, ErrNoCapacity) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	if handle <= 0 {
		return nil, fmt.Errorf("%w: handle %d", ErrDispatchFailed, handle)
	}
	disp.Handle = handle
	return disp, nil
}

// snapshot reads each node once, dropping those that cannot run anything:
// offline or silent nodes and nodes without capacity.
func (d *Distributor) snapshot(ctx context.Context, nodeIDs []string) []*model.Node {
	nodes := make([]*model.Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		n, err := d.env.Node(ctx, id)
		if err != nil {
			d.log.Error("[Distribute] failed to read node", zap.String("node", id), zap.Error(err))
			continue
		}
		if !n.Alive(d.now(), d.timeout) {
			d.log.Debug("[Distribute] skipping offline node", zap.String("node", id), zap.String("status", string(n.Status)))
			continue
		}
		if n.TotalCap <= 0 {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// orderNodes applies the node order policy. Home first is not capacity
// optimal; it keeps at least one attempt on the node most likely to have room.
func (d *Distributor) orderNodes(nodes []*model.Node) []*model.Node {
	switch d.order {
	case OrderHomeFirst:
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].ID == d.home && nodes[j].ID != d.home
		})
	case OrderMostFree:
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].Free() > nodes[j].Free()
		})
	}
	return nodes
}
