package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"grinder/internal/logging"
	"grinder/internal/worker/executor"
	"grinder/pkg/model"
	"grinder/pkg/report"
	"grinder/pkg/store"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const bookkeepingTimeout = 5 * time.Second

type Config struct {
	ID                string
	Capacity          float64 // 0 derives capacity from host memory in GiB
	Neighbors         []string
	HeartbeatInterval time.Duration
}

// Agent runs on a worker node: it heartbeats the node's capacity and
// executes every dispatch placed on it.
type Agent struct {
	ID       string
	cfg      Config
	store    store.Store
	executor executor.Executor
	reporter report.Reporter
	log      *logging.Logger

	wg sync.WaitGroup
}

func NewAgent(cfg Config, s store.Store, exec executor.Executor, rep report.Reporter, log *logging.Logger) *Agent {
	if cfg.ID == "" {
		cfg.ID, _ = os.Hostname()
	}
	if cfg.ID == "" {
		cfg.ID = "worker-node-01"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	if rep == nil {
		rep = report.Nop{}
	}
	return &Agent{
		ID:       cfg.ID,
		cfg:      cfg,
		store:    s,
		executor: exec,
		reporter: rep,
		log:      log.Named("worker").With(zap.String("node", cfg.ID)),
	}
}

// Run blocks until ctx is cancelled and every started dispatch has settled.
func (a *Agent) Run(ctx context.Context) {
	// 1. subscribe before registering so no dispatch slips between the two
	events := a.store.WatchDispatches(ctx)
	if err := a.register(ctx); err != nil {
		a.log.Error("[Worker] initial registration failed", zap.Error(err))
	}
	go a.startHeartbeat(ctx)

	// 2. serve dispatches until ctx ends
	a.log.Info(fmt.Sprintf("[Worker] Waiting for dispatches assigned to %s...", a.ID))
	a.watchDispatches(ctx, events)
	a.wg.Wait()
}

func (a *Agent) startHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := a.register(ctx); err != nil {
				a.log.Warning("[Worker] heartbeat failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) watchDispatches(ctx context.Context, events <-chan store.DispatchEvent) {
	for ev := range events {
		d := ev.Dispatch
		if ev.Type != store.DispatchCreate || d.NodeID != a.ID || d.Status.State != model.DispatchPending {
			continue
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.execute(ctx, d)
		}()
	}
}

// execute waits out the dispatch delay, runs the payload and settles the
// dispatch: final state, released capacity, stored and published result.
func (a *Agent) execute(ctx context.Context, d *model.Dispatch) {
	log := a.log.With(zap.String("dispatch", d.ID), zap.String("target", d.TargetID))

	// 1. mark running
	d.Status.State = model.DispatchRunning
	d.Status.StartTime = time.Now()
	if err := a.store.UpdateDispatch(ctx, d); err != nil {
		log.Warning("[Worker] failed to mark dispatch running", zap.Error(err))
	}
	log.Info(fmt.Sprintf("Batch %s: %s scheduled on %s with %d units after %s", d.BatchID, d.Op, a.ID, d.Units, d.Delay))

	// 2. run the payload, then settle bookkeeping
	value, err := a.run(ctx, d)
	a.settle(ctx, d, value, err, log)
}

func (a *Agent) run(ctx context.Context, d *model.Dispatch) (float64, error) {
	if err := sleep(ctx, d.Delay); err != nil {
		return 0, err
	}
	p, err := a.store.GetPayload(ctx, a.ID, d.Op)
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("payload for %s is not staged on %s", d.Op, a.ID)
	}
	if err != nil {
		return 0, err
	}
	return a.executor.Run(ctx, d, p)
}

func (a *Agent) settle(ctx context.Context, d *model.Dispatch, value float64, runErr error, log *logging.Logger) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	now := time.Now()
	d.Status.EndTime = now
	res := &model.Result{
		DispatchID: d.ID,
		BatchID:    d.BatchID,
		Op:         d.Op,
		NodeID:     d.NodeID,
		TargetID:   d.TargetID,
		Units:      d.Units,
		Value:      value,
		FinishedAt: now,
	}
	if runErr != nil {
		d.Status.State = model.DispatchFailed
		d.Status.Error = runErr.Error()
		res.Error = runErr.Error()
		log.Error(fmt.Sprintf("Failed to execute %s on %s", d.Op, d.TargetID), zap.Error(runErr))
	} else {
		d.Status.State = model.DispatchDone
		log.Success(fmt.Sprintf("Batch %s: %s on %s returned %.4f", d.BatchID, d.Op, d.TargetID, value))
	}

	// bookkeeping errors are logged, never returned
	var errs error
	errs = multierr.Append(errs, a.store.UpdateDispatch(bctx, d))
	errs = multierr.Append(errs, a.store.ReleaseCapacity(bctx, a.ID, d.Reserved()))
	errs = multierr.Append(errs, a.store.SaveResult(bctx, res))
	if errs != nil {
		log.Error("[Worker] failed to settle dispatch", zap.Error(errs))
	}
	if err := a.reporter.Publish(bctx, res); err != nil {
		log.Warning("[Worker] failed to publish result", zap.Error(err))
	}
}

// register upserts this node, keeping fields the operator seeded such as
// access, level and cost overrides.
func (a *Agent) register(ctx context.Context) error {
	capacity, err := a.capacity()
	if err != nil {
		return err
	}
	node, err := a.store.GetNode(ctx, a.ID)
	if errors.Is(err, store.ErrNotFound) {
		node = &model.Node{ID: a.ID, RootAccess: true}
	} else if err != nil {
		return err
	}
	if len(a.cfg.Neighbors) > 0 {
		node.Neighbors = a.cfg.Neighbors
	}
	node.TotalCap = capacity
	node.Status = model.NodeReady
	node.LastHeartbeat = time.Now().Unix()
	return a.store.RegisterNode(ctx, node)
}

func (a *Agent) capacity() (float64, error) {
	if a.cfg.Capacity > 0 {
		return a.cfg.Capacity, nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read host memory: %w", err)
	}
	return float64(vm.Total) / (1 << 30), nil
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
