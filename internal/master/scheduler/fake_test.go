package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"grinder/internal/logging"
	"grinder/internal/metrics"
	"grinder/pkg/model"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gotest.tools/v3/assert"
)

// fakeEnv is an in-process environment. Dispatch reserves capacity the way
// a truthful execution environment would.
type fakeEnv struct {
	mu sync.Mutex

	order    []string
	targets  map[string]*model.Target
	nodes    map[string]*model.Node
	access   map[string]bool
	required map[string]int
	level    int
	owned    []string

	cost      float64
	nodeCosts map[string]float64

	staged     []string
	dispatched []*model.Dispatch
	handle     int64

	failDispatchOn        string
	fullOn                string
	panicOnTarget         string
	panicOnDispatchTarget string
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		targets:   make(map[string]*model.Target),
		nodes:     make(map[string]*model.Node),
		access:    make(map[string]bool),
		required:  make(map[string]int),
		nodeCosts: make(map[string]float64),
		level:     100,
		cost:      1,
	}
}

func (f *fakeEnv) addNode(id string, total, used float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, id)
	f.nodes[id] = &model.Node{
		ID: id, TotalCap: total, Used: used, RootAccess: true,
		Status: model.NodeReady, LastHeartbeat: time.Now().Unix(),
	}
	f.access[id] = true
}

func (f *fakeEnv) addTarget(t *model.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.access[t.ID]; !ok {
		f.order = append(f.order, t.ID)
		f.access[t.ID] = true
	}
	cp := *t
	f.targets[t.ID] = &cp
}

func (f *fakeEnv) ListAllNodes(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...), nil
}

func (f *fakeEnv) HasAccess(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access[id], nil
}

func (f *fakeEnv) RequiredLevel(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.required[id], nil
}

func (f *fakeEnv) ActorLevel(context.Context) (int, error) { return f.level, nil }

func (f *fakeEnv) OwnedNodes(context.Context) ([]string, error) { return f.owned, nil }

func (f *fakeEnv) Target(_ context.Context, id string) (*model.Target, error) {
	if id == f.panicOnTarget {
		panic("target state exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.targets[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeEnv) HackUnits(_ context.Context, id string, amount float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.targets[id]
	if !ok {
		return 0, fmt.Errorf("no target %s", id)
	}
	return t.HackUnitsFor(amount), nil
}

func (f *fakeEnv) GrowUnits(_ context.Context, id string, multiplier float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.targets[id]
	if !ok {
		return 0, fmt.Errorf("no target %s", id)
	}
	return t.GrowUnitsFor(multiplier), nil
}

func (f *fakeEnv) Node(_ context.Context, id string) (*model.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return nil, fmt.Errorf("no node %s", id)
	}
	cp := *n
	return &cp, nil
}

func (f *fakeEnv) UnitCost(_ context.Context, nodeID string, _ model.Operation) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.nodeCosts[nodeID]; ok {
		return c, nil
	}
	return f.cost, nil
}

func (f *fakeEnv) Stage(_ context.Context, op model.Operation, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = append(f.staged, nodeID+"/"+string(op))
	return nil
}

func (f *fakeEnv) Dispatch(_ context.Context, d *model.Dispatch) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.TargetID == f.panicOnDispatchTarget {
		panic("exec crashed")
	}
	if d.NodeID == f.fullOn {
		return 0, fmt.Errorf("node %s: %w", d.NodeID, ErrNoCapacity)
	}
	if d.NodeID == f.failDispatchOn {
		return 0, errors.New("exec refused")
	}
	f.nodes[d.NodeID].Used += d.Reserved()
	f.handle++
	cp := *d
	cp.Handle = f.handle
	f.dispatched = append(f.dispatched, &cp)
	return f.handle, nil
}

func (f *fakeEnv) MarkStale(_ context.Context, timeout time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stale []string
	for _, id := range f.order {
		n, ok := f.nodes[id]
		if ok && n.Status == model.NodeReady && !n.Alive(time.Now(), timeout) {
			n.Status = model.NodeOffline
			stale = append(stale, id)
		}
	}
	return stale, nil
}

func (f *fakeEnv) dispatches() []*model.Dispatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Dispatch(nil), f.dispatched...)
}

// testConfig has no pacing delays so iterations run instantly.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetDelay = 0
	cfg.IterationDelay = time.Millisecond
	cfg.IdleDelay = 0
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func newTestScheduler(t *testing.T, env *fakeEnv, cfg Config) (*Scheduler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	s, err := NewScheduler(env, cfg, logging.Wrap(zap.New(core)), metrics.New(prometheus.NewRegistry()))
	assert.NilError(t, err)
	return s, logs
}

// preparedTarget sits at its security floor with full money. With the
// default 0.75 hack fraction it needs 12 hack units and 2 grow units.
func preparedTarget(id string) *model.Target {
	return &model.Target{
		ID:             id,
		Security:       5,
		MinSecurity:    5,
		Money:          1 << 20,
		MaxMoney:       1 << 20,
		RequiredLevel:  1,
		BaseHackTimeMs: 1000,
		HackPerUnit:    1.0 / 16,
		GrowthRate:     2,
	}
}
