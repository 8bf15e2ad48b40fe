package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"grinder/pkg/model"
)

// MemoryStore is a map backed Store. Values are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu         sync.Mutex
	revision   int64
	targets    map[string]*model.Target
	nodes      map[string]*model.Node
	payloads   map[string]*model.Payload
	dispatches map[string]*model.Dispatch
	results    map[string]*model.Result
	actor      *model.Actor
	watchers   []*memWatcher
}

type memWatcher struct {
	ctx context.Context
	ch  chan DispatchEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		targets:    make(map[string]*model.Target),
		nodes:      make(map[string]*model.Node),
		payloads:   make(map[string]*model.Payload),
		dispatches: make(map[string]*model.Dispatch),
		results:    make(map[string]*model.Result),
	}
}

func (m *MemoryStore) PutTarget(_ context.Context, t *model.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t.ID] = clone(t)
	m.revision++
	return nil
}

func (m *MemoryStore) GetTarget(_ context.Context, id string) (*model.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	return clone(t), nil
}

func (m *MemoryStore) UpdateTarget(_ context.Context, id string, fn func(t *model.Target) error) (*model.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	next := clone(t)
	if err := fn(next); err != nil {
		return nil, err
	}
	m.targets[id] = next
	m.revision++
	return clone(next), nil
}

func (m *MemoryStore) RegisterNode(_ context.Context, node *model.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := clone(node)
	if old, ok := m.nodes[node.ID]; ok {
		n.Used = old.Used
	}
	m.nodes[node.ID] = n
	m.revision++
	return nil
}

func (m *MemoryStore) GetNode(_ context.Context, id string) (*model.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return clone(n), nil
}

func (m *MemoryStore) UpdateNode(_ context.Context, id string, fn func(n *model.Node) error) (*model.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	updated := clone(n)
	if err := fn(updated); err != nil {
		return nil, err
	}
	m.nodes[id] = updated
	m.revision++
	return clone(updated), nil
}

func (m *MemoryStore) ListNodes(_ context.Context) ([]*model.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nodes := make([]*model.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, clone(n))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (m *MemoryStore) ReleaseCapacity(_ context.Context, nodeID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	n.Used -= amount
	if n.Used < 0 {
		n.Used = 0
	}
	m.revision++
	return nil
}

func (m *MemoryStore) PutActor(_ context.Context, a *model.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actor = clone(a)
	m.revision++
	return nil
}

func (m *MemoryStore) GetActor(_ context.Context) (*model.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actor == nil {
		return nil, fmt.Errorf("actor: %w", ErrNotFound)
	}
	return clone(m.actor), nil
}

func (m *MemoryStore) StagePayload(_ context.Context, nodeID string, p *model.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[payloadKey(nodeID, p.Op)] = clone(p)
	m.revision++
	return nil
}

func (m *MemoryStore) GetPayload(_ context.Context, nodeID string, op model.Operation) (*model.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payloads[payloadKey(nodeID, op)]
	if !ok {
		return nil, fmt.Errorf("payload %s on %s: %w", op, nodeID, ErrNotFound)
	}
	return clone(p), nil
}

func (m *MemoryStore) CreateDispatch(_ context.Context, d *model.Dispatch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[d.NodeID]
	if !ok {
		return 0, fmt.Errorf("node %s: %w", d.NodeID, ErrNotFound)
	}
	reserve := d.Reserved()
	if n.Free()+capacityEpsilon < reserve {
		return 0, fmt.Errorf("node %s free %.2f, need %.2f: %w", d.NodeID, n.Free(), reserve, ErrInsufficientCapacity)
	}
	n.Used += reserve
	m.revision++
	d.Handle = m.revision
	m.dispatches[d.ID] = clone(d)
	m.notify(DispatchEvent{Type: DispatchCreate, Dispatch: clone(d)})
	return d.Handle, nil
}

func (m *MemoryStore) UpdateDispatch(_ context.Context, d *model.Dispatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches[d.ID] = clone(d)
	m.revision++
	m.notify(DispatchEvent{Type: DispatchUpdate, Dispatch: clone(d)})
	return nil
}

// Dispatches returns every stored dispatch ordered by handle.
func (m *MemoryStore) Dispatches() []*model.Dispatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Dispatch, 0, len(m.dispatches))
	for _, d := range m.dispatches {
		out = append(out, clone(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (m *MemoryStore) WatchDispatches(ctx context.Context) <-chan DispatchEvent {
	w := &memWatcher{ctx: ctx, ch: make(chan DispatchEvent, 256)}
	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, other := range m.watchers {
			if other == w {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				break
			}
		}
		close(w.ch)
	}()
	return w.ch
}

// notify must be called with m.mu held.
func (m *MemoryStore) notify(ev DispatchEvent) {
	for _, w := range m.watchers {
		select {
		case w.ch <- ev:
		case <-w.ctx.Done():
		}
	}
}

func (m *MemoryStore) SaveResult(_ context.Context, r *model.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.DispatchID] = clone(r)
	return nil
}

func (m *MemoryStore) GetResult(_ context.Context, dispatchID string) (*model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[dispatchID]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", dispatchID, ErrNotFound)
	}
	return clone(r), nil
}

func (m *MemoryStore) Close() error { return nil }

// clone deep copies v through its JSON form, the same encoding the etcd store uses.
func clone[T any](v *T) *T {
	bytes, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("store: clone %T: %v", v, err))
	}
	out := new(T)
	if err := json.Unmarshal(bytes, out); err != nil {
		panic(fmt.Sprintf("store: clone %T: %v", v, err))
	}
	return out
}
