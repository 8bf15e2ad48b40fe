package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"grinder/pkg/model"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Key schema
const (
	TargetKeyPrefix   = "/grinder/targets/"
	NodeKeyPrefix     = "/grinder/nodes/"
	PayloadKeyPrefix  = "/grinder/payloads/"
	DispatchKeyPrefix = "/grinder/dispatches/"
	ResultKeyPrefix   = "/grinder/results/"
	ActorKey          = "/grinder/actor"
)

// maxTxnRetries bounds optimistic update attempts on a hot key.
const maxTxnRetries = 16

type EtcdManager struct {
	client *clientv3.Client
	log    *zap.Logger
}

// NewEtcdManager connects to etcd. The zap logger is shared with the client.
func NewEtcdManager(endpoints []string, logger *zap.Logger) (*EtcdManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd-client"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdManager{client: cli, log: logger.Named("store")}, nil
}

func targetKey(id string) string   { return TargetKeyPrefix + id }
func nodeKey(id string) string     { return NodeKeyPrefix + id }
func dispatchKey(id string) string { return DispatchKeyPrefix + id }
func resultKey(id string) string   { return ResultKeyPrefix + id }

func payloadKey(nodeID string, op model.Operation) string {
	return PayloadKeyPrefix + nodeID + "/" + string(op)
}

// ---------------------------------------------------------
// Targets
// ---------------------------------------------------------

func (e *EtcdManager) PutTarget(ctx context.Context, t *model.Target) error {
	return e.putValue(ctx, targetKey(t.ID), t)
}

func (e *EtcdManager) GetTarget(ctx context.Context, id string) (*model.Target, error) {
	var t model.Target
	if err := e.getValue(ctx, targetKey(id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (e *EtcdManager) UpdateTarget(ctx context.Context, id string, fn func(t *model.Target) error) (*model.Target, error) {
	t, _, err := updateValue(ctx, e.client, targetKey(id), func(t *model.Target, exists bool) error {
		if !exists {
			return fmt.Errorf("target %s: %w", id, ErrNotFound)
		}
		return fn(t)
	})
	return t, err
}

// ---------------------------------------------------------
// Nodes
// ---------------------------------------------------------

func (e *EtcdManager) RegisterNode(ctx context.Context, node *model.Node) error {
	_, _, err := updateValue(ctx, e.client, nodeKey(node.ID), func(n *model.Node, exists bool) error {
		used := n.Used
		*n = *node
		if exists {
			n.Used = used
		}
		return nil
	})
	return err
}

func (e *EtcdManager) GetNode(ctx context.Context, id string) (*model.Node, error) {
	var n model.Node
	if err := e.getValue(ctx, nodeKey(id), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (e *EtcdManager) UpdateNode(ctx context.Context, id string, fn func(n *model.Node) error) (*model.Node, error) {
	n, _, err := updateValue(ctx, e.client, nodeKey(id), func(n *model.Node, exists bool) error {
		if !exists {
			return fmt.Errorf("node %s: %w", id, ErrNotFound)
		}
		return fn(n)
	})
	return n, err
}

func (e *EtcdManager) ListNodes(ctx context.Context) ([]*model.Node, error) {
	resp, err := e.client.Get(ctx, NodeKeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	nodes := make([]*model.Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var node model.Node
		if err := json.Unmarshal(kv.Value, &node); err != nil {
			e.log.Warn("failed to unmarshal node", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		nodes = append(nodes, &node)
	}
	return nodes, nil
}

func (e *EtcdManager) ReleaseCapacity(ctx context.Context, nodeID string, amount float64) error {
	_, _, err := updateValue(ctx, e.client, nodeKey(nodeID), func(n *model.Node, exists bool) error {
		if !exists {
			return fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
		}
		n.Used -= amount
		if n.Used < 0 {
			n.Used = 0
		}
		return nil
	})
	return err
}

// ---------------------------------------------------------
// Actor & payloads
// ---------------------------------------------------------

func (e *EtcdManager) PutActor(ctx context.Context, a *model.Actor) error {
	return e.putValue(ctx, ActorKey, a)
}

func (e *EtcdManager) GetActor(ctx context.Context) (*model.Actor, error) {
	var a model.Actor
	if err := e.getValue(ctx, ActorKey, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (e *EtcdManager) StagePayload(ctx context.Context, nodeID string, p *model.Payload) error {
	return e.putValue(ctx, payloadKey(nodeID, p.Op), p)
}

func (e *EtcdManager) GetPayload(ctx context.Context, nodeID string, op model.Operation) (*model.Payload, error) {
	var p model.Payload
	if err := e.getValue(ctx, payloadKey(nodeID, op), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ---------------------------------------------------------
// Dispatches
// ---------------------------------------------------------

// CreateDispatch writes the dispatch and bumps the node's Used in a single
// transaction guarded by the node's mod revision.
func (e *EtcdManager) CreateDispatch(ctx context.Context, d *model.Dispatch) (int64, error) {
	nk := nodeKey(d.NodeID)
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		resp, err := e.client.Get(ctx, nk)
		if err != nil {
			return 0, err
		}
		if len(resp.Kvs) == 0 {
			return 0, fmt.Errorf("node %s: %w", d.NodeID, ErrNotFound)
		}
		var node model.Node
		if err := json.Unmarshal(resp.Kvs[0].Value, &node); err != nil {
			return 0, err
		}
		reserve := d.Reserved()
		if node.Free()+capacityEpsilon < reserve {
			return 0, fmt.Errorf("node %s free %.2f, need %.2f: %w", d.NodeID, node.Free(), reserve, ErrInsufficientCapacity)
		}
		node.Used += reserve

		nodeBytes, err := json.Marshal(&node)
		if err != nil {
			return 0, err
		}
		dispatchBytes, err := json.Marshal(d)
		if err != nil {
			return 0, err
		}

		txn, err := e.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(nk), "=", resp.Kvs[0].ModRevision)).
			Then(
				clientv3.OpPut(nk, string(nodeBytes)),
				clientv3.OpPut(dispatchKey(d.ID), string(dispatchBytes)),
			).Commit()
		if err != nil {
			return 0, err
		}
		if txn.Succeeded {
			d.Handle = txn.Header.Revision
			return d.Handle, nil
		}
	}
	return 0, fmt.Errorf("dispatch %s: %w", d.ID, ErrConflict)
}

func (e *EtcdManager) UpdateDispatch(ctx context.Context, d *model.Dispatch) error {
	return e.putValue(ctx, dispatchKey(d.ID), d)
}

// WatchDispatches turns the etcd watch on the dispatch prefix into a typed channel.
func (e *EtcdManager) WatchDispatches(ctx context.Context) <-chan DispatchEvent {
	eventChan := make(chan DispatchEvent)

	go func() {
		defer close(eventChan)
		watchChan := e.client.Watch(ctx, DispatchKeyPrefix, clientv3.WithPrefix())

		for watchResp := range watchChan {
			for _, ev := range watchResp.Events {
				if ev.Type == clientv3.EventTypeDelete {
					// dispatches are never deleted by grinder
					continue
				}
				eventType := DispatchUpdate
				if ev.IsCreate() {
					eventType = DispatchCreate
				}

				var d model.Dispatch
				if err := json.Unmarshal(ev.Kv.Value, &d); err != nil {
					e.log.Warn("failed to unmarshal dispatch", zap.Error(err))
					continue
				}

				select {
				case eventChan <- DispatchEvent{Type: eventType, Dispatch: &d}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return eventChan
}

// ---------------------------------------------------------
// Results
// ---------------------------------------------------------

func (e *EtcdManager) SaveResult(ctx context.Context, r *model.Result) error {
	return e.putValue(ctx, resultKey(r.DispatchID), r)
}

func (e *EtcdManager) GetResult(ctx context.Context, dispatchID string) (*model.Result, error) {
	var r model.Result
	if err := e.getValue(ctx, resultKey(dispatchID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (e *EtcdManager) Close() error {
	return e.client.Close()
}

// ---------------------------------------------------------
// Helpers
// ---------------------------------------------------------

// putValue JSON encodes val and puts it under key.
func (e *EtcdManager) putValue(ctx context.Context, key string, val interface{}) error {
	bytes, err := json.Marshal(val)
	if err != nil {
		return err
	}
	_, err = e.client.Put(ctx, key, string(bytes))
	return err
}

func (e *EtcdManager) getValue(ctx context.Context, key string, out interface{}) error {
	resp, err := e.client.Get(ctx, key)
	if err != nil {
		return err
	}
	if len(resp.Kvs) == 0 {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return json.Unmarshal(resp.Kvs[0].Value, out)
}

// updateValue is a read-modify-write loop guarded by the key's mod revision.
// A missing key has mod revision 0, so creation goes through the same path.
func updateValue[T any](ctx context.Context, cli *clientv3.Client, key string, mutate func(v *T, exists bool) error) (*T, int64, error) {
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		resp, err := cli.Get(ctx, key)
		if err != nil {
			return nil, 0, err
		}

		v := new(T)
		var rev int64
		exists := len(resp.Kvs) > 0
		if exists {
			if err := json.Unmarshal(resp.Kvs[0].Value, v); err != nil {
				return nil, 0, err
			}
			rev = resp.Kvs[0].ModRevision
		}
		if err := mutate(v, exists); err != nil {
			return nil, 0, err
		}

		bytes, err := json.Marshal(v)
		if err != nil {
			return nil, 0, err
		}
		txn, err := cli.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
			Then(clientv3.OpPut(key, string(bytes))).
			Commit()
		if err != nil {
			return nil, 0, err
		}
		if txn.Succeeded {
			return v, txn.Header.Revision, nil
		}
	}
	return nil, 0, fmt.Errorf("%s: %w", key, ErrConflict)
}
