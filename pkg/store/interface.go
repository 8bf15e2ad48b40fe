package store

import (
	"context"
	"errors"

	"grinder/pkg/model"
)

// capacityEpsilon absorbs float noise in Units*UnitCost so a share that
// exactly fills a node is not rejected.
const capacityEpsilon = 1e-9

var (
	ErrNotFound             = errors.New("store: not found")
	ErrInsufficientCapacity = errors.New("store: insufficient capacity")
	ErrConflict             = errors.New("store: too many concurrent updates")
)

// DispatchEventType kind of change seen on a dispatch
type DispatchEventType int

const (
	DispatchCreate DispatchEventType = iota
	DispatchUpdate
)

// DispatchEvent wraps a change to a dispatch record.
// Workers learn about new work through it.
type DispatchEvent struct {
	Type     DispatchEventType
	Dispatch *model.Dispatch
}

// Store is everything the master and the workers need from the shared
// environment state. EtcdManager is the production implementation,
// MemoryStore backs tests and local runs.
type Store interface {
	// --- Targets ---

	PutTarget(ctx context.Context, t *model.Target) error
	GetTarget(ctx context.Context, id string) (*model.Target, error)
	// UpdateTarget applies fn atomically against the latest stored value.
	UpdateTarget(ctx context.Context, id string, fn func(t *model.Target) error) (*model.Target, error)

	// --- Nodes ---

	// RegisterNode upserts a node, keeping the stored Used value.
	RegisterNode(ctx context.Context, node *model.Node) error
	GetNode(ctx context.Context, id string) (*model.Node, error)
	// UpdateNode applies fn atomically against the latest stored node.
	UpdateNode(ctx context.Context, id string, fn func(n *model.Node) error) (*model.Node, error)
	ListNodes(ctx context.Context) ([]*model.Node, error)
	// ReleaseCapacity gives back capacity reserved by a finished dispatch.
	ReleaseCapacity(ctx context.Context, nodeID string, amount float64) error

	// --- Actor ---

	PutActor(ctx context.Context, a *model.Actor) error
	GetActor(ctx context.Context) (*model.Actor, error)

	// --- Payloads ---

	// StagePayload copies an operation payload onto a node. Idempotent.
	StagePayload(ctx context.Context, nodeID string, p *model.Payload) error
	GetPayload(ctx context.Context, nodeID string, op model.Operation) (*model.Payload, error)

	// --- Dispatches ---

	// CreateDispatch stores the dispatch and reserves Units*UnitCost on its
	// node in one step. The returned handle is positive on success.
	CreateDispatch(ctx context.Context, d *model.Dispatch) (int64, error)
	UpdateDispatch(ctx context.Context, d *model.Dispatch) error
	WatchDispatches(ctx context.Context) <-chan DispatchEvent

	// --- Results ---

	SaveResult(ctx context.Context, r *model.Result) error
	GetResult(ctx context.Context, dispatchID string) (*model.Result, error)

	Close() error
}
