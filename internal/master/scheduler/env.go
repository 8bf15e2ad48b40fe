package scheduler

import (
	"context"
	"time"

	"grinder/pkg/model"
)

// Discovery enumerates every node reachable from the root.
type Discovery interface {
	ListAllNodes(ctx context.Context) ([]string, error)
}

type AccessControl interface {
	HasAccess(ctx context.Context, id string) (bool, error)
	RequiredLevel(ctx context.Context, id string) (int, error)
	ActorLevel(ctx context.Context) (int, error)
	// OwnedNodes are the actor's own nodes; they are never targeted.
	OwnedNodes(ctx context.Context) ([]string, error)
}

// TargetState reads live target state. Target returns (nil, nil) when id
// is not a target at all.
type TargetState interface {
	Target(ctx context.Context, id string) (*model.Target, error)
	// HackUnits is the fractional unit count that takes amount from the target.
	HackUnits(ctx context.Context, id string, amount float64) (float64, error)
	// GrowUnits is the fractional unit count that multiplies money by multiplier.
	GrowUnits(ctx context.Context, id string, multiplier float64) (float64, error)
}

type CapacityState interface {
	Node(ctx context.Context, id string) (*model.Node, error)
	UnitCost(ctx context.Context, nodeID string, op model.Operation) (float64, error)
}

type Execution interface {
	// Stage copies the operation payload onto the node. Idempotent.
	Stage(ctx context.Context, op model.Operation, nodeID string) error
	// Dispatch launches d and returns a handle; a non-positive handle is a
	// failure. An error wrapping ErrNoCapacity means the node filled up
	// since it was read.
	Dispatch(ctx context.Context, d *model.Dispatch) (int64, error)
}

// Liveness retires nodes whose agent stopped heartbeating.
type Liveness interface {
	// MarkStale flags every READY node silent for longer than timeout as
	// OFFLINE and returns their ids.
	MarkStale(ctx context.Context, timeout time.Duration) ([]string, error)
}

// Environment bundles every collaborator the scheduler consumes.
type Environment interface {
	Discovery
	AccessControl
	TargetState
	CapacityState
	Execution
	Liveness
}
