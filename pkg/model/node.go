package model

import "time"

// NodeStatus health of a worker node
type NodeStatus string

const (
	NodeReady   NodeStatus = "READY"
	NodeOffline NodeStatus = "OFFLINE" // heartbeat timed out
)

type Node struct {
	ID        string   `json:"id"`        // hostname
	Neighbors []string `json:"neighbors"` // directly reachable nodes, used by discovery

	RootAccess    bool `json:"root_access"`
	RequiredLevel int  `json:"required_level"`

	// Capacity view. The scheduler only computes TotalCap - Used;
	// Used is reserved on dispatch and released by the worker.
	TotalCap  float64               `json:"total_cap"`
	Used      float64               `json:"used"`
	UnitCosts map[Operation]float64 `json:"unit_costs,omitempty"` // per-node payload cost overrides

	Status        NodeStatus `json:"status"`
	LastHeartbeat int64      `json:"last_heartbeat"` // unix seconds
}

// Free returns the capacity not yet reserved.
func (n *Node) Free() float64 {
	return n.TotalCap - n.Used
}

// Alive reports whether the node is READY and heartbeated within timeout of now.
func (n *Node) Alive(now time.Time, timeout time.Duration) bool {
	if n.Status != NodeReady {
		return false
	}
	return now.Sub(time.Unix(n.LastHeartbeat, 0)) <= timeout
}

// Actor is the identity the scheduler works for.
type Actor struct {
	Level int      `json:"level"`
	Home  string   `json:"home"`
	Owned []string `json:"owned"` // purchased nodes, never targeted
}
