package model

import "time"

type DispatchState int

const (
	DispatchPending DispatchState = iota // created, waiting for the worker
	DispatchRunning                      // worker sleeping on the start delay or running
	DispatchDone
	DispatchFailed
)

func (s DispatchState) String() string {
	switch s {
	case DispatchPending:
		return "pending"
	case DispatchRunning:
		return "running"
	case DispatchDone:
		return "done"
	case DispatchFailed:
		return "failed"
	}
	return "unknown"
}

// Dispatch is one request to run Units of Op on NodeID against TargetID.
type Dispatch struct {
	ID       string        `json:"id"`
	BatchID  string        `json:"batch_id"`
	Op       Operation     `json:"op"`
	NodeID   string        `json:"node_id"`
	TargetID string        `json:"target_id"`
	Units    int           `json:"units"`
	Delay    time.Duration `json:"delay"`
	UnitCost float64       `json:"unit_cost"`
	Handle   int64         `json:"handle,omitempty"`

	Status struct {
		State     DispatchState `json:"state"`
		Error     string        `json:"error,omitempty"`
		StartTime time.Time     `json:"start_time"`
		EndTime   time.Time     `json:"end_time"`
	} `json:"status"`
}

// Reserved is the node capacity held while the dispatch runs.
func (d *Dispatch) Reserved() float64 {
	return float64(d.Units) * d.UnitCost
}

// Result is the numeric outcome reported by an operation body.
type Result struct {
	DispatchID string    `json:"dispatch_id"`
	BatchID    string    `json:"batch_id"`
	Op         Operation `json:"op"`
	NodeID     string    `json:"node_id"`
	TargetID   string    `json:"target_id"`
	Units      int       `json:"units"`
	Value      float64   `json:"value"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}
