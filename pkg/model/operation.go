package model

// Operation is one of the three kinds of work run against a target.
type Operation string

const (
	OpWeaken Operation = "weaken"
	OpGrow   Operation = "grow"
	OpHack   Operation = "hack"
)

// Operations lists every known operation kind.
var Operations = []Operation{OpWeaken, OpGrow, OpHack}

func (o Operation) Valid() bool {
	switch o {
	case OpWeaken, OpGrow, OpHack:
		return true
	}
	return false
}

func (o Operation) String() string { return string(o) }

// Payload is the executable staged onto a node before an operation can run there.
type Payload struct {
	Op      Operation `json:"op"`
	Name    string    `json:"name"`              // e.g. weaken.js
	Image   string    `json:"image,omitempty"`   // container image for the docker executor
	Command []string  `json:"command,omitempty"` // container command
	Cost    float64   `json:"cost"`              // capacity consumed by one unit
}
