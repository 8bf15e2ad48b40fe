package model

import "time"

// BatchStep is one operation instance within a batch.
type BatchStep struct {
	Op       Operation     `json:"op"`
	Units    int           `json:"units"`
	Delay    time.Duration `json:"delay"`
	Duration time.Duration `json:"duration"`
}

// Completion is when the step lands, measured from batch launch.
func (s BatchStep) Completion() time.Duration {
	return s.Delay + s.Duration
}

// Batch is the weaken, hack, grow, weaken sequence against one target.
type Batch struct {
	ID       string       `json:"id"`
	TargetID string       `json:"target_id"`
	Steps    [4]BatchStep `json:"steps"`
}

// Spread is the gap between the earliest and the latest completion.
func (b *Batch) Spread() time.Duration {
	lo, hi := b.Steps[0].Completion(), b.Steps[0].Completion()
	for _, s := range b.Steps[1:] {
		c := s.Completion()
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	return hi - lo
}
