package model

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestNodeAlive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	n := &Node{ID: "home", Status: NodeReady, LastHeartbeat: now.Unix() - 5}

	assert.Assert(t, n.Alive(now, 9*time.Second))
	assert.Assert(t, !n.Alive(now, 3*time.Second))

	n.Status = NodeOffline
	n.LastHeartbeat = now.Unix()
	assert.Assert(t, !n.Alive(now, 9*time.Second))

	var seeded Node // never heartbeated
	seeded.Status = NodeReady
	assert.Assert(t, !seeded.Alive(now, time.Hour))
}
