package eventbus

import (
	"context"
	"sync/atomic"
)

// Gate tracks the latest SNAPSHOT_ALLOWED signal. Snapshots are allowed
// until told otherwise.
type Gate struct {
	blocked atomic.Bool
}

// NewGate creates an open gate.
func NewGate() *Gate {
	return &Gate{}
}

// Allowed reports whether snapshots should currently propagate.
func (g *Gate) Allowed() bool {
	return !g.blocked.Load()
}

// Set opens or closes the gate.
func (g *Gate) Set(allowed bool) {
	g.blocked.Store(!allowed)
}

// Observe updates the gate if ev is a SNAPSHOT_ALLOWED event and reports
// whether it was one. Subscribers that also receive snapshots call this
// first so gate changes apply in their own queue order.
func (g *Gate) Observe(ev Event) bool {
	if ev.Topic != TopicSnapshotAllowed {
		return false
	}
	switch p := ev.Payload.(type) {
	case SnapshotAllowed:
		g.Set(p.Allowed)
	case *SnapshotAllowed:
		if p != nil {
			g.Set(p.Allowed)
		}
	case bool:
		g.Set(p)
	}
	return true
}

// Handle is a Handler that only feeds the gate.
func (g *Gate) Handle(_ context.Context, ev Event) error {
	g.Observe(ev)
	return nil
}
