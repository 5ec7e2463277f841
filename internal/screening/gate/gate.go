package gate

import (
	"sync/atomic"

	"jobsieve/internal/screening/metrics"
)

// Gate is the processing pause/resume flag. Queue workers and the recovery
// sweep consult it before any external call; pausing never loses queued
// work, items drain to skipped and the sweep reclaims them later.
type Gate struct {
	paused atomic.Bool
}

// New creates a gate in the running state.
func New() *Gate {
	return &Gate{}
}

// Pause suspends processing. Returns true if the call changed the state.
func (g *Gate) Pause() bool {
	changed := g.paused.CompareAndSwap(false, true)
	if changed {
		metrics.ProcessingPaused.Set(1)
	}
	return changed
}

// Resume restores processing. Returns true if the call changed the state.
func (g *Gate) Resume() bool {
	changed := g.paused.CompareAndSwap(true, false)
	if changed {
		metrics.ProcessingPaused.Set(0)
	}
	return changed
}

// Paused reports whether processing is suspended.
func (g *Gate) Paused() bool {
	return g.paused.Load()
}
