package audit

import (
	"sync"
	"time"
)

// Governor tracks elapsed wall time against a fixed ceiling and arbitrates
// how long any single wait in the orchestration may block. Every wait must
// request its duration through Allocate rather than use a raw constant, so a
// slow phase A cannot starve phase B of its minimum viable window.
//
// The governor is advisory-cooperative: it never preempts an in-flight
// protocol command, it only shapes the durations the orchestrator asks for.
type Governor struct {
	mu      sync.Mutex
	start   time.Time
	ceiling time.Duration
	floor   time.Duration
	clock   func() time.Time
}

// NewGovernor starts the clock with the given ceiling. floor is the smallest
// duration Allocate will ever hand out.
func NewGovernor(ceiling, floor time.Duration) *Governor {
	return &Governor{
		start:   time.Now(),
		ceiling: ceiling,
		floor:   floor,
		clock:   time.Now,
	}
}

// Elapsed returns the wall time consumed since the run entered the governor.
func (g *Governor) Elapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clock().Sub(g.start)
}

// Remaining returns the budget left, never negative.
func (g *Governor) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	rem := g.ceiling - g.clock().Sub(g.start)
	if rem < 0 {
		return 0
	}
	return rem
}

// SufficientFor reports whether at least need remains.
func (g *Governor) SufficientFor(need time.Duration) bool {
	return g.Remaining() >= need
}

// Allocate shapes a requested wait duration:
//
//	min(requested, max(floor, remaining-buffer))
//
// so a wait can never exhaust the rest of the budget on its own, yet always
// gets a small usable window even when the budget is nearly gone.
func (g *Governor) Allocate(requested, buffer time.Duration) time.Duration {
	avail := g.Remaining() - buffer
	if avail < g.floor {
		avail = g.floor
	}
	if requested < avail {
		return requested
	}
	return avail
}
