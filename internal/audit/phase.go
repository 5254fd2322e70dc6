package audit

import (
	"fmt"
	"sync"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

// PhaseController holds the single logical phase value every observer
// consults when tagging captured data. There is exactly one value per run;
// components must never copy it into their own state.
//
// Transitions are monotonic: pre -> post_accept | post_reject, once. The
// orchestration sequence is the only writer.
type PhaseController struct {
	mu      sync.RWMutex
	current schemas.Phase
}

// NewPhaseController starts a controller in the pre-consent phase.
func NewPhaseController() *PhaseController {
	return &PhaseController{current: schemas.PhasePre}
}

// Current returns the phase in effect right now.
func (pc *PhaseController) Current() schemas.Phase {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.current
}

// Advance moves from pre to one of the post phases. Any other transition is
// rejected: phases never move backwards and never switch between post states.
func (pc *PhaseController) Advance(to schemas.Phase) error {
	if !to.IsPost() {
		return fmt.Errorf("cannot advance to %q: only post phases are valid targets", to)
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.current != schemas.PhasePre {
		return fmt.Errorf("phase already advanced to %q, cannot advance again", pc.current)
	}
	pc.current = to
	return nil
}
