package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

func TestPhaseController_StartsPre(t *testing.T) {
	pc := NewPhaseController()
	assert.Equal(t, schemas.PhasePre, pc.Current())
}

func TestPhaseController_AdvanceOnce(t *testing.T) {
	pc := NewPhaseController()
	require.NoError(t, pc.Advance(schemas.PhasePostAccept))
	assert.Equal(t, schemas.PhasePostAccept, pc.Current())

	err := pc.Advance(schemas.PhasePostReject)
	assert.Error(t, err, "a second transition must be rejected")
	assert.Equal(t, schemas.PhasePostAccept, pc.Current())
}

func TestPhaseController_RejectsNonPostTargets(t *testing.T) {
	pc := NewPhaseController()
	assert.Error(t, pc.Advance(schemas.PhasePre))
	assert.Error(t, pc.Advance(schemas.Phase("bogus")))
	assert.Equal(t, schemas.PhasePre, pc.Current())
}
