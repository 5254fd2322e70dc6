package schemas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseIsPost(t *testing.T) {
	assert.False(t, PhasePre.IsPost())
	assert.True(t, PhasePostAccept.IsPost())
	assert.True(t, PhasePostReject.IsPost())
	assert.False(t, Phase("other").IsPost())
}

func TestPathModePostPhase(t *testing.T) {
	assert.Equal(t, PhasePostAccept, PathAccept.PostPhase())
	assert.Equal(t, PhasePostReject, PathReject.PostPhase())
}

func TestAuditResponseJSONShape(t *testing.T) {
	t.Run("failure omits the payload", func(t *testing.T) {
		resp := AuditResponse{
			Success:   false,
			TraceID:   "t1",
			ErrorCode: ErrMissingURL,
			Details:   "no target URL provided",
		}
		data, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.NotContains(t, string(data), `"data"`)
		assert.NotContains(t, string(data), `"metrics"`)
		assert.Contains(t, string(data), `"errorCode":"MISSING_URL"`)
	})

	t.Run("success omits the error code", func(t *testing.T) {
		resp := AuditResponse{
			Success: true,
			TraceID: "t1",
			Result:  &Result{TraceID: "t1", Pre: &Snapshot{Phase: PhasePre}},
		}
		data, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "errorCode")

		var back AuditResponse
		require.NoError(t, json.Unmarshal(data, &back))
		require.NotNil(t, back.Result)
		assert.Equal(t, PhasePre, back.Result.Pre.Phase)
	})
}
