package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keyward/internal/model"
)

// TestScenarios runs every shipped scenario and compares its trace with the
// golden file of the same name. Regenerate with:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	scenarios, err := LoadDir("../../testdata/scenarios")
	require.NoError(t, err)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestScenarios_Deterministic(t *testing.T) {
	scenarios, err := LoadDir("../../testdata/scenarios")
	require.NoError(t, err)

	for _, s := range scenarios {
		first, err := Run(s)
		require.NoError(t, err)
		second, err := Run(s)
		require.NoError(t, err)

		a, err := TraceSnapshot{ScenarioName: s.Name, Trace: first.Trace}.MarshalCanonical()
		require.NoError(t, err)
		b, err := TraceSnapshot{ScenarioName: s.Name, Trace: second.Trace}.MarshalCanonical()
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b), s.Name)
	}
}

func TestTraceSnapshot_MarshalCanonical(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "snap",
		Trace: []TraceEvent{
			{Step: 0, Action: ActionCreate, Status: model.StatusPending},
			{Step: 1, Action: ActionAddReviewer, Member: "dave", Status: model.StatusApproved, Error: "ALREADY_TERMINAL"},
		},
	}

	data, err := snap.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"snap","trace":[{"action":"create_request","status":"pending","step":0},`+
			`{"action":"add_reviewer","error":"ALREADY_TERMINAL","member":"dave","status":"approved","step":1}]}`,
		string(data))
}

func TestAssertGolden_ExistingResult(t *testing.T) {
	result := &Result{Trace: []TraceEvent{
		{Step: 0, Action: ActionCreate, Error: "INVALID_REQUEST"},
	}}
	require.NoError(t, AssertGolden(t, "empty_reviewers", result))
}
