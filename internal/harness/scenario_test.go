package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keyward/internal/approval"
)

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validScenario = `
name: test_scenario
description: "Test scenario for validation"
project: proj-1
mutation:
  secret: DB_PASSWORD
  action: update
reviewers: [alice, bob]
steps:
  - verdict: { member: alice, status: approved }
  - add_reviewer: carol
    expect: { status: pending }
assertions:
  - type: final_status
    status: pending
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), validScenario)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "proj-1", scenario.Project)
	assert.Equal(t, []string{"alice", "bob"}, scenario.Reviewers)
	assert.Equal(t, "DB_PASSWORD", scenario.Mutation["secret"])
	require.Len(t, scenario.Steps, 2)
	require.NotNil(t, scenario.Steps[0].Verdict)
	assert.Equal(t, "alice", scenario.Steps[0].Verdict.Member)
	assert.Equal(t, "carol", scenario.Steps[1].AddReviewer)
	assert.Equal(t, "pending", scenario.Steps[1].Expect.Status)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, t.TempDir(), validScenario+"reviwers: [dave]\n")

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: d
project: p
mutation: {a: b}
steps: [{add_reviewer: x}]
assertions: [{type: final_status, status: pending}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing project",
			content: `
name: n
description: d
mutation: {a: b}
steps: [{add_reviewer: x}]
assertions: [{type: final_status, status: pending}]
`,
			wantErr: "project is required",
		},
		{
			name: "missing mutation",
			content: `
name: n
description: d
project: p
steps: [{add_reviewer: x}]
assertions: [{type: final_status, status: pending}]
`,
			wantErr: "mutation is required",
		},
		{
			name: "no steps",
			content: `
name: n
description: d
project: p
mutation: {a: b}
assertions: [{type: final_status, status: pending}]
`,
			wantErr: "steps list is required",
		},
		{
			name: "step with both kinds",
			content: `
name: n
description: d
project: p
mutation: {a: b}
steps:
  - verdict: {member: a, status: approved}
    add_reviewer: x
assertions: [{type: final_status, status: pending}]
`,
			wantErr: "exactly one of verdict or add_reviewer",
		},
		{
			name: "unknown expect code",
			content: `
name: n
description: d
project: p
mutation: {a: b}
steps:
  - add_reviewer: x
    expect: {error: BOOM}
assertions: [{type: final_status, status: pending}]
`,
			wantErr: "unknown error code",
		},
		{
			name: "steps with create_error",
			content: `
name: n
description: d
project: p
create_error: INVALID_REQUEST
steps: [{add_reviewer: x}]
assertions: [{type: trace_count, action: create_request, count: 1}]
`,
			wantErr: "steps are not allowed with create_error",
		},
		{
			name: "policy and policy_file",
			content: `
name: n
description: d
project: p
mutation: {a: b}
policy: {threshold: 2}
policy_file: p.cue
steps: [{add_reviewer: x}]
assertions: [{type: final_status, status: pending}]
`,
			wantErr: "mutually exclusive",
		},
		{
			name: "incoherent inline policy",
			content: `
name: n
description: d
project: p
mutation: {a: b}
policy: {require_unanimous_approval: true, threshold: 2}
steps: [{add_reviewer: x}]
assertions: [{type: final_status, status: pending}]
`,
			wantErr: "conflicts with unanimous approval",
		},
		{
			name: "no assertions",
			content: `
name: n
description: d
project: p
mutation: {a: b}
steps: [{add_reviewer: x}]
`,
			wantErr: "assertions list is required",
		},
		{
			name: "unknown assertion type",
			content: `
name: n
description: d
project: p
mutation: {a: b}
steps: [{add_reviewer: x}]
assertions: [{type: trace_contains}]
`,
			wantErr: "unknown assertion type",
		},
		{
			name: "final_status without status",
			content: `
name: n
description: d
project: p
mutation: {a: b}
steps: [{add_reviewer: x}]
assertions: [{type: final_status}]
`,
			wantErr: "valid status is required",
		},
		{
			name: "final_state without expect",
			content: `
name: n
description: d
project: p
mutation: {a: b}
steps: [{add_reviewer: x}]
assertions: [{type: final_state, table: approval_requests}]
`,
			wantErr: "expect is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_PolicyFileRelativeToScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quorum.cue"),
		[]byte("policy: {\n\treject_on_any_veto: false\n\trequire_unanimous_approval: false\n\tthreshold: 3\n}\n"), 0644))
	path := writeScenario(t, dir, validScenario+"policy_file: quorum.cue\n")

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "quorum.cue"), scenario.PolicyFile)

	cfg, err := scenario.PolicyConfig()
	require.NoError(t, err)
	assert.Equal(t, approval.PolicyConfig{Threshold: 3}, cfg)
}

func TestScenario_PolicyConfig(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		cfg, err := (&Scenario{}).PolicyConfig()
		require.NoError(t, err)
		assert.Equal(t, approval.DefaultPolicyConfig(), cfg)
	})

	t.Run("inline", func(t *testing.T) {
		inline := InlinePolicy{RejectOnAnyVeto: true, Threshold: 2}
		cfg, err := (&Scenario{Policy: &inline}).PolicyConfig()
		require.NoError(t, err)
		assert.Equal(t, approval.PolicyConfig{RejectOnAnyVeto: true, Threshold: 2}, cfg)
	})

	t.Run("inline yaml keeps defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := writeScenario(t, dir, validScenario+"policy: {require_unanimous_approval: false, threshold: 2}\n")

		scenario, err := LoadScenario(path)
		require.NoError(t, err)
		cfg, err := scenario.PolicyConfig()
		require.NoError(t, err)
		assert.Equal(t, approval.PolicyConfig{
			RejectOnAnyVeto:          true,
			RequireUnanimousApproval: false,
			Threshold:                2,
		}, cfg)
	})

	t.Run("inline yaml matches cue file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "quorum.cue"), []byte("policy: {threshold: 2}\n"), 0644))

		fromFile, err := LoadScenario(writeScenario(t, dir, validScenario+"policy_file: quorum.cue\n"))
		require.NoError(t, err)
		_, err = fromFile.PolicyConfig()
		require.Error(t, err)

		inlineDir := t.TempDir()
		_, err = LoadScenario(writeScenario(t, inlineDir, validScenario+"policy: {threshold: 2}\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "conflicts with unanimous approval")
	})

	t.Run("inline yaml unknown field", func(t *testing.T) {
		dir := t.TempDir()
		_, err := LoadScenario(writeScenario(t, dir, validScenario+"policy: {quorum: 2}\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown field "quorum"`)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := (&Scenario{PolicyFile: "/nonexistent/policy.cue"}).PolicyConfig()
		require.Error(t, err)
	})
}

// TestLoadDir validates the scenario files shipped in testdata/scenarios.
func TestLoadDir(t *testing.T) {
	scenarios, err := LoadDir("../../testdata/scenarios")
	require.NoError(t, err)

	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.Name
	}
	assert.Equal(t, []string{
		"empty_reviewers",
		"majority_late_reviewer",
		"single_veto",
		"two_of_n",
		"unanimous_approval",
		"verdict_errors",
	}, names)
}

func TestLoadDir_Empty(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios found")
}
