package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/keyward/internal/approval"
	"github.com/roach88/keyward/internal/model"
	"github.com/roach88/keyward/internal/policy"
)

// Scenario defines an approval test case.
type Scenario struct {
	// Name identifies the scenario and prefixes its generated ids.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Project is the project the request belongs to.
	Project string `yaml:"project"`

	// RequestedBy is the member proposing the mutation.
	RequestedBy string `yaml:"requested_by,omitempty"`

	// Mutation is the proposed change. Floats and nulls are rejected.
	Mutation map[string]interface{} `yaml:"mutation"`

	// Reviewers are assigned when the request is created.
	Reviewers []string `yaml:"reviewers"`

	// Policy is an inline quorum policy. Omitted fields take the defaults of
	// approval.DefaultPolicyConfig, as in a CUE policy file.
	Policy *InlinePolicy `yaml:"policy,omitempty"`

	// PolicyFile is a CUE policy, resolved relative to the scenario file.
	PolicyFile string `yaml:"policy_file,omitempty"`

	// CreateError, when set, is the error code request creation must fail
	// with. Steps are not allowed in that case.
	CreateError string `yaml:"create_error,omitempty"`

	// Steps run in order against the created request.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after all steps.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one engine call. Exactly one of Verdict or AddReviewer is set.
type Step struct {
	Verdict     *VerdictStep  `yaml:"verdict,omitempty"`
	AddReviewer string        `yaml:"add_reviewer,omitempty"`
	Expect      *ExpectClause `yaml:"expect,omitempty"`
}

// VerdictStep submits a reviewer's verdict.
type VerdictStep struct {
	Member string `yaml:"member"`
	Status string `yaml:"status"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Status is the request status after the step.
	Status string `yaml:"status,omitempty"`

	// Error is the expected error code, e.g. ALREADY_TERMINAL.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_status": Request status after all steps
	// - "trace_count": Action appears exactly Count times
	// - "trace_order": Actions appear in order
	// - "final_state": Query a table and verify expected values
	Type string `yaml:"type"`

	// Status is the expected request status (final_status).
	Status string `yaml:"status,omitempty"`

	// Action is the trace action (trace_count).
	Action string `yaml:"action,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Table is the table name (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state). All fields must match.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state). Subset match.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalStatus = "final_status"
	AssertTraceCount  = "trace_count"
	AssertTraceOrder  = "trace_order"
	AssertFinalState  = "final_state"
)

var knownCodes = map[string]bool{
	string(model.CodeNotFound):        true,
	string(model.CodeInvalidRequest):  true,
	string(model.CodeAlreadyTerminal): true,
	string(model.CodeStorage):         true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.PolicyFile != "" && !filepath.IsAbs(scenario.PolicyFile) {
		scenario.PolicyFile = filepath.Join(filepath.Dir(path), scenario.PolicyFile)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios found in %s", dir)
	}

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// InlinePolicy is a policy written directly in a scenario.
type InlinePolicy approval.PolicyConfig

var inlinePolicyFields = map[string]bool{
	"reject_on_any_veto":         true,
	"require_unanimous_approval": true,
	"threshold":                  true,
}

// UnmarshalYAML decodes the policy on top of approval.DefaultPolicyConfig.
// Unknown fields are rejected.
func (p *InlinePolicy) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: policy must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if !inlinePolicyFields[key.Value] {
			return fmt.Errorf("line %d: policy: unknown field %q", key.Line, key.Value)
		}
	}

	cfg := approval.DefaultPolicyConfig()
	if err := node.Decode(&cfg); err != nil {
		return err
	}
	*p = InlinePolicy(cfg)
	return nil
}

// PolicyConfig returns the scenario's effective policy.
func (s *Scenario) PolicyConfig() (approval.PolicyConfig, error) {
	switch {
	case s.PolicyFile != "":
		return policy.Load(s.PolicyFile)
	case s.Policy != nil:
		cfg := approval.PolicyConfig(*s.Policy)
		return cfg, cfg.Validate()
	default:
		return approval.DefaultPolicyConfig(), nil
	}
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Project == "" {
		return fmt.Errorf("project is required")
	}
	if s.Policy != nil && s.PolicyFile != "" {
		return fmt.Errorf("policy and policy_file are mutually exclusive")
	}
	if s.Policy != nil {
		if err := approval.PolicyConfig(*s.Policy).Validate(); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}

	if s.CreateError != "" {
		if !knownCodes[s.CreateError] {
			return fmt.Errorf("create_error: unknown error code %q", s.CreateError)
		}
		if len(s.Steps) > 0 {
			return fmt.Errorf("steps are not allowed with create_error")
		}
	} else {
		if len(s.Mutation) == 0 {
			return fmt.Errorf("mutation is required")
		}
		if len(s.Steps) == 0 {
			return fmt.Errorf("steps list is required and must be non-empty")
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	hasVerdict := step.Verdict != nil
	hasAdd := step.AddReviewer != ""
	if hasVerdict == hasAdd {
		return fmt.Errorf("steps[%d]: exactly one of verdict or add_reviewer is required", index)
	}
	if hasVerdict {
		if step.Verdict.Member == "" {
			return fmt.Errorf("steps[%d]: verdict.member is required", index)
		}
		if step.Verdict.Status == "" {
			return fmt.Errorf("steps[%d]: verdict.status is required", index)
		}
	}
	if step.Expect != nil {
		if step.Expect.Status != "" && !model.Status(step.Expect.Status).Valid() {
			return fmt.Errorf("steps[%d]: expect.status: unknown status %q", index, step.Expect.Status)
		}
		if step.Expect.Error != "" && !knownCodes[step.Expect.Error] {
			return fmt.Errorf("steps[%d]: expect.error: unknown error code %q", index, step.Expect.Error)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalStatus:
		if !model.Status(a.Status).Valid() {
			return fmt.Errorf("assertions[%d]: valid status is required for final_status", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
