package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/roach88/keyward/internal/approval"
	"github.com/roach88/keyward/internal/model"
	"github.com/roach88/keyward/internal/store"
	"github.com/roach88/keyward/internal/testutil"
)

// Harness is the scenario execution engine.
type Harness struct {
	store     *store.Store
	engine    *approval.Engine
	mutator   *traceMutator
	logger    *slog.Logger
	requestID string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh database under a temporary directory with a
// StepClock and sequential ids, so results are reproducible.
//
// Execution flow:
// 1. Create fresh database
// 2. Build the engine with the scenario's policy
// 3. Create the request (or check that creation fails)
// 4. Execute steps with expect validation
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with engine logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	cfg, err := scenario.PolicyConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	dir, err := os.MkdirTemp("", "keyward-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:   st,
		mutator: &traceMutator{},
		logger:  logger,
	}
	h.engine = approval.NewEngine(st,
		approval.WithPolicyConfig(cfg),
		approval.WithMutator(h.mutator),
		approval.WithLogger(logger),
		approval.WithClock(testutil.NewStepClock()),
		approval.WithIDGenerator(testutil.NewSequenceGenerator(scenario.Name)),
	)

	ctx := context.Background()
	result := NewResult()

	created, err := h.createRequest(ctx, scenario, result)
	if err != nil {
		return nil, err
	}
	if created {
		for i, step := range scenario.Steps {
			if err := h.executeStep(ctx, i+1, step, result); err != nil {
				return nil, fmt.Errorf("step %d: %w", i+1, err)
			}
		}
	}

	actx := &AssertionContext{
		Store:     st,
		Engine:    h.engine,
		RequestID: h.requestID,
		Ctx:       ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// createRequest creates the scenario's request. It reports false when
// creation failed as the scenario expected.
func (h *Harness) createRequest(ctx context.Context, scenario *Scenario, result *Result) (bool, error) {
	var mutation model.Object
	if len(scenario.Mutation) > 0 {
		v, err := model.FromGo(scenario.Mutation)
		if err != nil {
			return false, fmt.Errorf("failed to convert mutation: %w", err)
		}
		mutation = v.(model.Object)
	}

	req, err := h.engine.CreateRequest(ctx, model.NewRequest{
		ProjectID:   scenario.Project,
		RequestedBy: scenario.RequestedBy,
		Mutation:    mutation,
		Reviewers:   scenario.Reviewers,
	})

	ev := TraceEvent{Step: 0, Action: ActionCreate}
	if err != nil {
		ev.Error = errorCode(err)
		result.AddTrace(ev)
		if scenario.CreateError == "" {
			return false, fmt.Errorf("failed to create request: %w", err)
		}
		if ev.Error != scenario.CreateError {
			result.AddError(fmt.Sprintf("create: expected error %s, got %s", scenario.CreateError, ev.Error))
		}
		return false, nil
	}

	ev.Status = req.Status
	result.AddTrace(ev)
	if scenario.CreateError != "" {
		result.AddError(fmt.Sprintf("create: expected error %s, got none", scenario.CreateError))
		return false, nil
	}

	h.requestID = req.ID
	result.RequestID = req.ID
	h.logger.Info("scenario request created", "request", req.ID)
	return true, nil
}

// executeStep runs one step, records it and any mutator callbacks in the
// trace, and validates the expect clause.
func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	ev := TraceEvent{Step: n}
	var err error

	switch {
	case step.Verdict != nil:
		ev.Action = ActionVerdict
		ev.Member = step.Verdict.Member
		ev.Verdict = model.Status(step.Verdict.Status)
		_, err = h.engine.SubmitVerdict(ctx, h.requestID, step.Verdict.Member, ev.Verdict)
	default:
		ev.Action = ActionAddReviewer
		ev.Member = step.AddReviewer
		_, err = h.engine.AddReviewer(ctx, h.requestID, step.AddReviewer)
	}
	if err != nil {
		ev.Error = errorCode(err)
	}

	state, getErr := h.engine.Get(ctx, h.requestID)
	if getErr != nil {
		return fmt.Errorf("read request: %w", getErr)
	}
	ev.Status = state.Request.Status

	result.AddTrace(ev)
	for _, cb := range h.mutator.drain() {
		cb.Step = n
		result.AddTrace(cb)
	}

	h.validateExpect(n, step, ev, result)
	return nil
}

func (h *Harness) validateExpect(n int, step Step, ev TraceEvent, result *Result) {
	if step.Expect == nil {
		if ev.Error != "" {
			result.AddError(fmt.Sprintf("step %d: unexpected error %s", n, ev.Error))
		}
		return
	}
	if step.Expect.Error != ev.Error {
		want := step.Expect.Error
		if want == "" {
			want = "none"
		}
		got := ev.Error
		if got == "" {
			got = "none"
		}
		result.AddError(fmt.Sprintf("step %d: expected error %s, got %s", n, want, got))
	}
	if step.Expect.Status != "" && model.Status(step.Expect.Status) != ev.Status {
		result.AddError(fmt.Sprintf("step %d: expected status %s, got %s", n, step.Expect.Status, ev.Status))
	}
}

// errorCode returns the model error code, or the message for untyped errors.
func errorCode(err error) string {
	if code := model.CodeOf(err); code != "" {
		return string(code)
	}
	return strings.TrimSpace(err.Error())
}

// traceMutator records Apply and Discard calls for the trace.
type traceMutator struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (m *traceMutator) Apply(_ context.Context, req model.ApprovalRequest) error {
	m.record(ActionApply, req)
	return nil
}

func (m *traceMutator) Discard(_ context.Context, req model.ApprovalRequest) error {
	m.record(ActionDiscard, req)
	return nil
}

func (m *traceMutator) record(action string, req model.ApprovalRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, TraceEvent{Action: action, Status: req.Status})
}

func (m *traceMutator) drain() []TraceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.events
	m.events = nil
	return out
}
