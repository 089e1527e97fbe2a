package harness

import "github.com/roach88/keyward/internal/model"

// Trace actions.
const (
	ActionCreate      = "create_request"
	ActionVerdict     = "submit_verdict"
	ActionAddReviewer = "add_reviewer"
	ActionApply       = "apply"
	ActionDiscard     = "discard"
)

// TraceEvent records one engine call or mutator callback.
type TraceEvent struct {
	Step    int          `json:"step"`
	Action  string       `json:"action"`
	Member  string       `json:"member,omitempty"`
	Verdict model.Status `json:"verdict,omitempty"`

	// Status is the request status after the call.
	Status model.Status `json:"status,omitempty"`

	// Error is the error code returned by the call, if any.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// RequestID is the id of the request the scenario created.
	RequestID string `json:"request_id,omitempty"`

	// Trace contains every call in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
