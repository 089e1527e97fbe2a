package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/keyward/internal/ident"
	"github.com/roach88/keyward/internal/model"
)

// Store persists approval requests and their assignments. Implemented by
// store.Store.
type Store interface {
	CreateApprovalRequest(ctx context.Context, req model.ApprovalRequest, assignments []model.ReviewerAssignment) error
	ReadApprovalRequest(ctx context.Context, requestID string) (model.RequestState, error)

	// UpdateApprovalRequest runs fn in a transaction scoped to one request
	// and persists its changes, retrying fn against committed state if a
	// concurrent writer won the race.
	UpdateApprovalRequest(ctx context.Context, requestID string, fn func(*model.RequestState) error) (model.RequestState, error)

	ListPendingRequests(ctx context.Context, scope model.PendingScope) ([]model.ApprovalRequest, error)
}

// Mutator applies or discards a resolved request's mutation. It is called
// once, by the verdict that moved the request out of pending, after that
// transition has committed.
type Mutator interface {
	Apply(ctx context.Context, req model.ApprovalRequest) error
	Discard(ctx context.Context, req model.ApprovalRequest) error
}

// Engine drives the approval state machine.
type Engine struct {
	store   Store
	config  PolicyConfig
	policy  Policy
	mutator Mutator
	ids     ident.Generator
	clock   ident.Clock
	log     *slog.Logger
	timeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicyConfig selects one of the enumerated quorum policies.
func WithPolicyConfig(cfg PolicyConfig) Option {
	return func(e *Engine) {
		e.config = cfg
		e.policy = cfg.Policy()
	}
}

// WithPolicy installs a custom evaluation function.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithMutator sets the collaborator that applies approved mutations.
func WithMutator(m Mutator) Option {
	return func(e *Engine) {
		e.mutator = m
	}
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.log = logger
		}
	}
}

// WithIDGenerator overrides the UUIDv7 id generator.
func WithIDGenerator(gen ident.Generator) Option {
	return func(e *Engine) {
		if gen != nil {
			e.ids = gen
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(clock ident.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithTimeout bounds each store call. Expiry surfaces as a storage error,
// never as a verdict outcome.
func WithTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.timeout = timeout
	}
}

// NewEngine creates an Engine with the default single-veto, unanimous policy.
func NewEngine(store Store, opts ...Option) *Engine {
	cfg := DefaultPolicyConfig()
	e := &Engine{
		store:  store,
		config: cfg,
		policy: cfg.Policy(),
		ids:    ident.UUIDv7Generator{},
		clock:  ident.SystemClock{},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return ctx, func() {}
}

// CreateRequest creates a pending request with one pending assignment per
// distinct reviewer. The request and its assignments are persisted
// atomically.
//
// Fails with model.CodeInvalidRequest, persisting nothing, when the project
// is missing, the mutation is empty or not encodable, or no reviewer remains
// after normalization and de-duplication.
func (e *Engine) CreateRequest(ctx context.Context, in model.NewRequest) (model.ApprovalRequest, error) {
	const op = "create request"

	projectID := strings.TrimSpace(in.ProjectID)
	if projectID == "" {
		return model.ApprovalRequest{}, model.InvalidRequest(op, "project id is required")
	}
	if len(in.Mutation) == 0 {
		return model.ApprovalRequest{}, model.InvalidRequest(op, "mutation is required")
	}
	digest, err := model.MutationDigest(in.Mutation)
	if err != nil {
		return model.ApprovalRequest{}, model.InvalidRequest(op, "mutation: %v", err)
	}
	reviewers := model.DistinctMembers(in.Reviewers)
	if len(reviewers) == 0 {
		return model.ApprovalRequest{}, model.InvalidRequest(op, "at least one reviewer is required")
	}

	now := e.clock.Now()
	req := model.ApprovalRequest{
		ID:          e.ids.Generate(),
		ProjectID:   projectID,
		RequestedBy: model.NormalizeMember(in.RequestedBy),
		Mutation:    in.Mutation,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	assignments := make([]model.ReviewerAssignment, len(reviewers))
	for i, member := range reviewers {
		assignments[i] = model.ReviewerAssignment{
			ID:        e.ids.Generate(),
			RequestID: req.ID,
			Member:    member,
			Status:    model.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	if err := e.store.CreateApprovalRequest(sctx, req, assignments); err != nil {
		return model.ApprovalRequest{}, err
	}

	e.log.Info("approval request created",
		"request", req.ID,
		"project", req.ProjectID,
		"reviewers", len(reviewers),
		"mutation_digest", digest,
		"policy", e.config.String())
	return req, nil
}

// SubmitVerdict records member's verdict and re-evaluates the request.
//
// Fails with model.CodeInvalidRequest for a verdict other than approved or
// rejected, model.CodeNotFound when the request does not exist or member has
// no assignment on it, and model.CodeAlreadyTerminal when the request was
// already resolved; in every failure case nothing changes.
//
// The read-evaluate-write runs in a transaction scoped to this request, so
// concurrent verdicts on the same request serialize while verdicts on other
// requests proceed independently.
func (e *Engine) SubmitVerdict(ctx context.Context, requestID, member string, verdict model.Status) (model.ApprovalRequest, error) {
	const op = "submit verdict"

	requestID = strings.TrimSpace(requestID)
	member = model.NormalizeMember(member)
	switch {
	case requestID == "":
		return model.ApprovalRequest{}, model.InvalidRequest(op, "request id is required")
	case member == "":
		return model.ApprovalRequest{}, model.InvalidRequest(op, "member is required")
	case !verdict.IsVerdict():
		return model.ApprovalRequest{}, model.InvalidRequest(op, "verdict must be approved or rejected, got %q", verdict)
	}

	now := e.clock.Now()
	state, err := e.update(ctx, requestID, func(st *model.RequestState) error {
		a, ok := st.Assignment(member)
		if !ok {
			return model.NotFound(op, "member %s has no assignment on request %s", member, requestID)
		}
		if st.Request.Status.Terminal() {
			return model.AlreadyTerminal(op, requestID, st.Request.Status)
		}
		if a.Status != verdict {
			a.Status = verdict
			a.UpdatedAt = now
		}
		return e.evaluate(st, now)
	})
	if err != nil {
		return model.ApprovalRequest{}, err
	}

	e.log.Info("verdict recorded",
		"request", requestID,
		"member", member,
		"verdict", verdict,
		"status", state.Request.Status)

	return e.resolve(ctx, state.Request)
}

// AddReviewer assigns an additional reviewer to a pending request. Assigning
// an existing reviewer again is a no-op. Fails with
// model.CodeAlreadyTerminal once the request is resolved.
func (e *Engine) AddReviewer(ctx context.Context, requestID, member string) (model.ApprovalRequest, error) {
	const op = "add reviewer"

	requestID = strings.TrimSpace(requestID)
	member = model.NormalizeMember(member)
	if requestID == "" || member == "" {
		return model.ApprovalRequest{}, model.InvalidRequest(op, "request id and member are required")
	}

	now := e.clock.Now()
	added := false
	state, err := e.update(ctx, requestID, func(st *model.RequestState) error {
		added = false
		if st.Request.Status.Terminal() {
			return model.AlreadyTerminal(op, requestID, st.Request.Status)
		}
		if _, ok := st.Assignment(member); ok {
			return nil
		}
		st.Assignments = append(st.Assignments, model.ReviewerAssignment{
			ID:        e.ids.Generate(),
			RequestID: requestID,
			Member:    member,
			Status:    model.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
		added = true
		return e.evaluate(st, now)
	})
	if err != nil {
		return model.ApprovalRequest{}, err
	}

	if added {
		e.log.Info("reviewer added", "request", requestID, "member", member)
	}
	return e.resolve(ctx, state.Request)
}

// ListPending returns a snapshot of pending requests in creation order.
func (e *Engine) ListPending(ctx context.Context, scope model.PendingScope) ([]model.ApprovalRequest, error) {
	scope.ProjectID = strings.TrimSpace(scope.ProjectID)
	scope.Reviewer = model.NormalizeMember(scope.Reviewer)

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	return e.store.ListPendingRequests(sctx, scope)
}

// Get returns a request with all of its assignments.
func (e *Engine) Get(ctx context.Context, requestID string) (model.RequestState, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return model.RequestState{}, model.InvalidRequest("get request", "request id is required")
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	return e.store.ReadApprovalRequest(sctx, requestID)
}

func (e *Engine) update(ctx context.Context, requestID string, fn func(*model.RequestState) error) (model.RequestState, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	return e.store.UpdateApprovalRequest(sctx, requestID, fn)
}

// evaluate applies the policy to a pending request. Only pending requests
// reach this point, so the transition is always pending → next.
func (e *Engine) evaluate(st *model.RequestState, now time.Time) error {
	next := e.policy(st.Statuses())
	if !next.Valid() {
		return fmt.Errorf("approval policy returned invalid status %q", next)
	}
	if next != st.Request.Status {
		st.Request.Status = next
	}
	st.Request.UpdatedAt = now
	return nil
}

// resolve hands a freshly resolved request to the mutator. The calling
// operation observed the request pending inside its transaction, so a
// terminal status here means this call made the transition.
func (e *Engine) resolve(ctx context.Context, req model.ApprovalRequest) (model.ApprovalRequest, error) {
	if !req.Status.Terminal() {
		return req, nil
	}

	e.log.Info("approval request resolved", "request", req.ID, "status", req.Status)
	if e.mutator == nil {
		return req, nil
	}

	var err error
	if req.Status == model.StatusApproved {
		err = e.mutator.Apply(ctx, req)
	} else {
		err = e.mutator.Discard(ctx, req)
	}
	if err != nil {
		e.log.Error("mutator failed", "request", req.ID, "status", req.Status, "error", err)
		return req, fmt.Errorf("%s mutation for request %s: %w", req.Status, req.ID, err)
	}
	return req, nil
}
