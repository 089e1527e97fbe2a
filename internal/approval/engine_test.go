package approval

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keyward/internal/model"
	"github.com/roach88/keyward/internal/store"
	"github.com/roach88/keyward/internal/testutil"
)

// recordingMutator records every call and optionally fails.
type recordingMutator struct {
	mu        sync.Mutex
	applied   []string
	discarded []string
	err       error
}

func (m *recordingMutator) Apply(_ context.Context, req model.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, req.ID)
	return m.err
}

func (m *recordingMutator) Discard(_ context.Context, req model.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discarded = append(m.discarded, req.ID)
	return m.err
}

func (m *recordingMutator) calls() (applied, discarded []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.applied...), append([]string(nil), m.discarded...)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	opts = append([]Option{WithClock(testutil.NewStepClock())}, opts...)
	return NewEngine(s, opts...), s
}

func testMutation() model.Object {
	return model.Object{
		"secret": model.String("DB_PASSWORD"),
		"action": model.String("update"),
	}
}

func createRequest(t *testing.T, e *Engine, reviewers ...string) model.ApprovalRequest {
	t.Helper()
	req, err := e.CreateRequest(context.Background(), model.NewRequest{
		ProjectID:   "proj-1",
		RequestedBy: "alice",
		Mutation:    testMutation(),
		Reviewers:   reviewers,
	})
	require.NoError(t, err)
	return req
}

func TestCreateRequest(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	req := createRequest(t, e, "bob", " carol ", "bob")
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, model.StatusPending, req.Status)
	assert.Equal(t, int64(1), req.Version)

	state, err := e.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, state.Request.Status)
	require.Len(t, state.Assignments, 2, "reviewers are de-duplicated after trimming")
	assert.Equal(t, "bob", state.Assignments[0].Member)
	assert.Equal(t, "carol", state.Assignments[1].Member)
	assert.Equal(t, []model.Status{P, P}, state.Statuses())
	assert.Equal(t, testMutation(), state.Request.Mutation)
}

func TestCreateRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   model.NewRequest
	}{
		{"no reviewers", model.NewRequest{ProjectID: "proj-1", Mutation: testMutation()}},
		{"blank reviewers", model.NewRequest{ProjectID: "proj-1", Mutation: testMutation(), Reviewers: []string{"", " "}}},
		{"no project", model.NewRequest{Mutation: testMutation(), Reviewers: []string{"bob"}}},
		{"no mutation", model.NewRequest{ProjectID: "proj-1", Reviewers: []string{"bob"}}},
		{"unencodable mutation", model.NewRequest{ProjectID: "proj-1", Mutation: model.Object{"k": nil}, Reviewers: []string{"bob"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			ctx := context.Background()

			_, err := e.CreateRequest(ctx, tt.in)
			require.Error(t, err)
			assert.True(t, model.IsInvalidRequest(err), "got %v", err)

			pending, err := e.ListPending(ctx, model.PendingScope{})
			require.NoError(t, err)
			assert.Empty(t, pending, "nothing is persisted")
		})
	}
}

func TestSubmitVerdict_SingleVetoRejects(t *testing.T) {
	mut := &recordingMutator{}
	e, _ := newTestEngine(t, WithMutator(mut))
	ctx := context.Background()
	req := createRequest(t, e, "A", "B", "C")

	got, err := e.SubmitVerdict(ctx, req.ID, "B", model.StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)

	state, err := e.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, state.Request.Status)
	assert.Equal(t, []model.Status{P, R, P}, state.Statuses(), "other assignments stay pending")

	applied, discarded := mut.calls()
	assert.Empty(t, applied)
	assert.Equal(t, []string{req.ID}, discarded)
}

func TestSubmitVerdict_UnanimousApproval(t *testing.T) {
	mut := &recordingMutator{}
	e, _ := newTestEngine(t, WithMutator(mut))
	ctx := context.Background()
	req := createRequest(t, e, "A", "B")

	got, err := e.SubmitVerdict(ctx, req.ID, "A", model.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	applied, _ := mut.calls()
	assert.Empty(t, applied, "mutator is not called while pending")

	got, err = e.SubmitVerdict(ctx, req.ID, "B", model.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)

	applied, discarded := mut.calls()
	assert.Equal(t, []string{req.ID}, applied)
	assert.Empty(t, discarded)
}

func TestSubmitVerdict_AlreadyTerminal(t *testing.T) {
	mut := &recordingMutator{}
	e, _ := newTestEngine(t, WithMutator(mut))
	ctx := context.Background()
	req := createRequest(t, e, "A", "B")

	_, err := e.SubmitVerdict(ctx, req.ID, "A", model.StatusRejected)
	require.NoError(t, err)

	before, err := e.Get(ctx, req.ID)
	require.NoError(t, err)

	_, err = e.SubmitVerdict(ctx, req.ID, "B", model.StatusApproved)
	require.Error(t, err)
	assert.True(t, model.IsAlreadyTerminal(err), "got %v", err)

	after, err := e.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "late verdict changes nothing")

	_, discarded := mut.calls()
	assert.Len(t, discarded, 1, "mutator runs once per request")
}

func TestSubmitVerdict_UnassignedMember(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	req := createRequest(t, e, "A", "B")

	_, err := e.SubmitVerdict(ctx, req.ID, "Z", model.StatusRejected)
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))

	state, err := e.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, state.Request.Status)
	assert.Equal(t, []model.Status{P, P}, state.Statuses())
}

func TestSubmitVerdict_UnknownRequest(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.SubmitVerdict(context.Background(), "missing", "A", model.StatusApproved)
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func TestSubmitVerdict_InvalidInput(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	req := createRequest(t, e, "A")

	for _, verdict := range []model.Status{model.StatusPending, "maybe", ""} {
		_, err := e.SubmitVerdict(ctx, req.ID, "A", verdict)
		assert.True(t, model.IsInvalidRequest(err), "verdict %q", verdict)
	}
	_, err := e.SubmitVerdict(ctx, "", "A", model.StatusApproved)
	assert.True(t, model.IsInvalidRequest(err))
	_, err = e.SubmitVerdict(ctx, req.ID, " ", model.StatusApproved)
	assert.True(t, model.IsInvalidRequest(err))
}

func TestSubmitVerdict_RevoteWhilePending(t *testing.T) {
	e, _ := newTestEngine(t, WithPolicyConfig(PolicyConfig{}))
	ctx := context.Background()
	req := createRequest(t, e, "A", "B", "C")

	_, err := e.SubmitVerdict(ctx, req.ID, "A", model.StatusRejected)
	require.NoError(t, err)
	got, err := e.SubmitVerdict(ctx, req.ID, "A", model.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	got, err = e.SubmitVerdict(ctx, req.ID, "B", model.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
}

func TestSubmitVerdict_ConcurrentApproveAndRejectEndsRejected(t *testing.T) {
	for i := 0; i < 10; i++ {
		mut := &recordingMutator{}
		e, _ := newTestEngine(t, WithMutator(mut))
		ctx := context.Background()
		req := createRequest(t, e, "A", "B")

		var wg sync.WaitGroup
		var approveErr, rejectErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, approveErr = e.SubmitVerdict(ctx, req.ID, "A", model.StatusApproved)
		}()
		go func() {
			defer wg.Done()
			_, rejectErr = e.SubmitVerdict(ctx, req.ID, "B", model.StatusRejected)
		}()
		wg.Wait()

		require.NoError(t, rejectErr)
		if approveErr != nil {
			assert.True(t, model.IsAlreadyTerminal(approveErr), "got %v", approveErr)
		}

		state, err := e.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, state.Request.Status)

		applied, discarded := mut.calls()
		assert.Empty(t, applied)
		assert.Len(t, discarded, 1)
	}
}

func TestSubmitVerdict_ConcurrentRequestsAreIndependent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	const n = 8
	reqs := make([]model.ApprovalRequest, n)
	for i := range reqs {
		reqs[i] = createRequest(t, e, "A")
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, req := range reqs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.SubmitVerdict(ctx, id, "A", model.StatusApproved)
			errs <- err
		}(req.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, req := range reqs {
		state, err := e.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusApproved, state.Request.Status)
	}
}

// capturingMutator keeps the last request handed to Apply.
type capturingMutator struct {
	applied model.ApprovalRequest
}

func (m *capturingMutator) Apply(_ context.Context, req model.ApprovalRequest) error {
	m.applied = req
	return nil
}

func (m *capturingMutator) Discard(context.Context, model.ApprovalRequest) error { return nil }

func TestSubmitVerdict_AppliesMutationAsProposed(t *testing.T) {
	mut := &capturingMutator{}
	e, _ := newTestEngine(t, WithMutator(mut))
	ctx := context.Background()

	proposed := model.Object{
		"secret": model.String("GREETING"),
		"value":  model.String("cafe\u0301"),
	}
	req, err := e.CreateRequest(ctx, model.NewRequest{
		ProjectID: "proj-1",
		Mutation:  proposed,
		Reviewers: []string{"A"},
	})
	require.NoError(t, err)

	pending, err := e.ListPending(ctx, model.PendingScope{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, proposed, pending[0].Mutation)

	_, err = e.SubmitVerdict(ctx, req.ID, "A", model.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, proposed, mut.applied.Mutation)

	state, err := e.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, proposed, state.Request.Mutation)
}

func TestSubmitVerdict_MutatorFailureSurfaces(t *testing.T) {
	mut := &recordingMutator{err: errors.New("vault unavailable")}
	e, _ := newTestEngine(t, WithMutator(mut))
	ctx := context.Background()
	req := createRequest(t, e, "A")

	got, err := e.SubmitVerdict(ctx, req.ID, "A", model.StatusApproved)
	require.Error(t, err)
	assert.ErrorIs(t, err, mut.err)
	assert.Equal(t, model.StatusApproved, got.Status, "resolution is committed before the mutator runs")

	state, err := e.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, state.Request.Status)
}

func TestSubmitVerdict_CustomPolicy(t *testing.T) {
	// Approve as soon as anyone approves.
	anyApproval := func(statuses []model.Status) model.Status {
		for _, s := range statuses {
			if s == model.StatusApproved {
				return model.StatusApproved
			}
		}
		return model.StatusPending
	}
	e, _ := newTestEngine(t, WithPolicy(anyApproval))
	ctx := context.Background()
	req := createRequest(t, e, "A", "B", "C")

	got, err := e.SubmitVerdict(ctx, req.ID, "C", model.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
}

func TestSubmitVerdict_InvalidPolicyOutputIsRejected(t *testing.T) {
	e, _ := newTestEngine(t, WithPolicy(func([]model.Status) model.Status { return "bogus" }))
	ctx := context.Background()
	req := createRequest(t, e, "A")

	_, err := e.SubmitVerdict(ctx, req.ID, "A", model.StatusApproved)
	require.Error(t, err)

	state, err := e.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, state.Request.Status)
	assert.Equal(t, []model.Status{P}, state.Statuses())
}

func TestAddReviewer(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	req := createRequest(t, e, "A")

	_, err := e.SubmitVerdict(ctx, req.ID, "A", model.StatusApproved)
	require.NoError(t, err)
	_, err = e.AddReviewer(ctx, req.ID, "B")
	assert.True(t, model.IsAlreadyTerminal(err), "got %v", err)

	req2 := createRequest(t, e, "A", "B")
	_, err = e.SubmitVerdict(ctx, req2.ID, "A", model.StatusApproved)
	require.NoError(t, err)

	got, err := e.AddReviewer(ctx, req2.ID, "C")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	_, err = e.AddReviewer(ctx, req2.ID, " C ")
	require.NoError(t, err)

	state, err := e.Get(ctx, req2.ID)
	require.NoError(t, err)
	require.Len(t, state.Assignments, 3, "re-adding a reviewer is a no-op")

	_, err = e.SubmitVerdict(ctx, req2.ID, "B", model.StatusApproved)
	require.NoError(t, err)
	got, err = e.SubmitVerdict(ctx, req2.ID, "C", model.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
}

func TestAddReviewer_UnknownRequest(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.AddReviewer(context.Background(), "missing", "A")
	assert.True(t, model.IsNotFound(err))
}

func TestListPending(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	r1 := createRequest(t, e, "A", "B")
	r2 := createRequest(t, e, "B")
	r3 := createRequest(t, e, "C")

	_, err := e.SubmitVerdict(ctx, r2.ID, "B", model.StatusApproved)
	require.NoError(t, err)

	pending, err := e.ListPending(ctx, model.PendingScope{})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, r1.ID, pending[0].ID)
	assert.Equal(t, r3.ID, pending[1].ID)

	pending, err = e.ListPending(ctx, model.PendingScope{Reviewer: " B "})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, r1.ID, pending[0].ID)

	pending, err = e.ListPending(ctx, model.PendingScope{ProjectID: "other"})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGet_NotFound(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Get(context.Background(), "missing")
	assert.True(t, model.IsNotFound(err))
}
