package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/keyward/internal/model"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore opens a fresh database in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEnvelope builds an envelope created offset after testEpoch.
func createTestEnvelope(id, receiver, nonce string, offset time.Duration) model.KeyEnvelope {
	at := testEpoch.Add(offset)
	return model.KeyEnvelope{
		ID:           id,
		ProjectID:    "proj-1",
		ReceiverID:   receiver,
		SenderID:     "alice",
		EncryptedKey: []byte("ct-" + id),
		Nonce:        []byte(nonce),
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

// createTestRequest builds a pending request with one pending assignment per
// reviewer. Assignment ids are "<requestID>-<member>".
func createTestRequest(id, project string, reviewers ...string) (model.ApprovalRequest, []model.ReviewerAssignment) {
	req := model.ApprovalRequest{
		ID:          id,
		ProjectID:   project,
		RequestedBy: "alice",
		Mutation: model.Object{
			"secret": model.String("DB_PASSWORD"),
			"action": model.String("update"),
		},
		Status:    model.StatusPending,
		CreatedAt: testEpoch,
		UpdatedAt: testEpoch,
		Version:   1,
	}
	assignments := make([]model.ReviewerAssignment, len(reviewers))
	for i, m := range reviewers {
		assignments[i] = model.ReviewerAssignment{
			ID:        id + "-" + m,
			RequestID: id,
			Member:    m,
			Status:    model.StatusPending,
			CreatedAt: testEpoch.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: testEpoch,
		}
	}
	return req, assignments
}
