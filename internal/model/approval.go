package model

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Status is the state of an approval request or a reviewer assignment.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether s is approved or rejected.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// IsVerdict reports whether s may be submitted by a reviewer.
func (s Status) IsVerdict() bool {
	return s.Terminal()
}

// ApprovalRequest is a proposed secret mutation awaiting reviewer consensus.
type ApprovalRequest struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	RequestedBy string `json:"requested_by,omitempty"`

	// Mutation is an opaque description of the change, applied by an
	// external collaborator once approved.
	Mutation Object `json:"mutation"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version is bumped on every write and guards the verdict transaction.
	Version int64 `json:"-"`
}

// ReviewerAssignment is one reviewer's vote record on a request.
type ReviewerAssignment struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Member    string    `json:"member"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RequestState is a request together with all of its assignments.
type RequestState struct {
	Request     ApprovalRequest      `json:"request"`
	Assignments []ReviewerAssignment `json:"assignments"`
}

// Assignment returns the assignment for member, if any.
func (rs *RequestState) Assignment(member string) (*ReviewerAssignment, bool) {
	for i := range rs.Assignments {
		if rs.Assignments[i].Member == member {
			return &rs.Assignments[i], true
		}
	}
	return nil, false
}

// Statuses returns the assignment statuses in assignment order.
func (rs *RequestState) Statuses() []Status {
	out := make([]Status, len(rs.Assignments))
	for i, a := range rs.Assignments {
		out[i] = a.Status
	}
	return out
}

// NewRequest is the caller input for creating an approval request.
type NewRequest struct {
	ProjectID   string
	RequestedBy string
	Mutation    Object
	Reviewers   []string
}

// PendingScope filters ListPending. Empty fields match everything.
type PendingScope struct {
	ProjectID string
	Reviewer  string
}

// NormalizeMember trims and NFC-normalizes a member identity so visually
// identical identities collapse to one assignment.
func NormalizeMember(member string) string {
	return norm.NFC.String(strings.TrimSpace(member))
}

// DistinctMembers normalizes members and drops empties and duplicates,
// preserving first-seen order.
func DistinctMembers(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		m = NormalizeMember(m)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
