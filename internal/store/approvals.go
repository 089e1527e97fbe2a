package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/keyward/internal/model"
)

// maxUpdateAttempts bounds optimistic retries of a request update.
const maxUpdateAttempts = 8

// errVersionConflict signals that another writer committed between our read
// and our compare-and-swap on approval_requests.version.
var errVersionConflict = errors.New("approval request version conflict")

const requestColumns = `r.id, r.project_id, r.requested_by, r.mutation,
	r.status, r.version, r.created_at, r.updated_at`

// CreateApprovalRequest inserts a request and its assignments in a single
// transaction. Either everything is persisted or nothing is.
func (s *Store) CreateApprovalRequest(ctx context.Context, req model.ApprovalRequest, assignments []model.ReviewerAssignment) error {
	mutationJSON, err := model.MarshalCanonical(req.Mutation)
	if err != nil {
		return model.InvalidRequest("create approval request", "mutation: %v", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.StorageError("create approval request", fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_requests
		(id, project_id, requested_by, mutation, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.ID,
		req.ProjectID,
		req.RequestedBy,
		string(mutationJSON),
		string(req.Status),
		req.Version,
		toNanos(req.CreatedAt),
		toNanos(req.UpdatedAt),
	)
	if err != nil {
		return model.StorageError("create approval request", fmt.Errorf("insert request: %w", err))
	}

	for _, a := range assignments {
		if err := insertAssignment(ctx, tx, a); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return model.StorageError("create approval request", fmt.Errorf("commit: %w", err))
	}
	return nil
}

func insertAssignment(ctx context.Context, q querier, a model.ReviewerAssignment) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO approval_reviewers
		(id, request_id, member, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		a.RequestID,
		a.Member,
		string(a.Status),
		toNanos(a.CreatedAt),
		toNanos(a.UpdatedAt),
	)
	if err != nil {
		if constraintViolation(err, sqlite3.ErrConstraintUnique, "approval_reviewers.request_id") {
			return model.InvalidRequest("insert assignment",
				"member %s already assigned to request %s", a.Member, a.RequestID)
		}
		return model.StorageError("insert assignment", err)
	}
	return nil
}

// ReadApprovalRequest returns a request with its assignments, ordered by
// (created_at, id). The read is a single statement, so the request and its
// assignments come from one consistent snapshot.
func (s *Store) ReadApprovalRequest(ctx context.Context, requestID string) (model.RequestState, error) {
	state, err := loadRequestState(ctx, s.db, requestID)
	if err != nil {
		return model.RequestState{}, classifyRead("read approval request", err)
	}
	return state, nil
}

// UpdateApprovalRequest runs fn against the current state of one request
// inside a transaction scoped to that request, then persists whatever fn
// changed: status updates on existing assignments, newly appended
// assignments and the request status.
//
// The request row is written with a compare-and-swap on its version. If a
// concurrent writer committed first, the whole read-evaluate-write is retried
// against the committed state, so fn may run more than once and must be a
// pure function of the state it is given. Errors returned by fn abort the
// update and are returned unchanged.
func (s *Store) UpdateApprovalRequest(ctx context.Context, requestID string, fn func(*model.RequestState) error) (model.RequestState, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		state, err := s.tryUpdateApprovalRequest(ctx, requestID, fn)
		if errors.Is(err, errVersionConflict) {
			continue
		}
		return state, err
	}
	return model.RequestState{}, model.StorageError("update approval request",
		fmt.Errorf("request %s: %w after %d attempts", requestID, errVersionConflict, maxUpdateAttempts))
}

func (s *Store) tryUpdateApprovalRequest(ctx context.Context, requestID string, fn func(*model.RequestState) error) (model.RequestState, error) {
	const op = "update approval request"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.RequestState{}, model.StorageError(op, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	state, err := loadRequestState(ctx, tx, requestID)
	if err != nil {
		return model.RequestState{}, classifyRead(op, err)
	}

	before := make(map[string]model.ReviewerAssignment, len(state.Assignments))
	for _, a := range state.Assignments {
		before[a.ID] = a
	}
	version := state.Request.Version

	if err := fn(&state); err != nil {
		return model.RequestState{}, err
	}

	for _, a := range state.Assignments {
		prev, existed := before[a.ID]
		switch {
		case !existed:
			if err := insertAssignment(ctx, tx, a); err != nil {
				return model.RequestState{}, err
			}
		case prev.Status != a.Status:
			_, err := tx.ExecContext(ctx, `
				UPDATE approval_reviewers SET status = ?, updated_at = ?
				WHERE id = ? AND request_id = ?
			`, string(a.Status), toNanos(a.UpdatedAt), a.ID, requestID)
			if err != nil {
				return model.RequestState{}, model.StorageError(op, fmt.Errorf("update assignment: %w", err))
			}
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, string(state.Request.Status), toNanos(state.Request.UpdatedAt), requestID, version)
	if err != nil {
		return model.RequestState{}, model.StorageError(op, fmt.Errorf("update request: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.RequestState{}, model.StorageError(op, fmt.Errorf("rows affected: %w", err))
	}
	if n == 0 {
		return model.RequestState{}, errVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return model.RequestState{}, model.StorageError(op, fmt.Errorf("commit: %w", err))
	}

	state.Request.Version = version + 1
	return state, nil
}

// ListPendingRequests returns pending requests matching scope in creation
// order (created_at, id). Returns an empty slice (not nil) when none match.
func (s *Store) ListPendingRequests(ctx context.Context, scope model.PendingScope) ([]model.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM approval_requests r
		WHERE r.status = ?
		  AND (? = '' OR r.project_id = ?)
		  AND (? = '' OR EXISTS (
			SELECT 1 FROM approval_reviewers a
			WHERE a.request_id = r.id AND a.member = ?
		  ))
		ORDER BY r.created_at ASC, r.id COLLATE BINARY ASC
	`,
		string(model.StatusPending),
		scope.ProjectID, scope.ProjectID,
		scope.Reviewer, scope.Reviewer,
	)
	if err != nil {
		return nil, model.StorageError("list pending requests", err)
	}
	defer rows.Close()

	requests := []model.ApprovalRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, model.StorageError("list pending requests", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageError("list pending requests", fmt.Errorf("iterate requests: %w", err))
	}
	return requests, nil
}

// loadRequestState reads a request and its assignments in one statement.
// Returns sql.ErrNoRows if the request does not exist.
func loadRequestState(ctx context.Context, q querier, requestID string) (model.RequestState, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+requestColumns+`,
			a.id, a.member, a.status, a.created_at, a.updated_at
		FROM approval_requests r
		LEFT JOIN approval_reviewers a ON a.request_id = r.id
		WHERE r.id = ?
		ORDER BY a.created_at ASC, a.id COLLATE BINARY ASC
	`, requestID)
	if err != nil {
		return model.RequestState{}, fmt.Errorf("query request: %w", err)
	}
	defer rows.Close()

	var state model.RequestState
	found := false
	for rows.Next() {
		var (
			req                  model.ApprovalRequest
			mutationJSON, status string
			created, updated     int64
			aID, aMember, aStat  sql.NullString
			aCreated, aUpdated   sql.NullInt64
		)
		if err := rows.Scan(
			&req.ID, &req.ProjectID, &req.RequestedBy, &mutationJSON,
			&status, &req.Version, &created, &updated,
			&aID, &aMember, &aStat, &aCreated, &aUpdated,
		); err != nil {
			return model.RequestState{}, fmt.Errorf("scan request: %w", err)
		}

		if !found {
			if err := json.Unmarshal([]byte(mutationJSON), &req.Mutation); err != nil {
				return model.RequestState{}, fmt.Errorf("unmarshal mutation: %w", err)
			}
			req.Status = model.Status(status)
			req.CreatedAt = fromNanos(created)
			req.UpdatedAt = fromNanos(updated)
			state.Request = req
			found = true
		}

		if aID.Valid {
			state.Assignments = append(state.Assignments, model.ReviewerAssignment{
				ID:        aID.String,
				RequestID: requestID,
				Member:    aMember.String,
				Status:    model.Status(aStat.String),
				CreatedAt: fromNanos(aCreated.Int64),
				UpdatedAt: fromNanos(aUpdated.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return model.RequestState{}, fmt.Errorf("iterate request: %w", err)
	}
	if !found {
		return model.RequestState{}, sql.ErrNoRows
	}
	if state.Assignments == nil {
		state.Assignments = []model.ReviewerAssignment{}
	}
	return state, nil
}

func scanRequest(sc scanner) (model.ApprovalRequest, error) {
	var (
		req                  model.ApprovalRequest
		mutationJSON, status string
		created, updated     int64
	)
	if err := sc.Scan(
		&req.ID, &req.ProjectID, &req.RequestedBy, &mutationJSON,
		&status, &req.Version, &created, &updated,
	); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("scan request: %w", err)
	}
	if err := json.Unmarshal([]byte(mutationJSON), &req.Mutation); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("unmarshal mutation: %w", err)
	}
	req.Status = model.Status(status)
	req.CreatedAt = fromNanos(created)
	req.UpdatedAt = fromNanos(updated)
	return req, nil
}

// classifyRead maps a missing request to NotFound and anything else to a
// storage failure.
func classifyRead(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.NotFound(op, "approval request not found")
	}
	return model.StorageError(op, err)
}
