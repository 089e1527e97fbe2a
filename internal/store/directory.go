package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/keyward/internal/model"
)

// CreateUser registers a user identity. Re-registering is a no-op.
func (s *Store) CreateUser(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, userID, toNanos(at))
	if err != nil {
		return model.StorageError("create user", err)
	}
	return nil
}

// SetPublicKey registers or replaces a user's public key. Existing envelopes
// are untouched; the new key only affects future sender lookups and fan-outs.
func (s *Store) SetPublicKey(ctx context.Context, userID string, publicKey []byte, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_encryption_keys (user_id, public_key, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			public_key = excluded.public_key,
			updated_at = excluded.updated_at
	`, userID, publicKey, toNanos(at))
	if err != nil {
		if constraintViolation(err, sqlite3.ErrConstraintForeignKey, "") {
			return model.NotFound("set public key", "user %s", userID)
		}
		return model.StorageError("set public key", err)
	}
	return nil
}

// PublicKey returns a user's registered public key.
func (s *Store) PublicKey(ctx context.Context, userID string) ([]byte, error) {
	var key []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT public_key FROM user_encryption_keys WHERE user_id = ?
	`, userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("public key", "no public key registered for user %s", userID)
	}
	if err != nil {
		return nil, model.StorageError("public key", err)
	}
	return key, nil
}

// AddMember grants a user membership of a project. Idempotent.
func (s *Store) AddMember(ctx context.Context, projectID, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_memberships (project_id, user_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id, user_id) DO NOTHING
	`, projectID, userID, toNanos(at))
	if err != nil {
		if constraintViolation(err, sqlite3.ErrConstraintForeignKey, "") {
			return model.NotFound("add member", "user %s", userID)
		}
		return model.StorageError("add member", err)
	}
	return nil
}

// RemoveMember revokes a membership. Envelopes already issued are retained
// for audit; the member simply drops out of future fan-outs.
func (s *Store) RemoveMember(ctx context.Context, projectID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM project_memberships WHERE project_id = ? AND user_id = ?
	`, projectID, userID)
	if err != nil {
		return model.StorageError("remove member", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.StorageError("remove member", err)
	}
	if n == 0 {
		return model.NotFound("remove member", "user %s is not a member of project %s", userID, projectID)
	}
	return nil
}

// ProjectRecipients lists current members of a project that have a
// registered public key, ordered by user id. Members without a key are
// skipped. Returns an empty slice (not nil) when none qualify.
func (s *Store) ProjectRecipients(ctx context.Context, projectID string) ([]model.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, k.public_key
		FROM project_memberships m
		JOIN user_encryption_keys k ON k.user_id = m.user_id
		WHERE m.project_id = ?
		ORDER BY m.user_id COLLATE BINARY ASC
	`, projectID)
	if err != nil {
		return nil, model.StorageError("project recipients", err)
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var r model.Recipient
		if err := rows.Scan(&r.UserID, &r.PublicKey); err != nil {
			return nil, model.StorageError("project recipients", err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageError("project recipients", fmt.Errorf("iterate recipients: %w", err))
	}
	return recipients, nil
}
