package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/keyward/internal/model"
)

const envelopeColumns = `k.id, k.project_id, k.receiver_id, k.sender_id,
	k.encrypted_key, k.nonce, k.created_at, k.updated_at`

// InsertEnvelope appends a key envelope. It never updates or deletes rows.
//
// A nonce already used by any other envelope is rejected with
// model.CodeInvalidRequest; every other failure is model.CodeStorage.
func (s *Store) InsertEnvelope(ctx context.Context, env model.KeyEnvelope) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_keys
		(id, project_id, receiver_id, sender_id, encrypted_key, nonce, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		env.ID,
		env.ProjectID,
		env.ReceiverID,
		nullString(env.SenderID),
		env.EncryptedKey,
		env.Nonce,
		toNanos(env.CreatedAt),
		toNanos(env.UpdatedAt),
	)
	if err != nil {
		if constraintViolation(err, sqlite3.ErrConstraintUnique, "project_keys.nonce") {
			return model.InvalidRequest("insert envelope", "nonce already used by another envelope")
		}
		return model.StorageError("insert envelope", err)
	}
	return nil
}

// LatestEnvelope returns the current envelope for a receiver in a project:
// ORDER BY created_at DESC, id DESC. The sender's current public key is
// left-joined so system-issued envelopes are still returned.
func (s *Store) LatestEnvelope(ctx context.Context, projectID, receiverID string) (model.CurrentKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+envelopeColumns+`, uek.public_key
		FROM project_keys k
		LEFT JOIN user_encryption_keys uek ON uek.user_id = k.sender_id
		WHERE k.project_id = ? AND k.receiver_id = ?
		ORDER BY k.created_at DESC, k.id DESC
		LIMIT 1
	`, projectID, receiverID)

	var ck model.CurrentKey
	err := scanEnvelope(row, &ck.KeyEnvelope, &ck.SenderPublicKey)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CurrentKey{}, model.NotFound("resolve current key",
			"no key for user %s in project %s", receiverID, projectID)
	}
	if err != nil {
		return model.CurrentKey{}, model.StorageError("resolve current key", err)
	}
	return ck, nil
}

// EnvelopeHistory returns every envelope for a receiver in a project, newest
// first. Returns an empty slice (not nil) when none exist.
func (s *Store) EnvelopeHistory(ctx context.Context, projectID, receiverID string) ([]model.KeyEnvelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+envelopeColumns+`
		FROM project_keys k
		WHERE k.project_id = ? AND k.receiver_id = ?
		ORDER BY k.created_at DESC, k.id DESC
	`, projectID, receiverID)
	if err != nil {
		return nil, model.StorageError("envelope history", err)
	}
	defer rows.Close()

	envelopes := []model.KeyEnvelope{}
	for rows.Next() {
		var env model.KeyEnvelope
		if err := scanEnvelope(rows, &env); err != nil {
			return nil, model.StorageError("envelope history", err)
		}
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageError("envelope history", fmt.Errorf("iterate envelopes: %w", err))
	}
	return envelopes, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEnvelope scans envelopeColumns plus any extra destinations.
func scanEnvelope(sc scanner, env *model.KeyEnvelope, extra ...any) error {
	var sender sql.NullString
	var created, updated int64

	dest := []any{
		&env.ID, &env.ProjectID, &env.ReceiverID, &sender,
		&env.EncryptedKey, &env.Nonce, &created, &updated,
	}
	dest = append(dest, extra...)
	if err := sc.Scan(dest...); err != nil {
		return err
	}

	env.SenderID = sender.String
	env.CreatedAt = fromNanos(created)
	env.UpdatedAt = fromNanos(updated)
	return nil
}
