package keys

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/keyward/internal/model"
)

// Sealer encrypts a project key for one recipient. Implemented by
// sealer.Box. Every call must produce a fresh nonce.
type Sealer interface {
	Seal(projectKey, recipientPublicKey []byte) (ciphertext, nonce []byte, err error)
}

// FanOutResult reports the per-recipient outcome of a rotation or invite.
type FanOutResult struct {
	// Issued holds the envelopes written, in recipient order.
	Issued []model.KeyEnvelope

	// Failed maps receiver id to the reason no envelope was written.
	Failed map[string]error
}

// FanOut seals projectKey for every recipient of the project and issues one
// envelope each. It is the rotation and invite flow.
//
// Recipients are handled independently: a failure for one never rolls back
// envelopes already issued to others. The returned error joins every
// per-recipient failure and is nil only if all recipients succeeded; the
// caller may retry just the receivers listed in Failed.
func (d *Distributor) FanOut(ctx context.Context, projectID, senderID string, projectKey []byte, sealer Sealer) (FanOutResult, error) {
	if len(projectKey) == 0 {
		return FanOutResult{}, model.InvalidRequest("fan out", "project key is required")
	}
	if sealer == nil {
		return FanOutResult{}, model.InvalidRequest("fan out", "sealer is required")
	}

	recipients, err := d.ListRecipientsNeedingKey(ctx, projectID)
	if err != nil {
		return FanOutResult{}, err
	}

	result := FanOutResult{
		Issued: []model.KeyEnvelope{},
		Failed: map[string]error{},
	}
	var errs []error

	for _, r := range recipients {
		if err := ctx.Err(); err != nil {
			result.Failed[r.UserID] = model.StorageError("fan out", err)
			errs = append(errs, fmt.Errorf("recipient %s: %w", r.UserID, result.Failed[r.UserID]))
			continue
		}

		ciphertext, nonce, err := sealer.Seal(projectKey, r.PublicKey)
		if err != nil {
			result.Failed[r.UserID] = fmt.Errorf("seal: %w", err)
			errs = append(errs, fmt.Errorf("recipient %s: seal: %w", r.UserID, err))
			d.log.Warn("fan-out seal failed", "project", projectID, "receiver", r.UserID, "error", err)
			continue
		}

		env, err := d.IssueEnvelope(ctx, model.EnvelopeParams{
			ProjectID:    projectID,
			SenderID:     senderID,
			ReceiverID:   r.UserID,
			EncryptedKey: ciphertext,
			Nonce:        nonce,
		})
		if err != nil {
			result.Failed[r.UserID] = err
			errs = append(errs, fmt.Errorf("recipient %s: %w", r.UserID, err))
			d.log.Warn("fan-out issue failed", "project", projectID, "receiver", r.UserID, "error", err)
			continue
		}
		result.Issued = append(result.Issued, env)
	}

	d.log.Info("fan-out complete",
		"project", projectID,
		"issued", len(result.Issued),
		"failed", len(result.Failed))
	return result, errors.Join(errs...)
}
