package model

import "time"

// KeyEnvelope is one recipient-specific encrypted copy of a project key.
//
// Envelopes are append-only. For a (ProjectID, ReceiverID) pair the row with
// the greatest CreatedAt, then the greatest ID, is the current key.
type KeyEnvelope struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	ReceiverID string `json:"receiver_id"`

	// SenderID is empty for system-issued envelopes (stored as NULL).
	SenderID string `json:"sender_id,omitempty"`

	// EncryptedKey is opaque ciphertext of the project key, sealed under the
	// receiver's public key.
	EncryptedKey []byte `json:"encrypted_key"`

	// Nonce is unique across all envelopes.
	Nonce []byte `json:"nonce"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemIssued reports whether no human sender attested this envelope.
func (e KeyEnvelope) SystemIssued() bool {
	return e.SenderID == ""
}

// CurrentKey is the authoritative envelope for a member, with the sender's
// current public key attached for client-side verification.
type CurrentKey struct {
	KeyEnvelope

	// SenderPublicKey is nil when the envelope is system-issued or the sender
	// has no registered key.
	SenderPublicKey []byte `json:"sender_public_key,omitempty"`
}

// EnvelopeParams is the caller-supplied material for a new envelope.
type EnvelopeParams struct {
	ProjectID    string
	SenderID     string
	ReceiverID   string
	EncryptedKey []byte
	Nonce        []byte
}

// Recipient is a project member with a registered public key.
type Recipient struct {
	UserID    string `json:"user_id"`
	PublicKey []byte `json:"public_key"`
}
