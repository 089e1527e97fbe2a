package keys

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/keyward/internal/ident"
	"github.com/roach88/keyward/internal/model"
)

// EnvelopeStore persists key envelopes. Implemented by store.Store.
type EnvelopeStore interface {
	InsertEnvelope(ctx context.Context, env model.KeyEnvelope) error
	LatestEnvelope(ctx context.Context, projectID, receiverID string) (model.CurrentKey, error)
	EnvelopeHistory(ctx context.Context, projectID, receiverID string) ([]model.KeyEnvelope, error)
}

// Directory answers membership questions on behalf of the identity service.
type Directory interface {
	ProjectRecipients(ctx context.Context, projectID string) ([]model.Recipient, error)
}

// Distributor creates and looks up key envelopes.
//
// It holds no mutable state between calls; every envelope is a new row and
// currency is decided by the store's (created_at, id) ordering.
type Distributor struct {
	envelopes EnvelopeStore
	directory Directory
	ids       ident.Generator
	clock     ident.Clock
	log       *slog.Logger
	timeout   time.Duration
}

// Option configures a Distributor.
type Option func(*Distributor)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Distributor) {
		if logger != nil {
			d.log = logger
		}
	}
}

// WithIDGenerator overrides the UUIDv7 envelope id generator.
func WithIDGenerator(gen ident.Generator) Option {
	return func(d *Distributor) {
		if gen != nil {
			d.ids = gen
		}
	}
}

// WithClock overrides the wall clock used for created_at/updated_at.
func WithClock(clock ident.Clock) Option {
	return func(d *Distributor) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithTimeout bounds each store call. Expiry surfaces as a storage error.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Distributor) {
		d.timeout = timeout
	}
}

// NewDistributor creates a Distributor over the given store and directory.
func NewDistributor(envelopes EnvelopeStore, directory Directory, opts ...Option) *Distributor {
	d := &Distributor{
		envelopes: envelopes,
		directory: directory,
		ids:       ident.UUIDv7Generator{},
		clock:     ident.SystemClock{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Distributor) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(ctx, d.timeout)
	}
	return ctx, func() {}
}

// ResolveCurrentKey returns the authoritative envelope for a user in a
// project: greatest created_at, then greatest id.
//
// Fails with model.CodeNotFound when the user was never granted a key for the
// project. Whether the user has a registered public key is a separate
// precondition the caller checks.
func (d *Distributor) ResolveCurrentKey(ctx context.Context, projectID, userID string) (model.CurrentKey, error) {
	projectID, userID = strings.TrimSpace(projectID), strings.TrimSpace(userID)
	if projectID == "" || userID == "" {
		return model.CurrentKey{}, model.InvalidRequest("resolve current key", "project id and user id are required")
	}

	ctx, cancel := d.storeContext(ctx)
	defer cancel()

	return d.envelopes.LatestEnvelope(ctx, projectID, userID)
}

// ListRecipientsNeedingKey enumerates every current member of the project
// with a registered public key, whether or not they already hold a current
// envelope. Read-only; calling it again re-enumerates.
func (d *Distributor) ListRecipientsNeedingKey(ctx context.Context, projectID string) ([]model.Recipient, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, model.InvalidRequest("list recipients", "project id is required")
	}

	ctx, cancel := d.storeContext(ctx)
	defer cancel()

	return d.directory.ProjectRecipients(ctx, projectID)
}

// IssueEnvelope persists already-encrypted key material as a new envelope.
//
// No cryptography happens here. Exactly one row is inserted; earlier
// envelopes for the receiver are superseded by recency, never modified. An
// empty SenderID records a system-issued envelope. Retrying after a storage
// failure issues a fresh envelope and is safe; the caller must seal again
// so the nonce is fresh.
func (d *Distributor) IssueEnvelope(ctx context.Context, p model.EnvelopeParams) (model.KeyEnvelope, error) {
	const op = "issue envelope"

	p.ProjectID = strings.TrimSpace(p.ProjectID)
	p.ReceiverID = strings.TrimSpace(p.ReceiverID)
	p.SenderID = strings.TrimSpace(p.SenderID)
	switch {
	case p.ProjectID == "":
		return model.KeyEnvelope{}, model.InvalidRequest(op, "project id is required")
	case p.ReceiverID == "":
		return model.KeyEnvelope{}, model.InvalidRequest(op, "receiver id is required")
	case len(p.EncryptedKey) == 0:
		return model.KeyEnvelope{}, model.InvalidRequest(op, "encrypted key is required")
	case len(p.Nonce) == 0:
		return model.KeyEnvelope{}, model.InvalidRequest(op, "nonce is required")
	}

	now := d.clock.Now()
	env := model.KeyEnvelope{
		ID:           d.ids.Generate(),
		ProjectID:    p.ProjectID,
		ReceiverID:   p.ReceiverID,
		SenderID:     p.SenderID,
		EncryptedKey: p.EncryptedKey,
		Nonce:        p.Nonce,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctx, cancel := d.storeContext(ctx)
	defer cancel()

	if err := d.envelopes.InsertEnvelope(ctx, env); err != nil {
		return model.KeyEnvelope{}, err
	}

	d.log.Debug("issued key envelope",
		"envelope", env.ID,
		"project", env.ProjectID,
		"receiver", env.ReceiverID,
		"system_issued", env.SystemIssued())
	return env, nil
}

// History returns every envelope a user has received for a project, newest
// first. The first element, if any, equals ResolveCurrentKey's envelope.
func (d *Distributor) History(ctx context.Context, projectID, userID string) ([]model.KeyEnvelope, error) {
	projectID, userID = strings.TrimSpace(projectID), strings.TrimSpace(userID)
	if projectID == "" || userID == "" {
		return nil, model.InvalidRequest("envelope history", "project id and user id are required")
	}

	ctx, cancel := d.storeContext(ctx)
	defer cancel()

	return d.envelopes.EnvelopeHistory(ctx, projectID, userID)
}
