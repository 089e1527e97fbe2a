// Package store provides SQLite-backed durable storage for keyward.
//
// The store holds three groups of tables:
//   - Directory: users, their current public keys, and project memberships
//   - Envelopes: append-only per-recipient encrypted project keys
//   - Approvals: requests, their reviewer assignments, and a row version
//
// # Critical Patterns
//
// Currency by Recency
//   - project_keys rows are never updated
//   - The current envelope is ORDER BY created_at DESC, id DESC LIMIT 1
//   - Timestamps are stored as Unix nanoseconds so the order is exact
//
// Nonce Uniqueness
//   - UNIQUE(nonce) across every envelope; reuse is an invalid request
//
// Per-Request Serialization
//   - UpdateApprovalRequest runs read-modify-write in one IMMEDIATE
//     transaction and bumps approval_requests.version with a compare-and-swap
//   - A lost race is retried against the committed state
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - _txlock=immediate: Writers take the lock at BEGIN
//
// SQLite has a single writer, so immediate transactions serialize all writes,
// including verdicts on unrelated requests. The version compare-and-swap is
// what scopes conflicts to one request; it only loses a race on a store that
// admits concurrent writers.
//
// Every failure leaving this package is a *model.Error.
package store
