// Package model defines the entities shared by the key distributor and the
// approval engine.
//
// This package contains type definitions, the error taxonomy and canonical
// JSON encoding for mutation payloads. It imports nothing internal, so every
// other package can depend on it without cycles.
//
// Key constraints:
//   - Key envelopes are append-only; currency is decided at read time by
//     (created_at, id), never by a stored flag
//   - Approval statuses only move pending → approved | rejected
//   - Mutation payloads carry no floats and no nulls, so their canonical JSON
//     is stable across processes
//   - All JSON tags use snake_case
package model
