// Package keys distributes a project's symmetric key to its members as
// per-recipient encrypted envelopes.
//
// The server never sees the project key in plaintext: a Sealer encrypts it
// under each recipient's public key and the Distributor only stores the
// ciphertext and nonce.
//
// # Currency by recency
//
// Envelopes are append-only. There is no "current" flag to flip on rotation;
// the current envelope for (project, receiver) is the one with the greatest
// created_at, ties broken by the greatest id. Two concurrent rotations both
// succeed and the read side picks one winner deterministically.
//
// # Fan-out
//
// FanOut is the rotation/invite flow. Each recipient's envelope is issued
// independently, so a partial failure leaves already-issued envelopes in
// place and reports the failed receivers for a targeted retry.
package keys
