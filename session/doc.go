// Package session implements the durable registry of refresh-token chains:
// one record per logical login (device/browser instance), holding the digest
// of the single currently-valid refresh secret.
//
// # Invariants
//
//   - Per session, at most one refresh digest is valid at any instant.
//     Rotation is a single Lua script that compares the presented digest and
//     swaps in the next one; concurrent rotations have exactly one winner.
//   - Presenting a stale digest is treated as replay of an already-rotated
//     token: the script revokes the session before reporting the mismatch.
//   - Revocation is terminal. A revoked record is never flipped back and is
//     retained (with its original TTL) so listings and audits can observe it
//     until natural expiry collects the key.
//
// # Architecture boundaries
//
// This package owns Redis persistence and atomicity only. Token encoding,
// secret generation, and policy live in the root package and internal/.
package session
