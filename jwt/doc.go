// Package jwt issues and verifies the short-lived, stateless access tokens
// used by authcore. A token carries identity and role claims plus a digest of
// the role's permission set; it is validated purely by signature and expiry,
// never by a registry lookup.
//
// # Architecture boundaries
//
// This package is pure computation with no I/O and no locking. Revocation
// semantics live in the session registry; an access token remains usable until
// its own TTL elapses regardless of session state.
package jwt
