// Package authcore is the authentication and session-lifecycle core of the
// surrounding business application: credential verification, issuance of
// short-lived signed access tokens and long-lived rotating refresh tokens,
// per-device session tracking, revocation on logout, and role-based
// authorization checks.
//
// # Token model
//
// Access tokens are stateless JWTs validated by signature and expiry alone,
// with no registry lookup on the hot path. Refresh tokens are opaque
// composites (sessionID + "." + secret) whose secret half is stored only as
// a digest and replaced on every use. Presenting an already-rotated refresh
// token revokes the whole session (reuse detection). Revoking a session does
// not recall access tokens already issued for it; their short TTL bounds the
// exposure window.
//
// # Integration
//
// Callers supply a [UserProvider] (user, role, and permission lookup backed
// by the application's master-data store) and a Redis client for the session
// registry, then build an [Engine]:
//
//	engine, err := authcore.New().
//		WithConfig(authcore.DefaultConfig()).
//		WithRedis(rdb).
//		WithUserProvider(provider).
//		Build()
//
// The httpapi package exposes the engine over HTTP; the middleware package
// provides guards for protecting arbitrary handlers.
package authcore
