package authcore

import "errors"

var (
	// ErrUnauthorized is the generic authentication failure returned to
	// callers presenting no credential or an unusable one.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned by login and change-password for any
	// credential failure. Unknown identifier and wrong password produce the
	// same error so callers get no user-existence oracle.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenInvalid marks a malformed or forged access token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired marks a well-signed access token past its TTL.
	ErrTokenExpired = errors.New("token expired")
	// ErrRefreshInvalid marks a refresh token that failed structural decoding.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when an already-rotated refresh token is
	// presented. The session has been revoked as a side effect.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrSessionRevoked is returned when the session was terminated by
	// logout, reuse detection, or administrative force-logout.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionExpired is returned when the refresh chain's absolute
	// lifetime elapsed.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionNotFound is returned when no registry record exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPermissionDenied is returned for a valid identity whose role does
	// not allow the operation (maps to 403, not 401).
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUserNotFound is returned by UserProvider implementations when no
	// record matches. The engine never surfaces it to callers directly.
	ErrUserNotFound = errors.New("user not found")
	// ErrPasswordReuse rejects a password change to the current password.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrLoginRateLimited is surfaced when an installed RateLimiter hook
	// rejects a login attempt.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is surfaced when an installed RateLimiter hook
	// rejects a refresh attempt.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrUnavailable wraps registry I/O failures. Retryable; never a
	// security verdict.
	ErrUnavailable = errors.New("auth backend unavailable")
	// ErrEngineNotReady is returned when an Engine method is called before
	// Build completed.
	ErrEngineNotReady = errors.New("engine not initialized")
)
