package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradegate/authcore/internal"
	"github.com/tradegate/authcore/jwt"
	"github.com/tradegate/authcore/password"
	"github.com/tradegate/authcore/session"
)

// Audit event types emitted by the engine.
const (
	AuditLoginSuccess     = "login_success"
	AuditLoginFailure     = "login_failure"
	AuditRefreshSuccess   = "refresh_success"
	AuditRefreshFailure   = "refresh_failure"
	AuditRefreshReuse     = "refresh_reuse_detected"
	AuditLogout           = "logout"
	AuditLogoutAll        = "logout_all"
	AuditPasswordChanged  = "password_changed"
	AuditPasswordRejected = "password_change_rejected"
	AuditSessionRevoked   = "session_revoked"
)

// Engine implements the authentication and session lifecycle: credential
// verification, access token issuance, refresh rotation with reuse
// detection, and revocation. Construct one through New().Build(); the zero
// value is not usable.
type Engine struct {
	cfg      Config
	tokens   *jwt.Manager
	sessions *session.Store
	creds    *credentialVerifier
	users    UserProvider
	hasher   *password.Hasher
	limiter  RateLimiter
	metrics  *Metrics
	audit    *auditDispatcher
}

// Login verifies the identifier and password, opens a session, and returns a
// fresh access/refresh token pair. All credential failures surface as
// ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, identifier, plain string) (*LoginResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)

	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, identifier, ip); err != nil {
			e.metrics.Inc(MetricLoginRateLimited)
			e.emitAudit(ctx, AuditLoginFailure, "", "", false, ErrLoginRateLimited, nil)
			return nil, ErrLoginRateLimited
		}
	}

	user, upgrade, err := e.creds.verify(ctx, identifier, plain)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			e.metrics.Inc(MetricLoginFailure)
			if e.limiter != nil {
				_ = e.limiter.RecordLoginFailure(ctx, identifier, ip)
			}
			e.emitAudit(ctx, AuditLoginFailure, "", "", false, err, map[string]string{
				"identifier": normalizeIdentifier(identifier),
			})
		}
		return nil, err
	}

	if upgrade && e.cfg.Password.UpgradeOnLogin {
		// The plaintext is in hand only here, so rehash now. Failure is
		// non-fatal; the old digest still verifies.
		if newHash, hashErr := e.hasher.Hash(plain); hashErr == nil {
			_ = e.users.UpdatePasswordHash(ctx, user.UserID, newHash)
		}
	}

	role, err := e.users.GetRoleWithPermissions(ctx, user.RoleName)
	if err != nil {
		return nil, fmt.Errorf("resolving role %q: %w", user.RoleName, err)
	}

	now := time.Now().UTC()
	sess, refreshToken, err := e.openSession(ctx, user, now)
	if err != nil {
		return nil, err
	}

	accessToken, _, err := e.tokens.CreateAccess(user.UserID, sess.SessionID, role.Name, role.Digest())
	if err != nil {
		_, _ = e.sessions.Revoke(ctx, sess.SessionID)
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionCreated)
	if e.limiter != nil {
		_ = e.limiter.ResetLogin(ctx, identifier, ip)
	}
	e.emitAudit(ctx, AuditLoginSuccess, user.UserID, sess.SessionID, true, nil, nil)

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.details(),
	}, nil
}

func (e *Engine) openSession(ctx context.Context, user UserRecord, now time.Time) (*session.Session, string, error) {
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, "", err
	}

	sess := &session.Session{
		SessionID:     internal.NewSessionID(),
		UserID:        user.UserID,
		Role:          user.RoleName,
		DeviceLabel:   deviceLabelFromContext(ctx),
		RefreshDigest: internal.HashRefreshSecret(secret),
		IssuedAt:      now,
		LastRotatedAt: now,
		ExpiresAt:     now.Add(e.cfg.Session.RefreshTTL),
	}

	if err := e.sessions.Create(ctx, sess, e.cfg.Session.RefreshTTL); err != nil {
		return nil, "", mapStoreErr(err)
	}

	refreshToken, err := internal.EncodeRefreshToken(sess.SessionID, secret)
	if err != nil {
		_, _ = e.sessions.Revoke(ctx, sess.SessionID)
		return nil, "", err
	}

	return sess, refreshToken, nil
}

// Refresh rotates the presented refresh token atomically. Exactly one caller
// holding the current token wins; presenting a superseded token revokes the
// whole session and returns ErrRefreshReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	if e.limiter != nil {
		if err := e.limiter.CheckRefresh(ctx, sessionID); err != nil {
			e.metrics.Inc(MetricRefreshRateLimited)
			return nil, ErrRefreshRateLimited
		}
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess, err := e.sessions.Rotate(ctx,
		sessionID,
		internal.HashRefreshSecret(secret),
		internal.HashRefreshSecret(nextSecret),
		now,
	)
	if err != nil {
		return nil, e.refreshFailure(ctx, sessionID, err)
	}

	// Account state is re-checked on every rotation so a disabled or deleted
	// user cannot keep a chain alive for the full refresh lifetime.
	user, err := e.users.GetUserByID(ctx, sess.UserID)
	if err != nil || user.Deleted || !user.Active {
		_, _ = e.sessions.Revoke(ctx, sessionID)
		e.metrics.Inc(MetricRefreshFailure)
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, AuditSessionRevoked, sess.UserID, sessionID, false, ErrSessionRevoked, map[string]string{
			"reason": "account unusable at rotation",
		})
		return nil, ErrSessionRevoked
	}

	role, err := e.users.GetRoleWithPermissions(ctx, user.RoleName)
	if err != nil {
		return nil, fmt.Errorf("resolving role %q: %w", user.RoleName, err)
	}

	newRefresh, err := internal.EncodeRefreshToken(sessionID, nextSecret)
	if err != nil {
		return nil, err
	}

	accessToken, _, err := e.tokens.CreateAccess(user.UserID, sessionID, role.Name, role.Digest())
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditRefreshSuccess, user.UserID, sessionID, true, nil, nil)

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		User:         user.details(),
	}, nil
}

func (e *Engine) refreshFailure(ctx context.Context, sessionID string, err error) error {
	switch {
	case errors.Is(err, session.ErrRefreshHashMismatch):
		// A superseded token was presented. The store already revoked the
		// session; the legitimate holder is forced back through login.
		e.metrics.Inc(MetricRefreshReuseDetected)
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, AuditRefreshReuse, "", sessionID, false, ErrRefreshReuse, nil)
		return ErrRefreshReuse
	case errors.Is(err, session.ErrSessionRevoked):
		e.metrics.Inc(MetricRefreshFailure)
		return ErrSessionRevoked
	case errors.Is(err, session.ErrSessionExpired):
		e.metrics.Inc(MetricRefreshFailure)
		return ErrSessionExpired
	case errors.Is(err, session.ErrSessionNotFound):
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, AuditRefreshFailure, "", sessionID, false, ErrSessionNotFound, nil)
		return ErrSessionNotFound
	default:
		return mapStoreErr(err)
	}
}

// Validate checks an access token's signature, lifetime, and identity claims.
// It is purely local: no registry lookup, so a revoked session's access token
// stays valid until it expires.
func (e *Engine) Validate(_ context.Context, accessToken string) (*AuthResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.tokens.ParseAccess(accessToken)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenInvalid
		}
	}

	return &AuthResult{
		UserID:     claims.UID,
		SessionID:  claims.SID,
		Role:       claims.Role,
		PermDigest: claims.PermDigest,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the caller's session. A valid access token is required to
// authorize the call; the refresh token, when supplied, names the session,
// otherwise the access token's sid claim is used. Logging out an
// already-dead session is not an error.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return ErrUnauthorized
	}

	sessionID := claims.SID
	if refreshToken != "" {
		sid, _, err := internal.DecodeRefreshToken(refreshToken)
		if err != nil {
			return ErrRefreshInvalid
		}
		sessionID = sid

		// A caller may only end a session it owns. The check is best effort
		// when the session is already gone from the registry.
		sess, gerr := e.sessions.Get(ctx, sessionID)
		if gerr == nil && sess.UserID != claims.UID {
			return ErrPermissionDenied
		}
	}

	transitioned, err := e.sessions.Revoke(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return mapStoreErr(err)
	}

	if transitioned {
		e.metrics.Inc(MetricLogout)
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, AuditLogout, claims.UID, sessionID, true, nil, nil)
	}

	return nil
}

// LogoutAll force-terminates every active session of a user. Returns the
// number of sessions transitioned to revoked.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, mapStoreErr(err)
	}

	if n > 0 {
		e.metrics.Inc(MetricLogoutAll)
		for i := 0; i < n; i++ {
			e.metrics.Inc(MetricSessionRevoked)
		}
		e.emitAudit(ctx, AuditLogoutAll, userID, "", true, nil, map[string]string{
			"revoked": fmt.Sprintf("%d", n),
		})
	}

	return n, nil
}

// Profile returns the current user record for a valid access token.
func (e *Engine) Profile(ctx context.Context, accessToken string) (UserDetails, error) {
	res, err := e.Validate(ctx, accessToken)
	if err != nil {
		return UserDetails{}, err
	}

	user, err := e.users.GetUserByID(ctx, res.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserDetails{}, ErrUnauthorized
		}
		return UserDetails{}, err
	}
	if user.Deleted || !user.Active {
		return UserDetails{}, ErrUnauthorized
	}

	return user.details(), nil
}

// ChangePassword verifies the current password, installs the new digest, and
// revokes every session of the user except the caller's own.
func (e *Engine) ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	res, err := e.Validate(ctx, accessToken)
	if err != nil {
		return err
	}

	user, err := e.users.GetUserByID(ctx, res.UserID)
	if err != nil || user.Deleted || !user.Active {
		return ErrUnauthorized
	}

	ok, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		e.metrics.Inc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, AuditPasswordRejected, user.UserID, res.SessionID, false, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if oldPassword == newPassword {
		e.metrics.Inc(MetricPasswordChangeFailure)
		return ErrPasswordReuse
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, user.UserID, newHash); err != nil {
		return err
	}

	// Other devices may hold refresh tokens minted under the old password.
	// Kill them all; the caller's own session stays live.
	sessions, err := e.sessions.ListByUser(ctx, user.UserID, time.Now().UTC())
	if err == nil {
		for _, s := range sessions {
			if s.SessionID == res.SessionID {
				continue
			}
			if transitioned, rerr := e.sessions.Revoke(ctx, s.SessionID); rerr == nil && transitioned {
				e.metrics.Inc(MetricSessionRevoked)
			}
		}
	}

	e.metrics.Inc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditPasswordChanged, user.UserID, res.SessionID, true, nil, nil)

	return nil
}

// ListUserSessions returns the user's live sessions. Ordering follows
// registry enumeration and is not stable.
func (e *Engine) ListUserSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sessions, err := e.sessions.ListByUser(ctx, userID, time.Now().UTC())
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return toSessionInfos(sessions), nil
}

// Sessions returns every live session in the registry.
func (e *Engine) Sessions(ctx context.Context) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sessions, err := e.sessions.ListAll(ctx, time.Now().UTC())
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return toSessionInfos(sessions), nil
}

// RevokeSession force-terminates a single session by ID, for administrative
// surfaces. Idempotent.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	transitioned, err := e.sessions.Revoke(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return mapStoreErr(err)
	}
	if transitioned {
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, AuditSessionRevoked, "", sessionID, true, nil, nil)
	}
	return nil
}

// Stats reports aggregate counters plus the current active-session total.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	if e == nil || e.sessions == nil {
		return Stats{}, ErrEngineNotReady
	}

	total, err := e.sessions.ActiveCount(ctx)
	if err != nil {
		return Stats{}, mapStoreErr(err)
	}

	snap := e.metrics.Snapshot()
	counters := make(map[string]uint64, len(snap.Counters))
	for id, v := range snap.Counters {
		counters[id.String()] = v
	}

	return Stats{
		TotalActiveSessions: total,
		Counters:            counters,
		AuditDropped:        e.audit.Dropped(),
	}, nil
}

// MetricsSnapshot exposes raw counters and histograms for exporters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports events discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close drains the audit dispatcher. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) emitAudit(ctx context.Context, eventType, userID, sessionID string, success bool, cause error, meta map[string]string) {
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  meta,
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	e.audit.Emit(ctx, event)
}

func toSessionInfos(sessions []*session.Session) []SessionInfo {
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			SessionID:     s.SessionID,
			UserID:        s.UserID,
			Role:          s.Role,
			DeviceLabel:   s.DeviceLabel,
			IssuedAt:      s.IssuedAt,
			LastRotatedAt: s.LastRotatedAt,
			ExpiresAt:     s.ExpiresAt,
		})
	}
	return infos
}

func mapStoreErr(err error) error {
	if errors.Is(err, session.ErrRedisUnavailable) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
