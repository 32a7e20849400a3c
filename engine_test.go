package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tradegate/authcore/password"
)

// memoryProvider is an in-memory UserProvider with a recorded hash-update
// log, enough to drive the engine in tests.
type memoryProvider struct {
	mu      sync.Mutex
	byID    map[string]UserRecord
	byIdent map[string]string
	roles   map[string]Role
	updates []string
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{
		byID:    map[string]UserRecord{},
		byIdent: map[string]string{},
		roles: map[string]Role{
			"admin": {Name: "admin", Permissions: []Permission{
				{Action: "manage", Subject: "sessions"},
				{Action: "read", Subject: "stats"},
			}},
			"sales": {Name: "sales", Permissions: []Permission{
				{Action: "read", Subject: "orders"},
			}},
		},
	}
}

func (m *memoryProvider) addUser(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.UserID] = u
	for _, ident := range []string{u.Email, u.Username, u.EmployeeCode} {
		if ident != "" {
			m.byIdent[strings.ToLower(ident)] = u.UserID
		}
	}
}

func (m *memoryProvider) setActive(userID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byID[userID]
	u.Active = active
	m.byID[userID] = u
}

func (m *memoryProvider) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIdent[identifier]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return m.byID[id], nil
}

func (m *memoryProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memoryProvider) GetRoleWithPermissions(_ context.Context, roleName string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleName]
	if !ok {
		return Role{}, errors.New("unknown role")
	}
	return role, nil
}

func (m *memoryProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = newHash
	m.byID[userID] = u
	m.updates = append(m.updates, userID)
	return nil
}

func (m *memoryProvider) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.JWT.AccessTTL = time.Minute
	cfg.Session.RefreshTTL = time.Hour
	// Minimum argon2 cost keeps hashing off the test's critical path.
	cfg.Password = PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	return cfg
}

func testHash(t *testing.T, cfg Config, plain string) string {
	t.Helper()

	h, err := password.New(cfg.passwordConfig())
	if err != nil {
		t.Fatalf("password.New failed: %v", err)
	}
	digest, err := h.Hash(plain)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	return digest
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestEngine(t *testing.T, cfg Config, up *memoryProvider) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr, client := newTestRedis(t)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(up).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, mr
}

func seededEngine(t *testing.T) (*Engine, *memoryProvider, *miniredis.Miniredis) {
	t.Helper()

	cfg := testConfig(t)
	up := newMemoryProvider()
	up.addUser(UserRecord{
		UserID:       "u-admin",
		Email:        "admin@x.com",
		Username:     "admin",
		EmployeeCode: "E-001",
		PasswordHash: testHash(t, cfg, "demo123"),
		RoleName:     "admin",
		Active:       true,
	})
	up.addUser(UserRecord{
		UserID:       "u-sales",
		Email:        "sales@x.com",
		Username:     "sales1",
		PasswordHash: testHash(t, cfg, "sales-pass-1"),
		RoleName:     "sales",
		Active:       true,
	})

	engine, mr := newTestEngine(t, cfg, up)
	return engine, up, mr
}

func TestLoginReturnsUsableTokenPair(t *testing.T) {
	engine, _, _ := seededEngine(t)

	result, err := engine.Login(context.Background(), "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if result.User.UserID != "u-admin" || result.User.Role != "admin" {
		t.Fatalf("unexpected user details: %+v", result.User)
	}

	res, err := engine.Validate(context.Background(), result.AccessToken)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if res.UserID != "u-admin" || res.Role != "admin" || res.SessionID == "" {
		t.Fatalf("unexpected auth result: %+v", res)
	}
	if res.PermDigest == "" {
		t.Fatal("expected a permission digest in claims")
	}
}

func TestLoginIdentifierIsCaseInsensitive(t *testing.T) {
	engine, _, _ := seededEngine(t)

	if _, err := engine.Login(context.Background(), "  Admin@X.COM ", "demo123"); err != nil {
		t.Fatalf("normalized identifier should log in: %v", err)
	}
}

func TestLoginAcceptsAnyIdentifierKind(t *testing.T) {
	engine, _, _ := seededEngine(t)

	// Email, username, and employee code all resolve the same account.
	for _, identifier := range []string{"admin@x.com", "admin", "E-001", "e-001"} {
		if _, err := engine.Login(context.Background(), identifier, "demo123"); err != nil {
			t.Fatalf("identifier %q should log in: %v", identifier, err)
		}
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	engine, up, _ := seededEngine(t)
	up.setActive("u-sales", false)

	cases := []struct {
		name       string
		identifier string
		password   string
	}{
		{"unknown user", "nobody@x.com", "demo123"},
		{"wrong password", "admin@x.com", "wrong"},
		{"inactive user", "sales@x.com", "sales-pass-1"},
		{"empty password", "admin@x.com", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Login(context.Background(), tc.identifier, tc.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestRefreshRotatesChain(t *testing.T) {
	engine, _, _ := seededEngine(t)

	result, err := engine.Login(context.Background(), "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	current := result.RefreshToken
	for i := 0; i < 3; i++ {
		next, err := engine.Refresh(context.Background(), current)
		if err != nil {
			t.Fatalf("rotation %d failed: %v", i+1, err)
		}
		if next.RefreshToken == current {
			t.Fatal("rotation must issue a new refresh token")
		}
		current = next.RefreshToken
	}
}

func TestRefreshReuseRevokesSession(t *testing.T) {
	engine, _, _ := seededEngine(t)

	result, err := engine.Login(context.Background(), "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	rotated, err := engine.Refresh(context.Background(), result.RefreshToken)
	if err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}

	// Replaying the superseded token must trip reuse detection.
	if _, err := engine.Refresh(context.Background(), result.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}

	// Reuse kills the whole chain, including the legitimate latest token.
	if _, err := engine.Refresh(context.Background(), rotated.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after reuse, got %v", err)
	}
}

func TestRefreshMalformedToken(t *testing.T) {
	engine, _, _ := seededEngine(t)

	for _, token := range []string{"", "no-dot", "not-a-uuid.c2VjcmV0"} {
		if _, err := engine.Refresh(context.Background(), token); !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("token %q: expected ErrRefreshInvalid, got %v", token, err)
		}
	}
}

func TestRefreshDisabledUserRevokesSession(t *testing.T) {
	engine, up, _ := seededEngine(t)

	result, err := engine.Login(context.Background(), "sales@x.com", "sales-pass-1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	up.setActive("u-sales", false)

	if _, err := engine.Refresh(context.Background(), result.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked for disabled user, got %v", err)
	}
}

func TestLogoutIsTerminalAndIdempotent(t *testing.T) {
	engine, _, _ := seededEngine(t)

	result, err := engine.Login(context.Background(), "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := engine.Logout(context.Background(), result.AccessToken, result.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := engine.Refresh(context.Background(), result.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after logout, got %v", err)
	}

	// Logging out twice is not an error.
	if err := engine.Logout(context.Background(), result.AccessToken, result.RefreshToken); err != nil {
		t.Fatalf("repeated logout failed: %v", err)
	}
}

func TestLogoutByAccessTokenOnly(t *testing.T) {
	engine, _, _ := seededEngine(t)

	result, err := engine.Login(context.Background(), "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := engine.Logout(context.Background(), result.AccessToken, ""); err != nil {
		t.Fatalf("logout by access token failed: %v", err)
	}
	if _, err := engine.Refresh(context.Background(), result.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestLogoutRequiresValidAccessToken(t *testing.T) {
	engine, _, _ := seededEngine(t)

	result, err := engine.Login(context.Background(), "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	for _, accessToken := range []string{"", "not-a-jwt"} {
		if err := engine.Logout(context.Background(), accessToken, result.RefreshToken); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("access token %q: expected ErrUnauthorized, got %v", accessToken, err)
		}
	}

	// The unauthorized attempts must not have touched the session.
	if _, err := engine.Refresh(context.Background(), result.RefreshToken); err != nil {
		t.Fatalf("session should survive unauthorized logout attempts: %v", err)
	}
}

func TestLogoutRejectsForeignSession(t *testing.T) {
	engine, _, _ := seededEngine(t)

	adminLogin, err := engine.Login(context.Background(), "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("admin login failed: %v", err)
	}
	salesLogin, err := engine.Login(context.Background(), "sales@x.com", "sales-pass-1")
	if err != nil {
		t.Fatalf("sales login failed: %v", err)
	}

	err = engine.Logout(context.Background(), adminLogin.AccessToken, salesLogin.RefreshToken)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	// The foreign session must still be alive.
	if _, err := engine.Refresh(context.Background(), salesLogin.RefreshToken); err != nil {
		t.Fatalf("foreign session should survive: %v", err)
	}
}

func TestValidateIsStatelessAfterRevocation(t *testing.T) {
	engine, _, _ := seededEngine(t)

	result, err := engine.Login(context.Background(), "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := engine.Logout(context.Background(), result.AccessToken, result.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	// Access tokens carry no registry state; they remain valid until expiry.
	if _, err := engine.Validate(context.Background(), result.AccessToken); err != nil {
		t.Fatalf("access token should stay valid until its TTL: %v", err)
	}
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	engine, _, _ := seededEngine(t)
	ctx := context.Background()

	first, err := engine.Login(ctx, "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	second, err := engine.Login(ctx, "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	if err := engine.ChangePassword(ctx, first.AccessToken, "demo123", "demo456!"); err != nil {
		t.Fatalf("change password failed: %v", err)
	}

	// The caller's own session survives; the other is dead.
	if _, err := engine.Refresh(ctx, first.RefreshToken); err != nil {
		t.Fatalf("caller session should survive: %v", err)
	}
	if _, err := engine.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected other session revoked, got %v", err)
	}

	if _, err := engine.Login(ctx, "admin@x.com", "demo123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should be rejected, got %v", err)
	}
	if _, err := engine.Login(ctx, "admin@x.com", "demo456!"); err != nil {
		t.Fatalf("new password should log in: %v", err)
	}
}

func TestChangePasswordRejections(t *testing.T) {
	engine, _, _ := seededEngine(t)
	ctx := context.Background()

	result, err := engine.Login(ctx, "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := engine.ChangePassword(ctx, result.AccessToken, "wrong", "next-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current password: expected ErrInvalidCredentials, got %v", err)
	}
	if err := engine.ChangePassword(ctx, result.AccessToken, "demo123", "demo123"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("same password: expected ErrPasswordReuse, got %v", err)
	}
	if err := engine.ChangePassword(ctx, "garbage", "demo123", "next-pass"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("bad access token: expected ErrTokenInvalid, got %v", err)
	}
}

func TestHashUpgradeOnLogin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password.UpgradeOnLogin = true
	cfg.Password.Time = 2 // stronger than the seeded digest below

	weak := cfg
	weak.Password.Time = 1

	up := newMemoryProvider()
	up.addUser(UserRecord{
		UserID:       "u-admin",
		Email:        "admin@x.com",
		PasswordHash: testHash(t, weak, "demo123"),
		RoleName:     "admin",
		Active:       true,
	})

	engine, _ := newTestEngine(t, cfg, up)

	if _, err := engine.Login(context.Background(), "admin@x.com", "demo123"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if up.updateCount() != 1 {
		t.Fatalf("expected one hash upgrade, got %d", up.updateCount())
	}

	// The upgraded digest must still match the same password.
	if _, err := engine.Login(context.Background(), "admin@x.com", "demo123"); err != nil {
		t.Fatalf("login after upgrade failed: %v", err)
	}
}

func TestSessionEnumerationAndStats(t *testing.T) {
	engine, _, _ := seededEngine(t)
	ctx := context.Background()

	admin, err := engine.Login(ctx, "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("admin login failed: %v", err)
	}
	if _, err := engine.Login(ctx, "sales@x.com", "sales-pass-1"); err != nil {
		t.Fatalf("sales login failed: %v", err)
	}

	all, err := engine.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 live sessions, got %d", len(all))
	}

	mine, err := engine.ListUserSessions(ctx, "u-admin")
	if err != nil {
		t.Fatalf("ListUserSessions failed: %v", err)
	}
	if len(mine) != 1 || mine[0].UserID != "u-admin" {
		t.Fatalf("unexpected admin sessions: %+v", mine)
	}

	stats, err := engine.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalActiveSessions != 2 {
		t.Fatalf("expected 2 active sessions, got %d", stats.TotalActiveSessions)
	}
	if stats.Counters["login_success"] != 2 {
		t.Fatalf("expected 2 successful logins in counters, got %d", stats.Counters["login_success"])
	}

	if err := engine.Logout(ctx, admin.AccessToken, admin.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	stats, err = engine.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats after logout failed: %v", err)
	}
	if stats.TotalActiveSessions != 1 {
		t.Fatalf("expected 1 active session after logout, got %d", stats.TotalActiveSessions)
	}
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	engine, _, _ := seededEngine(t)
	ctx := context.Background()

	var refreshTokens []string
	for i := 0; i < 3; i++ {
		result, err := engine.Login(ctx, "admin@x.com", "demo123")
		if err != nil {
			t.Fatalf("login %d failed: %v", i, err)
		}
		refreshTokens = append(refreshTokens, result.RefreshToken)
	}

	n, err := engine.LogoutAll(ctx, "u-admin")
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revocations, got %d", n)
	}

	for i, token := range refreshTokens {
		if _, err := engine.Refresh(ctx, token); !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("session %d should be revoked, got %v", i, err)
		}
	}
}

type blockingLimiter struct {
	loginErr   error
	refreshErr error
	failures   int
	resets     int
	mu         sync.Mutex
}

func (l *blockingLimiter) CheckLogin(context.Context, string, string) error { return l.loginErr }
func (l *blockingLimiter) RecordLoginFailure(context.Context, string, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	return nil
}
func (l *blockingLimiter) ResetLogin(context.Context, string, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets++
	return nil
}
func (l *blockingLimiter) CheckRefresh(context.Context, string) error { return l.refreshErr }

func TestRateLimiterHook(t *testing.T) {
	cfg := testConfig(t)
	up := newMemoryProvider()
	up.addUser(UserRecord{
		UserID:       "u-admin",
		Email:        "admin@x.com",
		PasswordHash: testHash(t, cfg, "demo123"),
		RoleName:     "admin",
		Active:       true,
	})

	limiter := &blockingLimiter{loginErr: errors.New("too many attempts")}
	mr, client := newTestRedis(t)
	_ = mr

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(up).
		WithRateLimiter(limiter).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := engine.Login(context.Background(), "admin@x.com", "demo123"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited, got %v", err)
	}

	limiter.loginErr = nil
	result, err := engine.Login(context.Background(), "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if limiter.resets != 1 {
		t.Fatalf("expected one limiter reset, got %d", limiter.resets)
	}

	limiter.refreshErr = errors.New("slow down")
	if _, err := engine.Refresh(context.Background(), result.RefreshToken); !errors.Is(err, ErrRefreshRateLimited) {
		t.Fatalf("expected ErrRefreshRateLimited, got %v", err)
	}
}

func TestProfileReflectsCurrentRecord(t *testing.T) {
	engine, up, _ := seededEngine(t)

	result, err := engine.Login(context.Background(), "admin@x.com", "demo123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	details, err := engine.Profile(context.Background(), result.AccessToken)
	if err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if details.UserID != "u-admin" || details.Email != "admin@x.com" {
		t.Fatalf("unexpected profile: %+v", details)
	}

	up.setActive("u-admin", false)
	if _, err := engine.Profile(context.Background(), result.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("disabled user: expected ErrUnauthorized, got %v", err)
	}
}

func TestBuilderRequiresRedisAndProvider(t *testing.T) {
	if _, err := New().WithUserProvider(newMemoryProvider()).Build(); err == nil {
		t.Fatal("expected error without redis client")
	}

	_, client := newTestRedis(t)
	if _, err := New().WithRedis(client).Build(); err == nil {
		t.Fatal("expected error without user provider")
	}
}
