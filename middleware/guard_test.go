package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tradegate/authcore"
)

type stubValidator struct {
	result *authcore.AuthResult
	err    error
}

func (s stubValidator) Validate(context.Context, string) (*authcore.AuthResult, error) {
	return s.result, s.err
}

func okValidator(role string) stubValidator {
	return stubValidator{result: &authcore.AuthResult{
		UserID:    "u-1",
		SessionID: "s-1",
		Role:      role,
		ExpiresAt: time.Now().Add(time.Minute),
	}}
}

func doRequest(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic dXNlcg==", ""},
		{"Bearer", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := BearerToken(req); got != tc.want {
			t.Errorf("header %q: got %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestRequireAuthInjectsIdentity(t *testing.T) {
	var seen *authcore.AuthResult
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AuthResultFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := doRequest(t, RequireAuth(okValidator("admin"))(next), "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.UserID != "u-1" || seen.Role != "admin" {
		t.Fatalf("identity not injected: %+v", seen)
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	rec := doRequest(t, RequireAuth(okValidator("admin"))(next), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuthRejectsInvalidToken(t *testing.T) {
	v := stubValidator{err: authcore.ErrTokenExpired}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	rec := doRequest(t, RequireAuth(v)(next), "expired")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireRoles(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guard := RequireRoles(okValidator("sales"), "admin", "ops")

	rec := doRequest(t, guard(next), "tok")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong role: expected 403, got %d", rec.Code)
	}

	guard = RequireRoles(okValidator("ops"), "admin", "ops")
	rec = doRequest(t, guard(next), "tok")
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed role: expected 200, got %d", rec.Code)
	}
}
