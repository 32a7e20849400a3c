package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/tradegate/authcore"
	"github.com/tradegate/authcore/middleware"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Device     string `json:"device,omitempty"`
}

type tokenPairResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
	User         authcore.UserDetails `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	ctx := r.Context()
	if req.Device != "" {
		ctx = authcore.WithDeviceLabel(ctx, req.Device)
	}

	result, err := s.engine.Login(ctx, req.Identifier, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         result.User,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	result, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         result.User,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	// An empty body means logout by access token alone.
	_ = decodeBody(r, &req)

	err := s.engine.Logout(r.Context(), middleware.BearerToken(r), req.RefreshToken)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusNoContent, nil)
}

type validateResponse struct {
	IsValid    bool   `json:"isValid"`
	UserID     string `json:"userId"`
	SessionID  string `json:"sessionId"`
	Role       string `json:"role"`
	PermDigest string `json:"permDigest"`
	ExpiresAt  string `json:"expiresAt"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		s.writeError(w, authcore.ErrUnauthorized)
		return
	}

	res, err := s.engine.Validate(r.Context(), token)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, validateResponse{
		IsValid:    true,
		UserID:     res.UserID,
		SessionID:  res.SessionID,
		Role:       res.Role,
		PermDigest: res.PermDigest,
		ExpiresAt:  res.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		s.writeError(w, authcore.ErrUnauthorized)
		return
	}

	details, err := s.engine.Profile(r.Context(), token)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, details)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		s.writeError(w, authcore.ErrUnauthorized)
		return
	}

	var req changePasswordRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	if err := s.engine.ChangePassword(r.Context(), token, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	// ?user=<id> narrows to one user's sessions.
	var (
		sessions []authcore.SessionInfo
		err      error
	)
	if userID := r.URL.Query().Get("user"); userID != "" {
		sessions, err = s.engine.ListUserSessions(r.Context(), userID)
	} else {
		sessions, err = s.engine.Sessions(r.Context())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":            sessions,
		"totalActiveSessions": len(sessions),
	})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := s.engine.RevokeSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, authcore.ErrSessionNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	n, err := s.engine.LogoutAll(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleHealth reports liveness: it answers 200 whenever the process can
// serve requests, regardless of registry state. Registry reachability
// surfaces through the readiness endpoint instead.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"service": "auth",
	})
}

// handleReady reports whether the session registry is reachable, for
// load-balancer readiness gating.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.Stats(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"service": "auth",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"service": "auth",
	})
}
