package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// UserRecord is the account view consumed from the external user store.
// Lifecycle (creation, deactivation, deletion) is owned by the master-data
// subsystem; this core only reads it, plus one write path for password
// changes.
type UserRecord struct {
	UserID       string
	Email        string
	Username     string
	EmployeeCode string
	PasswordHash string
	RoleName     string
	Active       bool
	Deleted      bool
}

// Permission is one (action, subject) pair granted by a role.
type Permission struct {
	Action  string
	Subject string
}

// Role is a named set of permissions. Read-only to this core.
type Role struct {
	Name        string
	Permissions []Permission
}

// Digest returns a stable hex digest of the role's permission set, embedded
// in access tokens so downstream services can detect permission drift without
// carrying the full list.
func (r Role) Digest() string {
	pairs := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		pairs = append(pairs, p.Action+":"+p.Subject)
	}
	sort.Strings(pairs)

	sum := sha256.Sum256([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(sum[:8])
}

// UserProvider is the interface callers implement to connect authcore to the
// application's user and role store. GetUserByIdentifier must match the
// identifier case-insensitively against email, username, and employee code.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	GetRoleWithPermissions(ctx context.Context, roleName string) (Role, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// RateLimiter is the brute-force defense hook point. authcore ships no
// policy; when a limiter is installed via [Builder.WithRateLimiter] the
// engine consults it around login and refresh.
type RateLimiter interface {
	CheckLogin(ctx context.Context, identifier, ip string) error
	RecordLoginFailure(ctx context.Context, identifier, ip string) error
	ResetLogin(ctx context.Context, identifier, ip string) error
	CheckRefresh(ctx context.Context, sessionID string) error
}

// AuthResult is the validated identity extracted from an access token by
// [Engine.Validate]. Produced without any registry I/O.
type AuthResult struct {
	UserID     string
	SessionID  string
	Role       string
	PermDigest string
	ExpiresAt  time.Time
}

// UserDetails is the sanitized user shape returned to clients. It never
// carries the password hash.
type UserDetails struct {
	UserID       string `json:"userId"`
	Email        string `json:"email,omitempty"`
	Username     string `json:"username,omitempty"`
	EmployeeCode string `json:"employeeCode,omitempty"`
	Role         string `json:"role"`
}

func (u UserRecord) details() UserDetails {
	return UserDetails{
		UserID:       u.UserID,
		Email:        u.Email,
		Username:     u.Username,
		EmployeeCode: u.EmployeeCode,
		Role:         u.RoleName,
	}
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         UserDetails
}

// SessionInfo is the client-facing view of one active session, for the
// sessions listing endpoint. The refresh digest is never exposed.
type SessionInfo struct {
	SessionID     string    `json:"sessionId"`
	UserID        string    `json:"userId"`
	Role          string    `json:"role"`
	DeviceLabel   string    `json:"deviceLabel,omitempty"`
	IssuedAt      time.Time `json:"issuedAt"`
	LastRotatedAt time.Time `json:"lastRotatedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Stats is the admin-facing aggregate returned by [Engine.Stats].
type Stats struct {
	TotalActiveSessions int               `json:"totalActiveSessions"`
	Counters            map[string]uint64 `json:"counters"`
	AuditDropped        uint64            `json:"auditDropped"`
}
