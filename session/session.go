package session

import (
	"strconv"
	"time"
)

// Session is one refresh-token chain. RefreshDigest holds the hex SHA-256 of
// the currently-valid refresh secret; the raw secret is never stored.
type Session struct {
	SessionID     string
	UserID        string
	Role          string
	DeviceLabel   string
	RefreshDigest string
	IssuedAt      time.Time
	LastRotatedAt time.Time
	ExpiresAt     time.Time
	Revoked       bool
}

// Active reports whether the session can still be refreshed at the given
// instant: not revoked and not past its absolute lifetime.
func (s *Session) Active(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.ExpiresAt)
}

// Redis hash field names. These are part of the stored schema; renaming them
// invalidates existing sessions.
const (
	fieldUserID    = "user_id"
	fieldRole      = "role"
	fieldDevice    = "device"
	fieldDigest    = "refresh_sha"
	fieldIssuedAt  = "issued_at"
	fieldRotatedAt = "rotated_at"
	fieldExpiresAt = "expires_at"
	fieldRevoked   = "revoked"
)

func (s *Session) fields() map[string]interface{} {
	revoked := "0"
	if s.Revoked {
		revoked = "1"
	}
	return map[string]interface{}{
		fieldUserID:    s.UserID,
		fieldRole:      s.Role,
		fieldDevice:    s.DeviceLabel,
		fieldDigest:    s.RefreshDigest,
		fieldIssuedAt:  strconv.FormatInt(s.IssuedAt.Unix(), 10),
		fieldRotatedAt: strconv.FormatInt(s.LastRotatedAt.Unix(), 10),
		fieldExpiresAt: strconv.FormatInt(s.ExpiresAt.Unix(), 10),
		fieldRevoked:   revoked,
	}
}

func sessionFromMap(sessionID string, m map[string]string) (*Session, error) {
	if len(m) == 0 {
		return nil, ErrSessionNotFound
	}

	issued, err := strconv.ParseInt(m[fieldIssuedAt], 10, 64)
	if err != nil {
		return nil, ErrSessionCorrupt
	}
	rotated, err := strconv.ParseInt(m[fieldRotatedAt], 10, 64)
	if err != nil {
		return nil, ErrSessionCorrupt
	}
	expires, err := strconv.ParseInt(m[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, ErrSessionCorrupt
	}
	if m[fieldUserID] == "" || m[fieldDigest] == "" {
		return nil, ErrSessionCorrupt
	}

	return &Session{
		SessionID:     sessionID,
		UserID:        m[fieldUserID],
		Role:          m[fieldRole],
		DeviceLabel:   m[fieldDevice],
		RefreshDigest: m[fieldDigest],
		IssuedAt:      time.Unix(issued, 0).UTC(),
		LastRotatedAt: time.Unix(rotated, 0).UTC(),
		ExpiresAt:     time.Unix(expires, 0).UTC(),
		Revoked:       m[fieldRevoked] == "1",
	}, nil
}
