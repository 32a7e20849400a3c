package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const RefreshSecretSize = 32

// ErrMalformedRefreshToken is returned when a presented refresh token does not
// have the sessionID.secret shape or fails structural validation.
var ErrMalformedRefreshToken = errors.New("malformed refresh token")

// NewSessionID returns a fresh opaque session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewRefreshSecret generates the high-entropy secret half of a refresh token.
// The raw secret is returned to the client exactly once; only its digest is
// ever persisted.
func NewRefreshSecret() ([RefreshSecretSize]byte, error) {
	var secret [RefreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashRefreshSecret returns the hex SHA-256 digest stored in the session
// registry and compared during rotation.
func HashRefreshSecret(secret [RefreshSecretSize]byte) string {
	sum := sha256.Sum256(secret[:])
	return hex.EncodeToString(sum[:])
}

// EncodeRefreshToken builds the composite token handed to clients:
// sessionID + "." + base64url(secret). The session ID routes the lookup, the
// secret is compared only via digest.
func EncodeRefreshToken(sessionID string, secret [RefreshSecretSize]byte) (string, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", ErrMalformedRefreshToken
	}
	return sessionID + "." + base64.RawURLEncoding.EncodeToString(secret[:]), nil
}

// DecodeRefreshToken splits a composite refresh token back into its session ID
// and raw secret. It validates shape only; the digest comparison happens in
// the session registry.
func DecodeRefreshToken(token string) (string, [RefreshSecretSize]byte, error) {
	var secret [RefreshSecretSize]byte

	sessionID, encoded, ok := strings.Cut(token, ".")
	if !ok {
		return "", secret, ErrMalformedRefreshToken
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", secret, ErrMalformedRefreshToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", secret, ErrMalformedRefreshToken
	}
	if len(raw) != RefreshSecretSize {
		return "", secret, ErrMalformedRefreshToken
	}

	copy(secret[:], raw)
	return sessionID, secret, nil
}
