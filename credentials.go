package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/tradegate/authcore/password"
)

// credentialVerifier resolves an identifier to a user record and checks the
// supplied password. Every failure mode collapses to ErrInvalidCredentials so
// callers cannot distinguish an unknown account from a wrong password.
type credentialVerifier struct {
	users  UserProvider
	hasher *password.Hasher
}

func newCredentialVerifier(users UserProvider, hasher *password.Hasher) *credentialVerifier {
	return &credentialVerifier{users: users, hasher: hasher}
}

// verify returns the matching user record, and whether its stored digest was
// produced with weaker parameters than the current config.
func (v *credentialVerifier) verify(ctx context.Context, identifier, plain string) (UserRecord, bool, error) {
	identifier = normalizeIdentifier(identifier)
	if identifier == "" || plain == "" {
		return UserRecord{}, false, ErrInvalidCredentials
	}

	user, err := v.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, false, ErrInvalidCredentials
		}
		return UserRecord{}, false, err
	}
	if user.Deleted || !user.Active {
		return UserRecord{}, false, ErrInvalidCredentials
	}

	ok, err := v.hasher.Verify(plain, user.PasswordHash)
	if err != nil || !ok {
		return UserRecord{}, false, ErrInvalidCredentials
	}

	upgrade, err := v.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil {
		upgrade = false
	}

	return user, upgrade, nil
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
