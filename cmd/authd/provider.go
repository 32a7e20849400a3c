package main

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tradegate/authcore"
	"github.com/tradegate/authcore/password"
)

// demoProvider is an in-memory UserProvider seeded with two demo accounts.
// It exists so the server runs out of the box; production deployments supply
// their own directory-backed implementation.
type demoProvider struct {
	mu      sync.RWMutex
	byID    map[string]authcore.UserRecord
	byIdent map[string]string
	roles   map[string]authcore.Role
}

func newDemoProvider(hasher *password.Hasher) (*demoProvider, error) {
	adminHash, err := hasher.Hash("demo123")
	if err != nil {
		return nil, err
	}
	salesHash, err := hasher.Hash("sales123")
	if err != nil {
		return nil, err
	}

	p := &demoProvider{
		byID:    map[string]authcore.UserRecord{},
		byIdent: map[string]string{},
		roles: map[string]authcore.Role{
			"admin": {Name: "admin", Permissions: []authcore.Permission{
				{Action: "manage", Subject: "sessions"},
				{Action: "read", Subject: "stats"},
			}},
			"sales": {Name: "sales", Permissions: []authcore.Permission{
				{Action: "read", Subject: "orders"},
				{Action: "write", Subject: "orders"},
			}},
		},
	}

	p.add(authcore.UserRecord{
		UserID:       "u-admin",
		Email:        "admin@x.com",
		Username:     "admin",
		EmployeeCode: "E-001",
		PasswordHash: adminHash,
		RoleName:     "admin",
		Active:       true,
	})
	p.add(authcore.UserRecord{
		UserID:       "u-sales",
		Email:        "sales@x.com",
		Username:     "sales1",
		EmployeeCode: "E-002",
		PasswordHash: salesHash,
		RoleName:     "sales",
		Active:       true,
	})

	return p, nil
}

// add indexes every identifier lowercased; logins arrive normalized.
func (p *demoProvider) add(u authcore.UserRecord) {
	p.byID[u.UserID] = u
	for _, ident := range []string{u.Email, u.Username, u.EmployeeCode} {
		if ident != "" {
			p.byIdent[strings.ToLower(ident)] = u.UserID
		}
	}
}

func (p *demoProvider) GetUserByIdentifier(_ context.Context, identifier string) (authcore.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byIdent[identifier]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return p.byID[id], nil
}

func (p *demoProvider) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.byID[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return u, nil
}

func (p *demoProvider) GetRoleWithPermissions(_ context.Context, roleName string) (authcore.Role, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	role, ok := p.roles[roleName]
	if !ok {
		return authcore.Role{}, errors.New("unknown role: " + roleName)
	}
	return role, nil
}

func (p *demoProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.PasswordHash = newHash
	p.byID[userID] = u
	return nil
}
