package ingest

import (
	"context"
	"strings"
)

// Caller identifies who issued an inbound command.
type Caller struct {
	ID      string
	Name    string
	RoleIDs []string
}

// Authorizer decides whether a caller may run admin commands.
type Authorizer interface {
	IsAdmin(ctx context.Context, caller Caller) (bool, error)
}

// RoleAuthorizer grants admin rights to callers holding any configured role.
type RoleAuthorizer struct {
	roles map[string]struct{}
}

// NewRoleAuthorizer builds an authorizer from admin role IDs. Blank IDs are
// ignored; with no roles nobody is an admin.
func NewRoleAuthorizer(roleIDs []string) RoleAuthorizer {
	roles := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			roles[id] = struct{}{}
		}
	}
	return RoleAuthorizer{roles: roles}
}

// IsAdmin reports whether caller holds an admin role.
func (a RoleAuthorizer) IsAdmin(_ context.Context, caller Caller) (bool, error) {
	for _, role := range caller.RoleIDs {
		if _, ok := a.roles[strings.TrimSpace(role)]; ok {
			return true, nil
		}
	}
	return false, nil
}
