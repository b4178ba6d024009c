/**
 * @description
 * The user / role / permission graph used by the authorization engine.
 * A user owns roles, a role owns permissions, and a permission pairs a
 * resource pattern with an allowed action. The matching rule is a capability
 * of the permission itself, not of the caller.
 */

package domain

import (
	"strings"
	"time"
)

// ActionType is the action a permission allows on a resource.
type ActionType string

const (
	ActionRead    ActionType = "READ"
	ActionWrite   ActionType = "WRITE"
	ActionExecute ActionType = "EXECUTE"
)

// Permission pairs a resource pattern with an allowed action. Patterns are
// either exact resource strings or a prefix ending in `*`.
type Permission struct {
	Resource string     `json:"resource"`
	Action   ActionType `json:"action"`
}

// Matches reports whether this permission grants the requested resource and
// action. A pattern ending in `*` matches any resource sharing its prefix;
// any other pattern must match exactly.
func (p Permission) Matches(resource string, action ActionType) bool {
	if p.Action != action {
		return false
	}
	if strings.HasSuffix(p.Resource, "*") {
		return strings.HasPrefix(resource, strings.TrimSuffix(p.Resource, "*"))
	}
	return p.Resource == resource
}

// Role is a named set of permissions.
type Role struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// User is an authenticated principal. OwnerID is the natural key shared with
// balances, cards, and transactions; Username is the login name.
type User struct {
	OwnerID      string    `json:"owner_id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Roles        []Role    `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasRole reports whether the user holds a role with the given name.
func (u *User) HasRole(name string) bool {
	if u == nil {
		return false
	}
	for _, role := range u.Roles {
		if role.Name == name {
			return true
		}
	}
	return false
}

// DefaultClientRole is the role granted to every registered user. It covers
// the account, card, transfer, and history surfaces of the application.
func DefaultClientRole() Role {
	return Role{
		Name: "CLIENT",
		Permissions: []Permission{
			{Resource: "/accounts/*", Action: ActionRead},
			{Resource: "/accounts/*", Action: ActionWrite},
			{Resource: "/transfers", Action: ActionWrite},
			{Resource: "/transactions", Action: ActionRead},
			{Resource: "/cards", Action: ActionRead},
			{Resource: "/cards", Action: ActionWrite},
			{Resource: "/cards/*", Action: ActionWrite},
		},
	}
}
