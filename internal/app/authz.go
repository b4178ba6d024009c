/**
 * @description
 * The authorization engine. It flattens a user's roles into their combined
 * permission set and answers yes/no questions against it. Roles and
 * permissions are loaded fresh from the repository on every check, so a role
 * change takes effect on the next call with no cache to invalidate.
 */

package app

import (
	"context"
	"errors"
	"log"

	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
	"github.com/Mark777g/CajeroVortexFinal/internal/store"
)

// Authorizer answers permission and role questions for authenticated owners.
type Authorizer struct {
	repo store.Repository
}

// NewAuthorizer creates a new authorization engine.
func NewAuthorizer(repo store.Repository) *Authorizer {
	return &Authorizer{repo: repo}
}

// HasPermission reports whether the owner holds any permission, across all
// roles, matching the resource and action. An empty owner id means no
// authenticated principal and is always denied, as is an unknown owner or a
// repository failure.
func (a *Authorizer) HasPermission(ctx context.Context, ownerID, resource string, action domain.ActionType) bool {
	if ownerID == "" {
		return false
	}
	user, err := a.repo.FindUserByOwnerID(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			log.Printf("level=warn component=authorizer msg=\"permission check failed; denying\" owner_id=%s err=%v", ownerID, err)
		}
		return false
	}
	for _, role := range user.Roles {
		for _, permission := range role.Permissions {
			if permission.Matches(resource, action) {
				return true
			}
		}
	}
	return false
}

// HasRole reports whether the owner holds the named role. Unauthenticated
// and unknown owners are denied.
func (a *Authorizer) HasRole(ctx context.Context, ownerID, roleName string) bool {
	if ownerID == "" {
		return false
	}
	user, err := a.repo.FindUserByOwnerID(ctx, ownerID)
	if err != nil {
		return false
	}
	return user.HasRole(roleName)
}
