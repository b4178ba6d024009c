package app

import (
	"context"
	"testing"

	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
	"github.com/Mark777g/CajeroVortexFinal/internal/store"
)

func seedUser(t *testing.T, repo store.Repository, ownerID string, roles ...domain.Role) {
	t.Helper()
	user := &domain.User{
		OwnerID:  ownerID,
		Username: "user-" + ownerID,
		Roles:    roles,
	}
	if err := repo.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

func TestHasPermissionPatternMatching(t *testing.T) {
	repo := store.NewMemoryRepository()
	authz := NewAuthorizer(repo)
	ctx := context.Background()

	role := domain.Role{
		Name: "TELLER",
		Permissions: []domain.Permission{
			{Resource: "/accounts/*", Action: domain.ActionRead},
			{Resource: "/transfers", Action: domain.ActionWrite},
		},
	}
	seedUser(t, repo, "teller-1", role)

	cases := []struct {
		name     string
		resource string
		action   domain.ActionType
		want     bool
	}{
		{"prefix pattern grants nested resource", "/accounts/123", domain.ActionRead, true},
		{"prefix pattern grants bare prefix", "/accounts/", domain.ActionRead, true},
		{"action must match", "/accounts/123", domain.ActionWrite, false},
		{"exact pattern matches exactly", "/transfers", domain.ActionWrite, true},
		{"exact pattern rejects suffix", "/transfers/outbound", domain.ActionWrite, false},
		{"unrelated resource denied", "/admin", domain.ActionRead, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := authz.HasPermission(ctx, "teller-1", tc.resource, tc.action); got != tc.want {
				t.Fatalf("HasPermission(%q, %s) = %v, want %v", tc.resource, tc.action, got, tc.want)
			}
		})
	}
}

func TestHasPermissionFlattensAllRoles(t *testing.T) {
	repo := store.NewMemoryRepository()
	authz := NewAuthorizer(repo)
	ctx := context.Background()

	reader := domain.Role{Name: "READER", Permissions: []domain.Permission{{Resource: "/reports", Action: domain.ActionRead}}}
	runner := domain.Role{Name: "RUNNER", Permissions: []domain.Permission{{Resource: "/jobs/*", Action: domain.ActionExecute}}}
	seedUser(t, repo, "multi", reader, runner)

	if !authz.HasPermission(ctx, "multi", "/reports", domain.ActionRead) {
		t.Fatal("permission from first role denied")
	}
	if !authz.HasPermission(ctx, "multi", "/jobs/nightly", domain.ActionExecute) {
		t.Fatal("permission from second role denied")
	}
}

func TestHasPermissionDeniesUnauthenticated(t *testing.T) {
	repo := store.NewMemoryRepository()
	authz := NewAuthorizer(repo)
	ctx := context.Background()

	if authz.HasPermission(ctx, "", "/accounts/123", domain.ActionRead) {
		t.Fatal("empty owner id must be denied")
	}
	if authz.HasPermission(ctx, "nobody", "/accounts/123", domain.ActionRead) {
		t.Fatal("unknown owner must be denied")
	}
	if authz.HasRole(ctx, "", "CLIENT") {
		t.Fatal("empty owner id must hold no roles")
	}
}

func TestRoleChangeTakesImmediateEffect(t *testing.T) {
	repo := store.NewMemoryRepository()
	authz := NewAuthorizer(repo)
	ctx := context.Background()

	seedUser(t, repo, "late-admin", domain.DefaultClientRole())
	if authz.HasRole(ctx, "late-admin", "ADMIN") {
		t.Fatal("user should not be ADMIN yet")
	}

	admin := domain.Role{Name: "ADMIN", Permissions: []domain.Permission{{Resource: "/*", Action: domain.ActionExecute}}}
	if err := repo.AssignRole(ctx, "late-admin", admin); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	// No cache sits between the repository and the check.
	if !authz.HasRole(ctx, "late-admin", "ADMIN") {
		t.Fatal("role grant not visible on next check")
	}
	if !authz.HasPermission(ctx, "late-admin", "/anything", domain.ActionExecute) {
		t.Fatal("new permission not visible on next check")
	}
}
