package app

import (
	"context"
	"errors"
	"testing"

	"github.com/Mark777g/CajeroVortexFinal/internal/store"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc := NewUserService(repo)
	ctx := context.Background()

	user, err := svc.Register(ctx, "1103456789", "mgonzalez", "correct horse battery")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !user.HasRole("CLIENT") {
		t.Fatalf("roles = %+v, want CLIENT", user.Roles)
	}
	if user.PasswordHash == "correct horse battery" {
		t.Fatal("password stored in clear")
	}

	// Registration opens the zero-balance account.
	balance, err := repo.GetBalance(ctx, "1103456789")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("opening balance = %s, want 0", balance)
	}

	authed, err := svc.Authenticate(ctx, "mgonzalez", "correct horse battery")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if authed.OwnerID != "1103456789" {
		t.Fatalf("owner = %s, want 1103456789", authed.OwnerID)
	}
}

func TestAuthenticateFailuresIndistinguishable(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc := NewUserService(repo)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "1103456789", "mgonzalez", "correct horse battery"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "mgonzalez", "wrong password!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody", "correct horse battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	repo := store.NewMemoryRepository()
	svc := NewUserService(repo)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "1103456789", "mgonzalez", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := svc.Register(ctx, "", "mgonzalez", "long enough pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty owner, got %v", err)
	}

	if _, err := svc.Register(ctx, "1103456789", "mgonzalez", "long enough pass"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "1103456789", "other", "long enough pass"); !errors.Is(err, store.ErrDuplicateUser) {
		t.Fatalf("duplicate owner: expected ErrDuplicateUser, got %v", err)
	}
	if _, err := svc.Register(ctx, "2203456789", "MGONZALEZ", "long enough pass"); !errors.Is(err, store.ErrDuplicateUser) {
		t.Fatalf("duplicate username: expected ErrDuplicateUser, got %v", err)
	}
}
