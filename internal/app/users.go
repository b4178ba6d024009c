/**
 * @description
 * User registration and authentication. Registration creates the user with
 * the default CLIENT role and opens a zero-balance account in the same
 * call; authentication compares bcrypt hashes and never reveals whether the
 * username or the password was wrong.
 *
 * @dependencies
 * - context, errors, strings: Standard Go libraries.
 * - golang.org/x/crypto/bcrypt: Password hashing.
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
	"github.com/Mark777g/CajeroVortexFinal/internal/store"
)

// ErrWeakPassword rejects passwords below the minimum length.
var ErrWeakPassword = errors.New("password too short")

const minPasswordLength = 8

// UserService handles registration and credential checks.
type UserService struct {
	repo store.Repository
}

// NewUserService creates a new user service.
func NewUserService(repo store.Repository) *UserService {
	return &UserService{repo: repo}
}

// Register creates a user with the default CLIENT role and opens their
// zero-balance account. OwnerID is the account number the user banks under.
func (s *UserService) Register(ctx context.Context, ownerID, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if ownerID == "" || username == "" {
		return nil, ErrInvalidCredentials
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		OwnerID:      ownerID,
		Username:     username,
		PasswordHash: string(hash),
		Roles:        []domain.Role{domain.DefaultClientRole()},
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	if err := s.repo.CreateAccount(ctx, ownerID); err != nil && !errors.Is(err, store.ErrDuplicateAccount) {
		log.Printf("level=error component=user_service msg=\"user created without account\" owner_id=%s err=%v", ownerID, err)
		return nil, fmt.Errorf("failed to open account: %w", err)
	}
	return user, nil
}

// Authenticate verifies a username and password pair and returns the user.
// Unknown usernames and wrong passwords both come back as
// ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.repo.FindUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
