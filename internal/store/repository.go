/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the banking core needs. The interface decouples the ledger, card,
 * authorization, and audit logic from the concrete datastore so the same
 * services run against PostgreSQL in production and the in-memory store in
 * tests.
 *
 * @notes
 * - Balance mutations are atomic per owner: each implementation guards the
 *   read-check-write sequence with an owner-scoped exclusive section, and
 *   TransferBalance acquires both owners' sections in lexicographic order.
 * - CreateTransaction and AdvanceTransactionStatus also enqueue the matching
 *   audit outbox message so a recorded event can never be silently lost.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrDuplicateAccount       = errors.New("account already exists")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrUserNotFound           = errors.New("user not found")
	ErrDuplicateUser          = errors.New("user already exists")
	ErrCardNotFound           = errors.New("card not found")
	ErrDuplicateCard          = errors.New("card already registered")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrWithdrawalCodeNotFound = errors.New("withdrawal code not found")
	ErrInvalidStatusChange    = errors.New("invalid transaction status change")
	ErrContention             = errors.New("storage contention")
)

// OutboxMessage is one queued audit event awaiting publication.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
	CreatedAt  time.Time
}

// Repository defines the set of methods for interacting with the datastore.
type Repository interface {
	// User and role methods
	CreateUser(ctx context.Context, user *domain.User) error
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	FindUserByOwnerID(ctx context.Context, ownerID string) (*domain.User, error)
	AssignRole(ctx context.Context, ownerID string, role domain.Role) error

	// Account balance methods. CreditBalance and DebitBalance return the
	// balance after the mutation. DebitBalance fails with
	// ErrInsufficientFunds and leaves the balance untouched when the account
	// holds less than the requested amount.
	CreateAccount(ctx context.Context, ownerID string) error
	GetBalance(ctx context.Context, ownerID string) (decimal.Decimal, error)
	CreditBalance(ctx context.Context, ownerID string, amount decimal.Decimal) (decimal.Decimal, error)
	DebitBalance(ctx context.Context, ownerID string, amount decimal.Decimal) (decimal.Decimal, error)
	TransferBalance(ctx context.Context, fromOwnerID, toOwnerID string, amount decimal.Decimal) error

	// Card methods. Cards are never deleted; SetCardStatus flips the
	// lifecycle state. FindCardByCredentials only matches ACTIVE cards.
	CreateCard(ctx context.Context, card *domain.Card) error
	FindCardByCredentials(ctx context.Context, number, securityCode string, expiry time.Time) (*domain.Card, error)
	ListCardsByOwner(ctx context.Context, ownerID string) ([]domain.Card, error)
	SetCardStatus(ctx context.Context, ownerID, number string, status domain.CardStatus) error

	// Transaction (audit) methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	AdvanceTransactionStatus(ctx context.Context, reference uuid.UUID, status domain.TransactionStatus) error
	FindTransactionByReference(ctx context.Context, reference uuid.UUID) (*domain.Transaction, error)
	FindTransactionByWithdrawalCode(ctx context.Context, code string) (*domain.Transaction, error)
	ListTransactionsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Transaction, error)

	// Audit outbox methods
	ClaimOutboxMessages(ctx context.Context, batchSize, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}
