/**
 * @description
 * In-memory implementation of the `Repository` interface. It backs the test
 * suite and dependency-free local runs, and it honors the same atomicity
 * contract as the PostgreSQL store: every balance mutation happens inside an
 * owner-scoped exclusive section, and transfers take both owners' locks in
 * sorted order so opposing transfers cannot deadlock.
 */

package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
)

type memOutbox struct {
	OutboxMessage
	status        string
	nextAttemptAt time.Time
	claimedAt     time.Time
	lastError     string
}

// MemoryRepository is a map-backed Repository guarded by a mutex plus a
// per-owner lock table for balance mutations.
type MemoryRepository struct {
	mu           sync.RWMutex
	users        map[string]*domain.User
	usersByName  map[string]string
	accounts     map[string]*domain.Account
	cards        map[string]*domain.Card
	transactions map[uuid.UUID]*domain.Transaction
	order        []uuid.UUID
	byCode       map[string]uuid.UUID
	outbox       []*memOutbox
	nextOutboxID int64

	lockMu     sync.Mutex
	ownerLocks map[string]*sync.Mutex
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[string]*domain.User),
		usersByName:  make(map[string]string),
		accounts:     make(map[string]*domain.Account),
		cards:        make(map[string]*domain.Card),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		byCode:       make(map[string]uuid.UUID),
		ownerLocks:   make(map[string]*sync.Mutex),
		nextOutboxID: 1,
	}
}

// ownerLock returns the exclusive section for one owner's balance record.
func (r *MemoryRepository) ownerLock(ownerID string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	lock, ok := r.ownerLocks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		r.ownerLocks[ownerID] = lock
	}
	return lock
}

// --- Users and roles ---

func (r *MemoryRepository) CreateUser(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(user.Username)
	if _, ok := r.users[user.OwnerID]; ok {
		return ErrDuplicateUser
	}
	if _, ok := r.usersByName[key]; ok {
		return ErrDuplicateUser
	}
	stored := cloneUser(user)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.users[user.OwnerID] = stored
	r.usersByName[key] = user.OwnerID
	return nil
}

func (r *MemoryRepository) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ownerID, ok := r.usersByName[strings.ToLower(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(r.users[ownerID]), nil
}

func (r *MemoryRepository) FindUserByOwnerID(ctx context.Context, ownerID string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[ownerID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (r *MemoryRepository) AssignRole(ctx context.Context, ownerID string, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[ownerID]
	if !ok {
		return ErrUserNotFound
	}
	for i, existing := range user.Roles {
		if existing.Name == role.Name {
			user.Roles[i] = role
			return nil
		}
	}
	user.Roles = append(user.Roles, role)
	return nil
}

// --- Accounts ---

func (r *MemoryRepository) CreateAccount(ctx context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[ownerID]; ok {
		return ErrDuplicateAccount
	}
	now := time.Now().UTC()
	r.accounts[ownerID] = &domain.Account{
		OwnerID:   ownerID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (r *MemoryRepository) GetBalance(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[ownerID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	return account.Balance, nil
}

func (r *MemoryRepository) CreditBalance(ctx context.Context, ownerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	lock := r.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[ownerID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	account.Balance = account.Balance.Add(amount)
	account.UpdatedAt = time.Now().UTC()
	return account.Balance, nil
}

func (r *MemoryRepository) DebitBalance(ctx context.Context, ownerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	lock := r.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[ownerID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	if account.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}
	account.Balance = account.Balance.Sub(amount)
	account.UpdatedAt = time.Now().UTC()
	return account.Balance, nil
}

func (r *MemoryRepository) TransferBalance(ctx context.Context, fromOwnerID, toOwnerID string, amount decimal.Decimal) error {
	// Sorted acquisition keeps the lock order global across directions.
	owners := []string{fromOwnerID, toOwnerID}
	sort.Strings(owners)
	for _, owner := range owners {
		lock := r.ownerLock(owner)
		lock.Lock()
		defer lock.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	from, ok := r.accounts[fromOwnerID]
	if !ok {
		return ErrAccountNotFound
	}
	to, ok := r.accounts[toOwnerID]
	if !ok {
		return ErrAccountNotFound
	}
	if from.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	now := time.Now().UTC()
	from.Balance = from.Balance.Sub(amount)
	from.UpdatedAt = now
	to.Balance = to.Balance.Add(amount)
	to.UpdatedAt = now
	return nil
}

// --- Cards ---

func (r *MemoryRepository) CreateCard(ctx context.Context, card *domain.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cards[card.Number]; ok {
		return ErrDuplicateCard
	}
	stored := *card
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.cards[card.Number] = &stored
	return nil
}

func (r *MemoryRepository) FindCardByCredentials(ctx context.Context, number, securityCode string, expiry time.Time) (*domain.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[number]
	if !ok || card.Status != domain.CardActive {
		return nil, ErrCardNotFound
	}
	if card.SecurityCode != securityCode || !sameDate(card.Expiry, expiry) {
		return nil, ErrCardNotFound
	}
	copied := *card
	return &copied, nil
}

func (r *MemoryRepository) ListCardsByOwner(ctx context.Context, ownerID string) ([]domain.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var cards []domain.Card
	for _, card := range r.cards {
		if card.OwnerID == ownerID {
			cards = append(cards, *card)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Expiry.After(cards[j].Expiry) })
	return cards, nil
}

func (r *MemoryRepository) SetCardStatus(ctx context.Context, ownerID, number string, status domain.CardStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[number]
	if !ok || card.OwnerID != ownerID {
		return ErrCardNotFound
	}
	card.Status = status
	return nil
}

// --- Transactions and outbox ---

func (r *MemoryRepository) CreateTransaction(ctx context.Context, record *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transactions[record.Reference]; ok {
		return ErrInvalidStatusChange
	}
	if record.WithdrawalCode != nil {
		if _, ok := r.byCode[*record.WithdrawalCode]; ok {
			return ErrInvalidStatusChange
		}
	}
	stored := cloneTransaction(record)
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.transactions[record.Reference] = stored
	r.order = append(r.order, record.Reference)
	if record.WithdrawalCode != nil {
		r.byCode[*record.WithdrawalCode] = record.Reference
	}
	r.enqueueLocked(stored)
	return nil
}

func (r *MemoryRepository) AdvanceTransactionStatus(ctx context.Context, reference uuid.UUID, status domain.TransactionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.transactions[reference]
	if !ok {
		return ErrTransactionNotFound
	}
	if record.Status == status {
		return nil
	}
	if !domain.CanTransition(record.Status, status) {
		return ErrInvalidStatusChange
	}
	record.Status = status
	record.UpdatedAt = time.Now().UTC()
	r.enqueueLocked(record)
	return nil
}

func (r *MemoryRepository) enqueueLocked(record *domain.Transaction) {
	event := domain.AuditEvent{
		Reference:    record.Reference,
		Kind:         record.Kind,
		OwnerID:      record.OwnerID,
		Counterparty: record.Counterparty,
		Amount:       record.Amount.String(),
		Status:       record.Status,
		Timestamp:    time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	r.outbox = append(r.outbox, &memOutbox{
		OutboxMessage: OutboxMessage{
			ID:         r.nextOutboxID,
			Exchange:   AuditExchange,
			RoutingKey: AuditRoutingKey(record.Kind, record.Status),
			Payload:    payload,
			CreatedAt:  time.Now().UTC(),
		},
		status:        "pending",
		nextAttemptAt: time.Now().UTC(),
	})
	r.nextOutboxID++
}

func (r *MemoryRepository) FindTransactionByReference(ctx context.Context, reference uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.transactions[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return cloneTransaction(record), nil
}

func (r *MemoryRepository) FindTransactionByWithdrawalCode(ctx context.Context, code string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reference, ok := r.byCode[code]
	if !ok {
		return nil, ErrWithdrawalCodeNotFound
	}
	return cloneTransaction(r.transactions[reference]), nil
}

func (r *MemoryRepository) ListTransactionsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []domain.Transaction
	// Creation order is chronological; walk newest first.
	for i := len(r.order) - 1; i >= 0; i-- {
		record := r.transactions[r.order[i]]
		if record.OwnerID != ownerID && (record.Counterparty == nil || *record.Counterparty != ownerID) {
			continue
		}
		records = append(records, *cloneTransaction(record))
	}
	if offset >= len(records) {
		return nil, nil
	}
	records = records[offset:]
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *MemoryRepository) ClaimOutboxMessages(ctx context.Context, batchSize, staleAfterSeconds int) ([]OutboxMessage, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stale := now.Add(-time.Duration(staleAfterSeconds) * time.Second)
	var claimed []OutboxMessage
	for _, m := range r.outbox {
		if len(claimed) >= batchSize {
			break
		}
		ready := (m.status == "pending" && !m.nextAttemptAt.After(now)) ||
			(m.status == "processing" && m.claimedAt.Before(stale))
		if !ready {
			continue
		}
		m.status = "processing"
		m.claimedAt = now
		m.Attempts++
		claimed = append(claimed, m.OutboxMessage)
	}
	return claimed, nil
}

func (r *MemoryRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.outbox {
		if m.ID == id {
			m.status = "published"
			return nil
		}
	}
	return nil
}

func (r *MemoryRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.outbox {
		if m.ID == id {
			m.status = "pending"
			m.nextAttemptAt = time.Now().UTC().Add(time.Duration(retryAfterSeconds) * time.Second)
			m.lastError = reason
			return nil
		}
	}
	return nil
}

func cloneUser(user *domain.User) *domain.User {
	copied := *user
	copied.Roles = make([]domain.Role, len(user.Roles))
	for i, role := range user.Roles {
		copied.Roles[i] = domain.Role{
			Name:        role.Name,
			Permissions: append([]domain.Permission(nil), role.Permissions...),
		}
	}
	return &copied
}

func cloneTransaction(record *domain.Transaction) *domain.Transaction {
	copied := *record
	if record.Counterparty != nil {
		v := *record.Counterparty
		copied.Counterparty = &v
	}
	if record.WithdrawalCode != nil {
		v := *record.WithdrawalCode
		copied.WithdrawalCode = &v
	}
	if record.CardNumber != nil {
		v := *record.CardNumber
		copied.CardNumber = &v
	}
	return &copied
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
