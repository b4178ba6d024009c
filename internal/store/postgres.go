/**
 * @description
 * PostgreSQL implementation of the `Repository` interface using pgx. All
 * balance mutations run inside a transaction and take a `SELECT ... FOR
 * UPDATE` row lock on the owner's account so concurrent operations on the
 * same owner serialize; transfers lock both rows in lexicographic owner
 * order to avoid deadlock between opposing transfers.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 * - github.com/shopspring/decimal: amounts travel as numeric/text, never float.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
)

// AuditExchange is the topic exchange audit events are published to.
const AuditExchange = "vortex.events"

// PostgresRepository is the production Repository backed by PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository on the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// mapPgError converts low-level pgx errors into the repository's sentinel
// errors. Serialization failures and deadlocks surface as ErrContention so
// the ledger can retry them.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return ErrContention
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users and roles ---

func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO users (owner_id, username, password_hash) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, query, user.OwnerID, user.Username, user.PasswordHash); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return mapPgError(err)
	}
	for _, role := range user.Roles {
		if err := insertRole(ctx, tx, user.OwnerID, role); err != nil {
			return err
		}
	}
	return mapPgError(tx.Commit(ctx))
}

func insertRole(ctx context.Context, tx pgx.Tx, ownerID string, role domain.Role) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO user_roles (owner_id, role_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		ownerID, role.Name); err != nil {
		return mapPgError(err)
	}
	for _, perm := range role.Permissions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO role_permissions (role_name, resource, action) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			role.Name, perm.Resource, perm.Action); err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

func (r *PostgresRepository) AssignRole(ctx context.Context, ownerID string, role domain.Role) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE owner_id = $1)`, ownerID).Scan(&exists); err != nil {
		return mapPgError(err)
	}
	if !exists {
		return ErrUserNotFound
	}
	if err := insertRole(ctx, tx, ownerID, role); err != nil {
		return err
	}
	return mapPgError(tx.Commit(ctx))
}

func (r *PostgresRepository) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findUser(ctx, `SELECT owner_id, username, password_hash, created_at FROM users WHERE lower(username) = lower($1)`, username)
}

func (r *PostgresRepository) FindUserByOwnerID(ctx context.Context, ownerID string) (*domain.User, error) {
	return r.findUser(ctx, `SELECT owner_id, username, password_hash, created_at FROM users WHERE owner_id = $1`, ownerID)
}

func (r *PostgresRepository) findUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user domain.User
	err := r.db.QueryRow(ctx, query, arg).Scan(&user.OwnerID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, mapPgError(err)
	}

	roles, err := r.loadRoles(ctx, user.OwnerID)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return &user, nil
}

// loadRoles fetches the user's roles together with their permissions. The
// result is assembled fresh on every call: permission evaluation must see
// role changes on the next check, so nothing is cached here.
func (r *PostgresRepository) loadRoles(ctx context.Context, ownerID string) ([]domain.Role, error) {
	query := `
		SELECT ur.role_name, rp.resource, rp.action
		FROM user_roles ur
		LEFT JOIN role_permissions rp ON rp.role_name = ur.role_name
		WHERE ur.owner_id = $1
		ORDER BY ur.role_name, rp.resource, rp.action
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	byName := make(map[string]*domain.Role)
	var order []string
	for rows.Next() {
		var name string
		var resource, action *string
		if err := rows.Scan(&name, &resource, &action); err != nil {
			return nil, mapPgError(err)
		}
		role, ok := byName[name]
		if !ok {
			role = &domain.Role{Name: name}
			byName[name] = role
			order = append(order, name)
		}
		if resource != nil && action != nil {
			role.Permissions = append(role.Permissions, domain.Permission{
				Resource: *resource,
				Action:   domain.ActionType(*action),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}

	roles := make([]domain.Role, 0, len(order))
	for _, name := range order {
		roles = append(roles, *byName[name])
	}
	return roles, nil
}

// --- Accounts ---

func (r *PostgresRepository) CreateAccount(ctx context.Context, ownerID string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO accounts (owner_id, balance) VALUES ($1, 0)`, ownerID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAccount
		}
		return mapPgError(err)
	}
	return nil
}

func (r *PostgresRepository) GetBalance(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	var raw string
	err := r.db.QueryRow(ctx, `SELECT balance::text FROM accounts WHERE owner_id = $1`, ownerID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, mapPgError(err)
	}
	return decimal.NewFromString(raw)
}

// CreditBalance atomically adds amount to the owner's balance.
func (r *PostgresRepository) CreditBalance(ctx context.Context, ownerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return decimal.Zero, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	balance, err := lockBalance(ctx, tx, ownerID)
	if err != nil {
		return decimal.Zero, err
	}

	newBalance := balance.Add(amount)
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $1::numeric, updated_at = NOW() WHERE owner_id = $2`,
		newBalance.String(), ownerID); err != nil {
		return decimal.Zero, mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, mapPgError(err)
	}
	return newBalance, nil
}

// DebitBalance atomically subtracts amount from the owner's balance, failing
// with ErrInsufficientFunds (and no mutation) when the balance is short.
func (r *PostgresRepository) DebitBalance(ctx context.Context, ownerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return decimal.Zero, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	balance, err := lockBalance(ctx, tx, ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	if balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}

	newBalance := balance.Sub(amount)
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $1::numeric, updated_at = NOW() WHERE owner_id = $2`,
		newBalance.String(), ownerID); err != nil {
		return decimal.Zero, mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, mapPgError(err)
	}
	return newBalance, nil
}

// TransferBalance atomically moves amount between two distinct owners. Both
// rows are locked by one ordered SELECT so two opposing transfers cannot
// deadlock, and a short source balance aborts with nothing mutated.
func (r *PostgresRepository) TransferBalance(ctx context.Context, fromOwnerID, toOwnerID string, amount decimal.Decimal) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	// ORDER BY owner_id makes the lock acquisition order global across all
	// transfers regardless of direction.
	rows, err := tx.Query(ctx,
		`SELECT owner_id, balance::text FROM accounts WHERE owner_id = ANY($1) ORDER BY owner_id FOR UPDATE`,
		[]string{fromOwnerID, toOwnerID})
	if err != nil {
		return mapPgError(err)
	}
	balances := make(map[string]decimal.Decimal, 2)
	for rows.Next() {
		var owner, raw string
		if err := rows.Scan(&owner, &raw); err != nil {
			rows.Close()
			return mapPgError(err)
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			rows.Close()
			return err
		}
		balances[owner] = value
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return mapPgError(err)
	}

	fromBalance, ok := balances[fromOwnerID]
	if !ok {
		return ErrAccountNotFound
	}
	toBalance, ok := balances[toOwnerID]
	if !ok {
		return ErrAccountNotFound
	}
	if fromBalance.LessThan(amount) {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $1::numeric, updated_at = NOW() WHERE owner_id = $2`,
		fromBalance.Sub(amount).String(), fromOwnerID); err != nil {
		return mapPgError(err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $1::numeric, updated_at = NOW() WHERE owner_id = $2`,
		toBalance.Add(amount).String(), toOwnerID); err != nil {
		return mapPgError(err)
	}
	return mapPgError(tx.Commit(ctx))
}

func lockBalance(ctx context.Context, tx pgx.Tx, ownerID string) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRow(ctx, `SELECT balance::text FROM accounts WHERE owner_id = $1 FOR UPDATE`, ownerID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, mapPgError(err)
	}
	return decimal.NewFromString(raw)
}

// --- Cards ---

func (r *PostgresRepository) CreateCard(ctx context.Context, card *domain.Card) error {
	query := `
		INSERT INTO cards (number, owner_id, brand, security_code, expiry, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, card.Number, card.OwnerID, card.Brand, card.SecurityCode, card.Expiry, card.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCard
		}
		return mapPgError(err)
	}
	return nil
}

// FindCardByCredentials matches the full (number, security code, expiry)
// triple against ACTIVE cards only, mirroring the legacy lookup.
func (r *PostgresRepository) FindCardByCredentials(ctx context.Context, number, securityCode string, expiry time.Time) (*domain.Card, error) {
	var card domain.Card
	query := `
		SELECT number, owner_id, brand, security_code, expiry, status, created_at
		FROM cards
		WHERE number = $1 AND security_code = $2 AND expiry = $3 AND status = 'ACTIVE'
	`
	err := r.db.QueryRow(ctx, query, number, securityCode, expiry).Scan(
		&card.Number, &card.OwnerID, &card.Brand, &card.SecurityCode, &card.Expiry, &card.Status, &card.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, mapPgError(err)
	}
	return &card, nil
}

func (r *PostgresRepository) ListCardsByOwner(ctx context.Context, ownerID string) ([]domain.Card, error) {
	query := `
		SELECT number, owner_id, brand, security_code, expiry, status, created_at
		FROM cards
		WHERE owner_id = $1
		ORDER BY expiry DESC
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		var card domain.Card
		if err := rows.Scan(&card.Number, &card.OwnerID, &card.Brand, &card.SecurityCode, &card.Expiry, &card.Status, &card.CreatedAt); err != nil {
			return nil, mapPgError(err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (r *PostgresRepository) SetCardStatus(ctx context.Context, ownerID, number string, status domain.CardStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE cards SET status = $1 WHERE number = $2 AND owner_id = $3`,
		status, number, ownerID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

// --- Transactions and outbox ---

// CreateTransaction persists the audit record and enqueues its outbox event
// in the same database transaction, so a recorded event cannot be lost
// between the two writes.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, record *domain.Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO transactions (reference, kind, owner_id, counterparty, amount, status, withdrawal_code, card_number)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
	`
	if _, err := tx.Exec(ctx, query,
		record.Reference,
		record.Kind,
		record.OwnerID,
		record.Counterparty,
		record.Amount.String(),
		record.Status,
		record.WithdrawalCode,
		record.CardNumber,
	); err != nil {
		return mapPgError(err)
	}

	if err := enqueueAuditEvent(ctx, tx, record); err != nil {
		return err
	}
	return mapPgError(tx.Commit(ctx))
}

// AdvanceTransactionStatus moves a PENDING record to a final status. The
// update is idempotent: advancing a record already at the target status is a
// no-op success, which makes retry-until-success finalization safe. Any other
// change is rejected with ErrInvalidStatusChange.
func (r *PostgresRepository) AdvanceTransactionStatus(ctx context.Context, reference uuid.UUID, status domain.TransactionStatus) error {
	if status != domain.StatusCompleted && status != domain.StatusRejected {
		return ErrInvalidStatusChange
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	var record domain.Transaction
	var rawAmount string
	err = tx.QueryRow(ctx, `
		UPDATE transactions
		SET status = $2, updated_at = NOW()
		WHERE reference = $1 AND status = 'PENDING'
		RETURNING reference, kind, owner_id, counterparty, amount::text, status, created_at
	`, reference, status).Scan(
		&record.Reference, &record.Kind, &record.OwnerID, &record.Counterparty, &rawAmount, &record.Status, &record.CreatedAt)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return mapPgError(err)
		}
		// No PENDING row matched: distinguish not-found, already-advanced,
		// and illegal transition.
		var current domain.TransactionStatus
		lookupErr := tx.QueryRow(ctx, `SELECT status FROM transactions WHERE reference = $1`, reference).Scan(&current)
		if lookupErr != nil {
			if errors.Is(lookupErr, pgx.ErrNoRows) {
				return ErrTransactionNotFound
			}
			return mapPgError(lookupErr)
		}
		if current == status {
			return nil
		}
		return ErrInvalidStatusChange
	}

	record.Amount, err = decimal.NewFromString(rawAmount)
	if err != nil {
		return err
	}
	if err := enqueueAuditEvent(ctx, tx, &record); err != nil {
		return err
	}
	return mapPgError(tx.Commit(ctx))
}

func enqueueAuditEvent(ctx context.Context, tx pgx.Tx, record *domain.Transaction) error {
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
		return err
	}
	routingKey := AuditRoutingKey(record.Kind, record.Status)
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_outbox (exchange, routing_key, payload, status, attempts, next_attempt_at)
		VALUES ($1, $2, $3, 'pending', 0, NOW())
	`, AuditExchange, routingKey, payload)
	return mapPgError(err)
}

// AuditRoutingKey builds the topic routing key for a transaction event,
// e.g. "transaction.deposit.completed".
func AuditRoutingKey(kind domain.TransactionKind, status domain.TransactionStatus) string {
	return fmt.Sprintf("transaction.%s.%s", lowerKey(string(kind)), lowerKey(string(status)))
}

func lowerKey(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out[i] = c + ('a' - 'A')
		case c == '_':
			out[i] = '-'
		default:
			out[i] = c
		}
	}
	return string(out)
}

func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, reference uuid.UUID) (*domain.Transaction, error) {
	return r.findTransaction(ctx, `WHERE reference = $1`, reference)
}

func (r *PostgresRepository) FindTransactionByWithdrawalCode(ctx context.Context, code string) (*domain.Transaction, error) {
	record, err := r.findTransaction(ctx, `WHERE withdrawal_code = $1`, code)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, ErrWithdrawalCodeNotFound
	}
	return record, err
}

func (r *PostgresRepository) findTransaction(ctx context.Context, where string, arg any) (*domain.Transaction, error) {
	var record domain.Transaction
	var rawAmount string
	query := `
		SELECT reference, kind, owner_id, counterparty, amount::text, status, withdrawal_code, card_number, created_at, updated_at
		FROM transactions ` + where
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&record.Reference, &record.Kind, &record.OwnerID, &record.Counterparty,
		&rawAmount, &record.Status, &record.WithdrawalCode, &record.CardNumber,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, mapPgError(err)
	}
	record.Amount, err = decimal.NewFromString(rawAmount)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListTransactionsByOwner returns the owner's records newest first.
func (r *PostgresRepository) ListTransactionsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT reference, kind, owner_id, counterparty, amount::text, status, withdrawal_code, card_number, created_at, updated_at
		FROM transactions
		WHERE owner_id = $1 OR counterparty = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var records []domain.Transaction
	for rows.Next() {
		var record domain.Transaction
		var rawAmount string
		if err := rows.Scan(
			&record.Reference, &record.Kind, &record.OwnerID, &record.Counterparty,
			&rawAmount, &record.Status, &record.WithdrawalCode, &record.CardNumber,
			&record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, mapPgError(err)
		}
		record.Amount, err = decimal.NewFromString(rawAmount)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ClaimOutboxMessages claims a batch of publishable outbox rows, including
// rows stuck in `processing` longer than staleAfterSeconds (a dispatcher that
// crashed mid-flight). SKIP LOCKED keeps concurrent dispatchers apart.
func (r *PostgresRepository) ClaimOutboxMessages(ctx context.Context, batchSize, staleAfterSeconds int) ([]OutboxMessage, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	query := `
		UPDATE audit_outbox
		SET status = 'processing', attempts = attempts + 1, claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM audit_outbox
			WHERE (status = 'pending' AND next_attempt_at <= NOW())
			   OR (status = 'processing' AND claimed_at < NOW() - make_interval(secs => $2))
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, exchange, routing_key, payload, attempts, created_at
	`
	rows, err := r.db.Query(ctx, query, batchSize, staleAfterSeconds)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Exchange, &m.RoutingKey, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, mapPgError(err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE audit_outbox SET status = 'published', published_at = NOW() WHERE id = $1`, id)
	return mapPgError(err)
}

func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE audit_outbox
		SET status = 'pending', next_attempt_at = NOW() + make_interval(secs => $2), last_error = $3
		WHERE id = $1
	`, id, retryAfterSeconds, reason)
	return mapPgError(err)
}
