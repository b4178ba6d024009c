/**
 * @description
 * The transaction recorder. Every ledger operation goes through it twice:
 * once to persist the PENDING record before any balance is touched, and once
 * to advance that record to its final status after the mutation settled.
 *
 * Key features:
 * - Mints the uuid reference code for each record.
 * - Record returns only after the row is durably stored, so an accepted
 *   operation can never be missing from the audit trail.
 * - Complete and Reject retry with backoff until the status advance sticks;
 *   the advance is idempotent at the store layer, so retries are safe.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - github.com/google/uuid: For reference code generation.
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
	"github.com/Mark777g/CajeroVortexFinal/internal/store"
)

const (
	finalizeAttempts = 5
	finalizeBaseWait = 50 * time.Millisecond
)

// Entry describes a monetary event to be recorded.
type Entry struct {
	Kind           domain.TransactionKind
	OwnerID        string
	Counterparty   *string
	Amount         decimal.Decimal
	WithdrawalCode *string
	CardNumber     *string
}

// Recorder persists transaction records and drives their status lifecycle.
type Recorder struct {
	repo store.Repository
}

// NewRecorder creates a new Recorder backed by the given repository.
func NewRecorder(repo store.Repository) *Recorder {
	return &Recorder{repo: repo}
}

// Record persists a PENDING transaction record and returns it. The record is
// durable before Record returns; a storage failure here aborts the whole
// operation before any balance is touched.
func (r *Recorder) Record(ctx context.Context, entry Entry) (*domain.Transaction, error) {
	record := &domain.Transaction{
		Reference:      uuid.New(),
		Kind:           entry.Kind,
		OwnerID:        entry.OwnerID,
		Counterparty:   entry.Counterparty,
		Amount:         entry.Amount,
		Status:         domain.StatusPending,
		WithdrawalCode: entry.WithdrawalCode,
		CardNumber:     entry.CardNumber,
	}
	if err := r.repo.CreateTransaction(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create transaction record: %w", err)
	}
	return record, nil
}

// Complete advances a record to COMPLETED, retrying transient failures.
func (r *Recorder) Complete(ctx context.Context, reference uuid.UUID) error {
	return r.finalize(ctx, reference, domain.StatusCompleted)
}

// Reject advances a record to REJECTED, retrying transient failures.
func (r *Recorder) Reject(ctx context.Context, reference uuid.UUID) error {
	return r.finalize(ctx, reference, domain.StatusRejected)
}

func (r *Recorder) finalize(ctx context.Context, reference uuid.UUID, status domain.TransactionStatus) error {
	var err error
	for attempt := 0; attempt < finalizeAttempts; attempt++ {
		if attempt > 0 {
			wait := finalizeBaseWait << (attempt - 1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = r.repo.AdvanceTransactionStatus(ctx, reference, status)
		if err == nil {
			return nil
		}
		// Forward-only violations and missing records will not heal on retry.
		if errors.Is(err, store.ErrInvalidStatusChange) || errors.Is(err, store.ErrTransactionNotFound) {
			return err
		}
		log.Printf("level=warn component=recorder msg=\"status advance failed; retrying\" reference=%s status=%s attempt=%d err=%v", reference, status, attempt+1, err)
	}
	log.Printf("level=error component=recorder msg=\"status advance exhausted retries\" reference=%s status=%s err=%v", reference, status, err)
	return err
}
