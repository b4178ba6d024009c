/**
 * @description
 * This file contains the core money movement logic. The `Ledger` struct
 * orchestrates deposits, withdrawals, transfers, and balance reads,
 * coordinating the repository and the transaction recorder.
 *
 * Key features:
 * - Every accepted mutation is bracketed by a PENDING record before the
 *   balance changes and a COMPLETED/REJECTED advance after, so the audit
 *   trail is never missing an accepted operation.
 * - Storage contention retries with backoff; an exhausted budget rejects the
 *   operation with ErrUnavailable instead of leaving it half-done.
 * - Cardless withdrawals debit up front and park the cash behind a
 *   single-use numeric code.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - crypto/rand: Withdrawal code generation.
 * - github.com/shopspring/decimal: Fixed-point money arithmetic.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/metrics: Prometheus instrumentation.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
	"github.com/Mark777g/CajeroVortexFinal/internal/store"
	"github.com/Mark777g/CajeroVortexFinal/pkg/metrics"
)

const withdrawalCodeDigits = 10

// Ledger provides the core business logic for balance operations.
type Ledger struct {
	repo        store.Repository
	recorder    *Recorder
	collector   *metrics.Collector
	retryBudget int
}

// NewLedger creates a new ledger engine. retryBudget bounds how many times a
// contended balance mutation is retried before the operation is rejected.
func NewLedger(repo store.Repository, recorder *Recorder, collector *metrics.Collector, retryBudget int) *Ledger {
	if retryBudget < 1 {
		retryBudget = 3
	}
	return &Ledger{
		repo:        repo,
		recorder:    recorder,
		collector:   collector,
		retryBudget: retryBudget,
	}
}

// BalanceOf returns the current balance for an owner. A missing account
// reads as a zero balance rather than an error; account existence checks
// belong to the mutating operations.
func (l *Ledger) BalanceOf(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	balance, err := l.repo.GetBalance(ctx, ownerID)
	if errors.Is(err, store.ErrAccountNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// Deposit credits an amount to the owner's account.
func (l *Ledger) Deposit(ctx context.Context, ownerID string, amount decimal.Decimal) (*domain.Transaction, error) {
	return l.mutate(ctx, Entry{Kind: domain.KindDeposit, OwnerID: ownerID, Amount: amount}, func(ctx context.Context) (decimal.Decimal, error) {
		return l.repo.CreditBalance(ctx, ownerID, amount)
	})
}

// Withdraw debits an amount from the owner's account.
func (l *Ledger) Withdraw(ctx context.Context, ownerID string, amount decimal.Decimal) (*domain.Transaction, error) {
	return l.mutate(ctx, Entry{Kind: domain.KindWithdrawalNoCard, OwnerID: ownerID, Amount: amount}, func(ctx context.Context) (decimal.Decimal, error) {
		return l.repo.DebitBalance(ctx, ownerID, amount)
	})
}

// WithdrawWithCard debits an amount against a card the caller has already
// validated. The card number rides along on the audit record.
func (l *Ledger) WithdrawWithCard(ctx context.Context, ownerID string, amount decimal.Decimal, cardNumber string) (*domain.Transaction, error) {
	entry := Entry{Kind: domain.KindWithdrawalCard, OwnerID: ownerID, Amount: amount, CardNumber: &cardNumber}
	return l.mutate(ctx, entry, func(ctx context.Context) (decimal.Decimal, error) {
		return l.repo.DebitBalance(ctx, ownerID, amount)
	})
}

// Transfer moves an amount between two different owners atomically. Both
// balances change together or not at all.
func (l *Ledger) Transfer(ctx context.Context, fromOwnerID, toOwnerID string, amount decimal.Decimal) (*domain.Transaction, error) {
	if fromOwnerID == toOwnerID {
		return nil, ErrSameOwnerTransfer
	}
	entry := Entry{Kind: domain.KindTransfer, OwnerID: fromOwnerID, Counterparty: &toOwnerID, Amount: amount}
	return l.mutate(ctx, entry, func(ctx context.Context) (decimal.Decimal, error) {
		if err := l.repo.TransferBalance(ctx, fromOwnerID, toOwnerID, amount); err != nil {
			return decimal.Zero, err
		}
		return l.repo.GetBalance(ctx, fromOwnerID)
	})
}

// RequestCardlessWithdrawal debits the amount immediately and parks it
// behind a single-use code. The record stays PENDING until the code is
// redeemed at a terminal.
func (l *Ledger) RequestCardlessWithdrawal(ctx context.Context, ownerID string, amount decimal.Decimal) (*domain.Transaction, error) {
	started := time.Now()
	if !domain.IsPositiveAmount(amount) {
		l.collector.RecordOperation(string(domain.KindWithdrawalNoCard), "invalid")
		return nil, ErrInvalidAmount
	}

	code, err := generateWithdrawalCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate withdrawal code: %w", err)
	}

	entry := Entry{Kind: domain.KindWithdrawalNoCard, OwnerID: ownerID, Amount: amount, WithdrawalCode: &code}
	record, err := l.recorder.Record(ctx, entry)
	if err != nil {
		l.collector.RecordOperation(string(entry.Kind), "error")
		return nil, err
	}

	balance, err := l.applyWithRetry(ctx, func(ctx context.Context) (decimal.Decimal, error) {
		return l.repo.DebitBalance(ctx, ownerID, amount)
	})
	if err != nil {
		l.rejectRecord(ctx, record)
		l.collector.RecordOperation(string(entry.Kind), "rejected")
		return nil, err
	}

	l.collector.SetBalance(ownerID, balance.InexactFloat64())
	l.collector.RecordOperation(string(entry.Kind), "pending")
	l.collector.ObserveDuration(time.Since(started).Seconds())
	return record, nil
}

// RedeemCardlessWithdrawal completes a pending cardless withdrawal by its
// code. The funds left the balance at request time, so redemption only
// advances the record. A code redeems exactly once.
func (l *Ledger) RedeemCardlessWithdrawal(ctx context.Context, code string) (*domain.Transaction, error) {
	record, err := l.repo.FindTransactionByWithdrawalCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.StatusPending {
		return nil, ErrCodeAlreadyRedeemed
	}
	if err := l.repo.AdvanceTransactionStatus(ctx, record.Reference, domain.StatusCompleted); err != nil {
		if errors.Is(err, store.ErrInvalidStatusChange) {
			return nil, ErrCodeAlreadyRedeemed
		}
		return nil, err
	}
	record.Status = domain.StatusCompleted
	l.collector.RecordOperation(string(domain.KindWithdrawalNoCard), "completed")
	return record, nil
}

// ListTransactions returns the owner's history, newest first. Transfers show
// up for both parties.
func (l *Ledger) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]domain.Transaction, error) {
	return l.repo.ListTransactionsByOwner(ctx, ownerID, limit, offset)
}

// mutate is the shared accept-record-apply-finalize path. The mutation
// callback returns the owner's balance after a successful apply.
func (l *Ledger) mutate(ctx context.Context, entry Entry, apply func(context.Context) (decimal.Decimal, error)) (*domain.Transaction, error) {
	started := time.Now()
	if !domain.IsPositiveAmount(entry.Amount) {
		l.collector.RecordOperation(string(entry.Kind), "invalid")
		return nil, ErrInvalidAmount
	}

	record, err := l.recorder.Record(ctx, entry)
	if err != nil {
		l.collector.RecordOperation(string(entry.Kind), "error")
		return nil, err
	}

	balance, err := l.applyWithRetry(ctx, apply)
	if err != nil {
		l.rejectRecord(ctx, record)
		l.collector.RecordOperation(string(entry.Kind), "rejected")
		return nil, err
	}

	if err := l.recorder.Complete(ctx, record.Reference); err != nil {
		// The balance already moved; surface the record as completed and
		// leave the retries' failure in the log.
		log.Printf("level=error component=ledger msg=\"completed mutation with unfinalized record\" reference=%s err=%v", record.Reference, err)
	}
	record.Status = domain.StatusCompleted

	l.collector.SetBalance(entry.OwnerID, balance.InexactFloat64())
	l.collector.RecordOperation(string(entry.Kind), "completed")
	l.collector.ObserveDuration(time.Since(started).Seconds())
	return record, nil
}

// applyWithRetry runs the balance mutation, retrying contention failures up
// to the configured budget before giving up with ErrUnavailable.
func (l *Ledger) applyWithRetry(ctx context.Context, apply func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	var balance decimal.Decimal
	var err error
	for attempt := 0; attempt < l.retryBudget; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * 25 * time.Millisecond
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			}
		}
		balance, err = apply(ctx)
		if err == nil {
			return balance, nil
		}
		if !errors.Is(err, store.ErrContention) {
			return decimal.Zero, err
		}
		log.Printf("level=warn component=ledger msg=\"balance mutation contended; retrying\" attempt=%d err=%v", attempt+1, err)
	}
	return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (l *Ledger) rejectRecord(ctx context.Context, record *domain.Transaction) {
	if err := l.recorder.Reject(ctx, record.Reference); err != nil {
		log.Printf("level=error component=ledger msg=\"failed to reject record\" reference=%s err=%v", record.Reference, err)
	}
}

// generateWithdrawalCode draws a fixed-length numeric code from crypto/rand.
func generateWithdrawalCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < withdrawalCodeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", withdrawalCodeDigits, n), nil
}
