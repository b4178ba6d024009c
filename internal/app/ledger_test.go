package app

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
	"github.com/Mark777g/CajeroVortexFinal/internal/store"
	"github.com/Mark777g/CajeroVortexFinal/pkg/metrics"
)

func newTestLedger(t *testing.T, repo store.Repository) *Ledger {
	t.Helper()
	return NewLedger(repo, NewRecorder(repo), metrics.NewCollector(), 3)
}

func seedAccount(t *testing.T, repo store.Repository, ownerID string) {
	t.Helper()
	if err := repo.CreateAccount(context.Background(), ownerID); err != nil {
		t.Fatalf("CreateAccount(%s): %v", ownerID, err)
	}
}

func amount(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

// flakyRepo injects contention failures into credit calls.
type flakyRepo struct {
	store.Repository
	creditFailures int
}

func (f *flakyRepo) CreditBalance(ctx context.Context, ownerID string, amt decimal.Decimal) (decimal.Decimal, error) {
	if f.creditFailures > 0 {
		f.creditFailures--
		return decimal.Zero, store.ErrContention
	}
	return f.Repository.CreditBalance(ctx, ownerID, amt)
}

func TestDepositWithdrawScenario(t *testing.T) {
	repo := store.NewMemoryRepository()
	ledger := newTestLedger(t, repo)
	ctx := context.Background()
	owner := "1103456789"
	seedAccount(t, repo, owner)

	record, err := ledger.Deposit(ctx, owner, amount(t, "100.00"))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if record.Status != domain.StatusCompleted {
		t.Fatalf("deposit status = %s, want COMPLETED", record.Status)
	}

	if _, err := ledger.Withdraw(ctx, owner, amount(t, "30.00")); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	balance, err := ledger.BalanceOf(ctx, owner)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if !balance.Equal(amount(t, "70.00")) {
		t.Fatalf("balance = %s, want 70.00", balance)
	}

	if _, err := ledger.Withdraw(ctx, owner, amount(t, "1000.00")); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	balance, _ = ledger.BalanceOf(ctx, owner)
	if !balance.Equal(amount(t, "70.00")) {
		t.Fatalf("balance after rejected withdrawal = %s, want 70.00", balance)
	}
}

func TestInvalidAmountWritesNoRecord(t *testing.T) {
	repo := store.NewMemoryRepository()
	ledger := newTestLedger(t, repo)
	ctx := context.Background()
	owner := "1103456789"
	seedAccount(t, repo, owner)

	cases := []struct {
		name string
		amt  string
	}{
		{"zero", "0"},
		{"negative", "-25.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ledger.Deposit(ctx, owner, amount(t, tc.amt)); !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("expected ErrInvalidAmount, got %v", err)
			}
		})
	}

	records, err := repo.ListTransactionsByOwner(ctx, owner, 10, 0)
	if err != nil {
		t.Fatalf("ListTransactionsByOwner: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("invalid amounts left %d records, want 0", len(records))
	}
}

func TestRejectedMutationLeavesRejectedRecord(t *testing.T) {
	repo := store.NewMemoryRepository()
	ledger := newTestLedger(t, repo)
	ctx := context.Background()
	owner := "1103456789"
	seedAccount(t, repo, owner)

	if _, err := ledger.Withdraw(ctx, owner, amount(t, "10.00")); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	records, err := repo.ListTransactionsByOwner(ctx, owner, 10, 0)
	if err != nil {
		t.Fatalf("ListTransactionsByOwner: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Status != domain.StatusRejected {
		t.Fatalf("record status = %s, want REJECTED", records[0].Status)
	}
}

func TestDepositRetriesContention(t *testing.T) {
	repo := store.NewMemoryRepository()
	flaky := &flakyRepo{Repository: repo, creditFailures: 2}
	ledger := NewLedger(flaky, NewRecorder(repo), metrics.NewCollector(), 3)
	ctx := context.Background()
	owner := "1103456789"
	seedAccount(t, repo, owner)

	if _, err := ledger.Deposit(ctx, owner, amount(t, "50.00")); err != nil {
		t.Fatalf("Deposit with transient contention: %v", err)
	}
	balance, _ := ledger.BalanceOf(ctx, owner)
	if !balance.Equal(amount(t, "50.00")) {
		t.Fatalf("balance = %s, want 50.00", balance)
	}
}

func TestDepositUnavailableAfterRetryBudget(t *testing.T) {
	repo := store.NewMemoryRepository()
	flaky := &flakyRepo{Repository: repo, creditFailures: 10}
	ledger := NewLedger(flaky, NewRecorder(repo), metrics.NewCollector(), 3)
	ctx := context.Background()
	owner := "1103456789"
	seedAccount(t, repo, owner)

	if _, err := ledger.Deposit(ctx, owner, amount(t, "50.00")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	records, _ := repo.ListTransactionsByOwner(ctx, owner, 10, 0)
	if len(records) != 1 || records[0].Status != domain.StatusRejected {
		t.Fatalf("records = %+v, want one REJECTED record", records)
	}
}

func TestTransfer(t *testing.T) {
	repo := store.NewMemoryRepository()
	ledger := newTestLedger(t, repo)
	ctx := context.Background()
	seedAccount(t, repo, "alice")
	seedAccount(t, repo, "bob")
	if _, err := ledger.Deposit(ctx, "alice", amount(t, "100.00")); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	record, err := ledger.Transfer(ctx, "alice", "bob", amount(t, "40.00"))
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if record.Counterparty == nil || *record.Counterparty != "bob" {
		t.Fatalf("counterparty = %v, want bob", record.Counterparty)
	}

	aliceBal, _ := ledger.BalanceOf(ctx, "alice")
	bobBal, _ := ledger.BalanceOf(ctx, "bob")
	if !aliceBal.Equal(amount(t, "60.00")) || !bobBal.Equal(amount(t, "40.00")) {
		t.Fatalf("balances = %s / %s, want 60.00 / 40.00", aliceBal, bobBal)
	}

	if _, err := ledger.Transfer(ctx, "alice", "alice", amount(t, "5.00")); !errors.Is(err, ErrSameOwnerTransfer) {
		t.Fatalf("expected ErrSameOwnerTransfer, got %v", err)
	}
	if _, err := ledger.Transfer(ctx, "alice", "ghost", amount(t, "5.00")); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestBalanceOfMissingAccountIsZero(t *testing.T) {
	repo := store.NewMemoryRepository()
	ledger := newTestLedger(t, repo)

	balance, err := ledger.BalanceOf(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if !balance.IsZero() {
		t.Fatalf("balance = %s, want 0", balance)
	}
}

func TestCardlessWithdrawalLifecycle(t *testing.T) {
	repo := store.NewMemoryRepository()
	ledger := newTestLedger(t, repo)
	ctx := context.Background()
	owner := "1103456789"
	seedAccount(t, repo, owner)
	if _, err := ledger.Deposit(ctx, owner, amount(t, "100.00")); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	record, err := ledger.RequestCardlessWithdrawal(ctx, owner, amount(t, "60.00"))
	if err != nil {
		t.Fatalf("RequestCardlessWithdrawal: %v", err)
	}
	if record.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", record.Status)
	}
	if record.WithdrawalCode == nil || len(*record.WithdrawalCode) != 10 {
		t.Fatalf("withdrawal code = %v, want 10 digits", record.WithdrawalCode)
	}

	// Funds leave the balance at request time.
	balance, _ := ledger.BalanceOf(ctx, owner)
	if !balance.Equal(amount(t, "40.00")) {
		t.Fatalf("balance after request = %s, want 40.00", balance)
	}

	redeemed, err := ledger.RedeemCardlessWithdrawal(ctx, *record.WithdrawalCode)
	if err != nil {
		t.Fatalf("RedeemCardlessWithdrawal: %v", err)
	}
	if redeemed.Status != domain.StatusCompleted {
		t.Fatalf("redeemed status = %s, want COMPLETED", redeemed.Status)
	}

	if _, err := ledger.RedeemCardlessWithdrawal(ctx, *record.WithdrawalCode); !errors.Is(err, ErrCodeAlreadyRedeemed) {
		t.Fatalf("second redemption: expected ErrCodeAlreadyRedeemed, got %v", err)
	}
	if _, err := ledger.RedeemCardlessWithdrawal(ctx, "0000000000"); !errors.Is(err, store.ErrWithdrawalCodeNotFound) {
		t.Fatalf("unknown code: expected ErrWithdrawalCodeNotFound, got %v", err)
	}
}

func TestCardlessWithdrawalInsufficientFunds(t *testing.T) {
	repo := store.NewMemoryRepository()
	ledger := newTestLedger(t, repo)
	ctx := context.Background()
	owner := "1103456789"
	seedAccount(t, repo, owner)

	if _, err := ledger.RequestCardlessWithdrawal(ctx, owner, amount(t, "60.00")); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	records, _ := repo.ListTransactionsByOwner(ctx, owner, 10, 0)
	if len(records) != 1 || records[0].Status != domain.StatusRejected {
		t.Fatalf("records = %+v, want one REJECTED record", records)
	}
}
