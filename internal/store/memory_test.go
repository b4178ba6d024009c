package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestCreateAccountDuplicate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.CreateAccount(ctx, "1103456789"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := repo.CreateAccount(ctx, "1103456789"); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
}

func TestBalanceLifecycle(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	owner := "1103456789"

	if err := repo.CreateAccount(ctx, owner); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	balance, err := repo.CreditBalance(ctx, owner, mustDecimal(t, "100.00"))
	if err != nil {
		t.Fatalf("CreditBalance: %v", err)
	}
	if !balance.Equal(mustDecimal(t, "100.00")) {
		t.Fatalf("balance after credit = %s, want 100.00", balance)
	}

	balance, err = repo.DebitBalance(ctx, owner, mustDecimal(t, "30.00"))
	if err != nil {
		t.Fatalf("DebitBalance: %v", err)
	}
	if !balance.Equal(mustDecimal(t, "70.00")) {
		t.Fatalf("balance after debit = %s, want 70.00", balance)
	}

	if _, err := repo.DebitBalance(ctx, owner, mustDecimal(t, "1000.00")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	balance, err = repo.GetBalance(ctx, owner)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !balance.Equal(mustDecimal(t, "70.00")) {
		t.Fatalf("balance after rejected debit = %s, want 70.00", balance)
	}
}

func TestBalanceMissingAccount(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.GetBalance(ctx, "ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("GetBalance: expected ErrAccountNotFound, got %v", err)
	}
	if _, err := repo.CreditBalance(ctx, "ghost", mustDecimal(t, "1.00")); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("CreditBalance: expected ErrAccountNotFound, got %v", err)
	}
	if _, err := repo.DebitBalance(ctx, "ghost", mustDecimal(t, "1.00")); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("DebitBalance: expected ErrAccountNotFound, got %v", err)
	}
}

func TestConcurrentDeposits(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	owner := "1103456789"

	if err := repo.CreateAccount(ctx, owner); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	const workers = 50
	amount := mustDecimal(t, "2.50")
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := repo.CreditBalance(ctx, owner, amount); err != nil {
				t.Errorf("CreditBalance: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, err := repo.GetBalance(ctx, owner)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	want := amount.Mul(decimal.NewFromInt(workers))
	if !balance.Equal(want) {
		t.Fatalf("balance after %d deposits = %s, want %s", workers, balance, want)
	}
}

func TestTransferBalance(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for _, owner := range []string{"alice", "bob"} {
		if err := repo.CreateAccount(ctx, owner); err != nil {
			t.Fatalf("CreateAccount(%s): %v", owner, err)
		}
	}
	if _, err := repo.CreditBalance(ctx, "alice", mustDecimal(t, "100.00")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := repo.TransferBalance(ctx, "alice", "bob", mustDecimal(t, "40.00")); err != nil {
		t.Fatalf("TransferBalance: %v", err)
	}

	aliceBal, _ := repo.GetBalance(ctx, "alice")
	bobBal, _ := repo.GetBalance(ctx, "bob")
	if !aliceBal.Equal(mustDecimal(t, "60.00")) || !bobBal.Equal(mustDecimal(t, "40.00")) {
		t.Fatalf("balances after transfer = %s / %s, want 60.00 / 40.00", aliceBal, bobBal)
	}

	if err := repo.TransferBalance(ctx, "alice", "bob", mustDecimal(t, "500.00")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := repo.TransferBalance(ctx, "alice", "ghost", mustDecimal(t, "1.00")); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestConcurrentOpposingTransfers(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for _, owner := range []string{"alice", "bob"} {
		if err := repo.CreateAccount(ctx, owner); err != nil {
			t.Fatalf("CreateAccount(%s): %v", owner, err)
		}
		if _, err := repo.CreditBalance(ctx, owner, mustDecimal(t, "1000.00")); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	amount := mustDecimal(t, "1.00")
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = repo.TransferBalance(ctx, "alice", "bob", amount)
		}()
		go func() {
			defer wg.Done()
			_ = repo.TransferBalance(ctx, "bob", "alice", amount)
		}()
	}
	wg.Wait()

	aliceBal, _ := repo.GetBalance(ctx, "alice")
	bobBal, _ := repo.GetBalance(ctx, "bob")
	total := aliceBal.Add(bobBal)
	if !total.Equal(mustDecimal(t, "2000.00")) {
		t.Fatalf("total after opposing transfers = %s, want 2000.00", total)
	}
}

func TestTransactionStatusAdvance(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	record := &domain.Transaction{
		Reference: uuid.New(),
		Kind:      domain.KindDeposit,
		OwnerID:   "1103456789",
		Amount:    mustDecimal(t, "100.00"),
		Status:    domain.StatusPending,
	}
	if err := repo.CreateTransaction(ctx, record); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	if err := repo.AdvanceTransactionStatus(ctx, record.Reference, domain.StatusCompleted); err != nil {
		t.Fatalf("advance to COMPLETED: %v", err)
	}
	// Same target status again is a no-op, so retries stay safe.
	if err := repo.AdvanceTransactionStatus(ctx, record.Reference, domain.StatusCompleted); err != nil {
		t.Fatalf("repeated advance: %v", err)
	}
	if err := repo.AdvanceTransactionStatus(ctx, record.Reference, domain.StatusRejected); !errors.Is(err, ErrInvalidStatusChange) {
		t.Fatalf("expected ErrInvalidStatusChange, got %v", err)
	}
	if err := repo.AdvanceTransactionStatus(ctx, uuid.New(), domain.StatusCompleted); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}

	stored, err := repo.FindTransactionByReference(ctx, record.Reference)
	if err != nil {
		t.Fatalf("FindTransactionByReference: %v", err)
	}
	if stored.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}
}

func TestWithdrawalCodeLookup(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	code := "483921"
	record := &domain.Transaction{
		Reference:      uuid.New(),
		Kind:           domain.KindWithdrawalNoCard,
		OwnerID:        "1103456789",
		Amount:         mustDecimal(t, "50.00"),
		Status:         domain.StatusPending,
		WithdrawalCode: &code,
	}
	if err := repo.CreateTransaction(ctx, record); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	found, err := repo.FindTransactionByWithdrawalCode(ctx, code)
	if err != nil {
		t.Fatalf("FindTransactionByWithdrawalCode: %v", err)
	}
	if found.Reference != record.Reference {
		t.Fatalf("reference = %s, want %s", found.Reference, record.Reference)
	}
	if _, err := repo.FindTransactionByWithdrawalCode(ctx, "000000"); !errors.Is(err, ErrWithdrawalCodeNotFound) {
		t.Fatalf("expected ErrWithdrawalCodeNotFound, got %v", err)
	}
}

func TestListTransactionsByOwner(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	counterparty := "bob"
	for i := 0; i < 3; i++ {
		record := &domain.Transaction{
			Reference: uuid.New(),
			Kind:      domain.KindDeposit,
			OwnerID:   "alice",
			Amount:    mustDecimal(t, "10.00"),
			Status:    domain.StatusCompleted,
		}
		if err := repo.CreateTransaction(ctx, record); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	}
	transfer := &domain.Transaction{
		Reference:    uuid.New(),
		Kind:         domain.KindTransfer,
		OwnerID:      "alice",
		Counterparty: &counterparty,
		Amount:       mustDecimal(t, "5.00"),
		Status:       domain.StatusCompleted,
	}
	if err := repo.CreateTransaction(ctx, transfer); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	records, err := repo.ListTransactionsByOwner(ctx, "alice", 10, 0)
	if err != nil {
		t.Fatalf("ListTransactionsByOwner: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("len = %d, want 4", len(records))
	}
	// Newest first: the transfer was created last.
	if records[0].Kind != domain.KindTransfer {
		t.Fatalf("first record kind = %s, want TRANSFER", records[0].Kind)
	}

	// The counterparty sees the transfer in their own history.
	bobRecords, err := repo.ListTransactionsByOwner(ctx, "bob", 10, 0)
	if err != nil {
		t.Fatalf("ListTransactionsByOwner(bob): %v", err)
	}
	if len(bobRecords) != 1 || bobRecords[0].Reference != transfer.Reference {
		t.Fatalf("bob records = %+v, want only the transfer", bobRecords)
	}

	paged, err := repo.ListTransactionsByOwner(ctx, "alice", 2, 2)
	if err != nil {
		t.Fatalf("paged list: %v", err)
	}
	if len(paged) != 2 {
		t.Fatalf("paged len = %d, want 2", len(paged))
	}
}

func TestOutboxClaimAndAck(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	record := &domain.Transaction{
		Reference: uuid.New(),
		Kind:      domain.KindDeposit,
		OwnerID:   "1103456789",
		Amount:    mustDecimal(t, "100.00"),
		Status:    domain.StatusPending,
	}
	if err := repo.CreateTransaction(ctx, record); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if err := repo.AdvanceTransactionStatus(ctx, record.Reference, domain.StatusCompleted); err != nil {
		t.Fatalf("AdvanceTransactionStatus: %v", err)
	}

	// Creation plus the status advance each queue one event.
	claimed, err := repo.ClaimOutboxMessages(ctx, 10, 300)
	if err != nil {
		t.Fatalf("ClaimOutboxMessages: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d messages, want 2", len(claimed))
	}
	if claimed[0].Exchange != AuditExchange {
		t.Fatalf("exchange = %s, want %s", claimed[0].Exchange, AuditExchange)
	}
	if claimed[0].RoutingKey != "transaction.deposit.pending" {
		t.Fatalf("routing key = %s, want transaction.deposit.pending", claimed[0].RoutingKey)
	}

	// Claimed messages stay invisible until they go stale or fail.
	again, err := repo.ClaimOutboxMessages(ctx, 10, 300)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second claim returned %d messages, want 0", len(again))
	}

	if err := repo.MarkOutboxPublished(ctx, claimed[0].ID); err != nil {
		t.Fatalf("MarkOutboxPublished: %v", err)
	}
	if err := repo.MarkOutboxFailed(ctx, claimed[1].ID, 0, "broker down"); err != nil {
		t.Fatalf("MarkOutboxFailed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	retried, err := repo.ClaimOutboxMessages(ctx, 10, 300)
	if err != nil {
		t.Fatalf("claim after failure: %v", err)
	}
	if len(retried) != 1 || retried[0].ID != claimed[1].ID {
		t.Fatalf("retried = %+v, want only the failed message", retried)
	}
	if retried[0].Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", retried[0].Attempts)
	}
}

func TestCardCredentialLookup(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	expiry := time.Date(2027, time.December, 31, 0, 0, 0, 0, time.UTC)
	card := &domain.Card{
		Number:       "4532015112830366",
		OwnerID:      "1103456789",
		Brand:        domain.BrandVisa,
		SecurityCode: "123",
		Expiry:       expiry,
		Status:       domain.CardActive,
	}
	if err := repo.CreateCard(ctx, card); err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	if err := repo.CreateCard(ctx, card); !errors.Is(err, ErrDuplicateCard) {
		t.Fatalf("expected ErrDuplicateCard, got %v", err)
	}

	found, err := repo.FindCardByCredentials(ctx, card.Number, "123", expiry)
	if err != nil {
		t.Fatalf("FindCardByCredentials: %v", err)
	}
	if found.OwnerID != card.OwnerID {
		t.Fatalf("owner = %s, want %s", found.OwnerID, card.OwnerID)
	}

	if _, err := repo.FindCardByCredentials(ctx, card.Number, "999", expiry); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("wrong security code: expected ErrCardNotFound, got %v", err)
	}

	if err := repo.SetCardStatus(ctx, card.OwnerID, card.Number, domain.CardBlocked); err != nil {
		t.Fatalf("SetCardStatus: %v", err)
	}
	if _, err := repo.FindCardByCredentials(ctx, card.Number, "123", expiry); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("blocked card: expected ErrCardNotFound, got %v", err)
	}
	if err := repo.SetCardStatus(ctx, "someone-else", card.Number, domain.CardActive); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("foreign owner: expected ErrCardNotFound, got %v", err)
	}
}

func TestUserAndRoles(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	user := &domain.User{
		OwnerID:  "1103456789",
		Username: "mgonzalez",
		Roles:    []domain.Role{domain.DefaultClientRole()},
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := repo.CreateUser(ctx, user); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}

	// Username matching is case-insensitive.
	found, err := repo.FindUserByUsername(ctx, "MGonzalez")
	if err != nil {
		t.Fatalf("FindUserByUsername: %v", err)
	}
	if found.OwnerID != user.OwnerID {
		t.Fatalf("owner = %s, want %s", found.OwnerID, user.OwnerID)
	}

	admin := domain.Role{
		Name:        "ADMIN",
		Permissions: []domain.Permission{{Resource: "/*", Action: domain.ActionExecute}},
	}
	if err := repo.AssignRole(ctx, user.OwnerID, admin); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	found, err = repo.FindUserByOwnerID(ctx, user.OwnerID)
	if err != nil {
		t.Fatalf("FindUserByOwnerID: %v", err)
	}
	if !found.HasRole("ADMIN") || !found.HasRole("CLIENT") {
		t.Fatalf("roles = %+v, want CLIENT and ADMIN", found.Roles)
	}
}
