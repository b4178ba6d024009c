/**
 * @description
 * The immutable transaction record: one row per accepted monetary event.
 * The reference code is the primary key and the only field that ever changes
 * after creation is the status, which moves forward only.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind classifies the monetary event.
type TransactionKind string

const (
	KindDeposit          TransactionKind = "DEPOSIT"
	KindWithdrawalNoCard TransactionKind = "WITHDRAWAL_NO_CARD"
	KindWithdrawalCard   TransactionKind = "WITHDRAWAL_CARD"
	KindTransfer         TransactionKind = "TRANSFER"
)

// TransactionStatus is the lifecycle state of a record.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusRejected  TransactionStatus = "REJECTED"
)

// Transaction is one audit record. Counterparty is set for transfers only;
// WithdrawalCode for cardless withdrawals; CardNumber for card withdrawals.
type Transaction struct {
	Reference      uuid.UUID         `json:"reference"`
	Kind           TransactionKind   `json:"kind"`
	OwnerID        string            `json:"owner_id"`
	Counterparty   *string           `json:"counterparty,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	Status         TransactionStatus `json:"status"`
	WithdrawalCode *string           `json:"withdrawal_code,omitempty"`
	CardNumber     *string           `json:"card_number,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// CanTransition reports whether a status change is legal. Statuses only move
// forward: PENDING may become COMPLETED or REJECTED; final states are final.
func CanTransition(from, to TransactionStatus) bool {
	if from == to {
		return false
	}
	return from == StatusPending && (to == StatusCompleted || to == StatusRejected)
}

// AuditEvent is the message payload enqueued for every recorded transaction
// and published to the events exchange by the outbox dispatcher.
type AuditEvent struct {
	Reference    uuid.UUID         `json:"reference"`
	Kind         TransactionKind   `json:"kind"`
	OwnerID      string            `json:"owner_id"`
	Counterparty *string           `json:"counterparty,omitempty"`
	Amount       string            `json:"amount"`
	Status       TransactionStatus `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
}
