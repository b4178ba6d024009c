/**
 * @description
 * This file defines the account balance record, the unit the ledger engine
 * operates on. There is at most one record per owner identifier and the
 * balance is never observed below zero.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a single owner's balance record. The owner identifier
// (national ID string, "ci" in the legacy schema) is the natural key.
type Account struct {
	OwnerID   string          `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
