/**
 * @description
 * Monetary amount helpers shared by the whole core. Amounts are fixed-point
 * decimals (shopspring/decimal), never floats, so that balance arithmetic is
 * exact regardless of scale.
 */

package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a user-entered amount string into a decimal.
// The web layer pre-validates presence; this enforces numeric shape only.
func ParseAmount(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
}

// IsPositiveAmount reports whether the amount is strictly greater than zero,
// the precondition shared by every ledger mutation.
func IsPositiveAmount(amount decimal.Decimal) bool {
	return amount.IsPositive()
}
