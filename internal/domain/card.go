/**
 * @description
 * Card record and the format-level card checks: digit shape, Luhn checksum,
 * security code shape, and expiry. Lookup against stored card records happens
 * in the app layer; everything here is pure.
 *
 * @notes
 * - Validation failures are surfaced as *CardError values that unwrap to
 *   ErrInvalidCard, so callers can branch on the broad class with errors.Is
 *   and on the specific reason with errors.As.
 */

package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// CardBrand identifies the card network, derived from the number prefix.
type CardBrand string

const (
	BrandVisa       CardBrand = "VISA"
	BrandMastercard CardBrand = "MASTERCARD"
	BrandUnknown    CardBrand = "UNKNOWN"
)

// CardStatus is the lifecycle state of a card. Cards are never hard-deleted;
// they move between ACTIVE and BLOCKED.
type CardStatus string

const (
	CardActive  CardStatus = "ACTIVE"
	CardBlocked CardStatus = "BLOCKED"
)

// Card represents a registered card. The card number is the natural key.
type Card struct {
	Number       string     `json:"number"`
	OwnerID      string     `json:"owner_id"`
	Brand        CardBrand  `json:"brand"`
	SecurityCode string     `json:"-"`
	Expiry       time.Time  `json:"expiry"`
	Status       CardStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ErrInvalidCard is the broad class every card validation failure belongs to.
var ErrInvalidCard = errors.New("invalid card")

// CardFailureReason distinguishes why a card was rejected. The ledger only
// cares about pass/fail, but the UI needs the specific reason.
type CardFailureReason string

const (
	CardMalformedNumber CardFailureReason = "malformed_number"
	CardBadChecksum     CardFailureReason = "failed_checksum"
	CardBadSecurityCode CardFailureReason = "bad_security_code"
	CardExpired         CardFailureReason = "expired"
	CardNotFound        CardFailureReason = "not_found_or_inactive"
)

// CardError is a card validation failure with a machine-readable reason.
type CardError struct {
	Reason CardFailureReason
}

func (e *CardError) Error() string { return "invalid card: " + string(e.Reason) }

func (e *CardError) Unwrap() error { return ErrInvalidCard }

var (
	visaPattern       = regexp.MustCompile(`^4[0-9]{15}$`)
	mastercardPattern = regexp.MustCompile(`^5[1-5][0-9]{14}$`)
	sixteenDigits     = regexp.MustCompile(`^[0-9]{16}$`)
	threeDigits       = regexp.MustCompile(`^[0-9]{3}$`)
)

// NormalizeCardNumber strips whitespace and dashes from a card number.
func NormalizeCardNumber(number string) string {
	clean := strings.ReplaceAll(number, " ", "")
	clean = strings.ReplaceAll(clean, "-", "")
	return strings.ReplaceAll(clean, "\t", "")
}

// DetectBrand classifies a normalized card number by its prefix.
func DetectBrand(number string) CardBrand {
	switch {
	case visaPattern.MatchString(number):
		return BrandVisa
	case mastercardPattern.MatchString(number):
		return BrandMastercard
	default:
		return BrandUnknown
	}
}

// PassesLuhn implements the standard mod-10 check: reading right to left,
// every second digit is doubled (minus 9 when the double exceeds 9) and the
// total must be divisible by 10.
func PassesLuhn(number string) bool {
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		n := int(c - '0')
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}

// CheckCardFormat runs the format-level validation steps in order: 16 digits,
// Luhn, 3-digit security code, expiry parse and not-strictly-before-today.
// It returns the normalized number and parsed expiry date on success.
func CheckCardFormat(number, securityCode, expiry string, today time.Time) (string, time.Time, error) {
	clean := NormalizeCardNumber(number)
	if !sixteenDigits.MatchString(clean) {
		return "", time.Time{}, &CardError{Reason: CardMalformedNumber}
	}
	if !PassesLuhn(clean) {
		return "", time.Time{}, &CardError{Reason: CardBadChecksum}
	}
	if !threeDigits.MatchString(strings.TrimSpace(securityCode)) {
		return "", time.Time{}, &CardError{Reason: CardBadSecurityCode}
	}
	exp, err := time.Parse("2006-01-02", strings.TrimSpace(expiry))
	if err != nil {
		return "", time.Time{}, &CardError{Reason: CardExpired}
	}
	if expiredBefore(exp, today) {
		return "", time.Time{}, &CardError{Reason: CardExpired}
	}
	return clean, exp, nil
}

// expiredBefore compares at date granularity: a card expiring today is still
// usable; only an expiry strictly before today's date rejects.
func expiredBefore(expiry, today time.Time) bool {
	e := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
	d := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return e.Before(d)
}
