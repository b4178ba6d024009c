/**
 * @description
 * Sentinel errors returned by the application services. Handlers branch on
 * these with errors.Is to pick the HTTP status; storage-level sentinels from
 * the store package pass through wrapped so both layers stay matchable.
 */

package app

import "errors"

var (
	// ErrInvalidAmount rejects a non-positive or non-numeric amount before
	// any record is written.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrSameOwnerTransfer rejects a transfer whose source and destination
	// are the same account.
	ErrSameOwnerTransfer = errors.New("transfer to the same account")

	// ErrUnavailable signals that storage contention exhausted the retry
	// budget. The operation was rejected, not lost: its audit record is
	// finalized as REJECTED.
	ErrUnavailable = errors.New("service temporarily unavailable")

	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords so login failures are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrPermissionDenied signals a failed authorization check.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTooManyAttempts signals the card validation rate limit tripped.
	ErrTooManyAttempts = errors.New("too many validation attempts")

	// ErrCodeAlreadyRedeemed rejects a second redemption of a cardless
	// withdrawal code.
	ErrCodeAlreadyRedeemed = errors.New("withdrawal code already redeemed")
)
