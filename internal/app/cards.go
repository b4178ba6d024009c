/**
 * @description
 * Card management and validation. Validation runs the cheap format checks
 * first (digit shape, Luhn, security code, expiry) and only then consults
 * the stored card records, so malformed input never costs a lookup. Failed
 * attempts count against a per-owner rate limit.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - internal/domain, internal/store: Domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
	"github.com/Mark777g/CajeroVortexFinal/internal/store"
)

// RateLimiter bounds how often a subject may perform an action inside a
// time window. A nil limiter disables the bound.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// CardService manages card records and runs card validation.
type CardService struct {
	repo          store.Repository
	limiter       RateLimiter
	attemptLimit  int
	attemptWindow time.Duration
	now           func() time.Time
}

// NewCardService creates a card service. attemptLimit and attemptWindow
// bound validation attempts per owner; a nil limiter disables the bound.
func NewCardService(repo store.Repository, limiter RateLimiter, attemptLimit int, attemptWindow time.Duration) *CardService {
	return &CardService{
		repo:          repo,
		limiter:       limiter,
		attemptLimit:  attemptLimit,
		attemptWindow: attemptWindow,
		now:           time.Now,
	}
}

// ValidateCard runs the full validation pipeline against the submitted
// credentials and returns the matching ACTIVE card. Failures unwrap to
// domain.ErrInvalidCard with a reason; rate limit trips return
// ErrTooManyAttempts before any check runs.
func (s *CardService) ValidateCard(ctx context.Context, ownerID, number, securityCode, expiry string) (*domain.Card, error) {
	if err := s.consumeAttempt(ctx, ownerID); err != nil {
		return nil, err
	}

	clean, expiryDate, err := domain.CheckCardFormat(number, securityCode, expiry, s.now())
	if err != nil {
		return nil, err
	}

	card, err := s.repo.FindCardByCredentials(ctx, clean, strings.TrimSpace(securityCode), expiryDate)
	if errors.Is(err, store.ErrCardNotFound) {
		return nil, &domain.CardError{Reason: domain.CardNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up card: %w", err)
	}
	if card.OwnerID != ownerID {
		return nil, &domain.CardError{Reason: domain.CardNotFound}
	}
	return card, nil
}

// RegisterCard stores a new ACTIVE card for the owner after format checks.
func (s *CardService) RegisterCard(ctx context.Context, ownerID, number, securityCode, expiry string) (*domain.Card, error) {
	clean, expiryDate, err := domain.CheckCardFormat(number, securityCode, expiry, s.now())
	if err != nil {
		return nil, err
	}

	card := &domain.Card{
		Number:       clean,
		OwnerID:      ownerID,
		Brand:        domain.DetectBrand(clean),
		SecurityCode: strings.TrimSpace(securityCode),
		Expiry:       expiryDate,
		Status:       domain.CardActive,
	}
	if err := s.repo.CreateCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// ListCards returns the owner's cards, soonest-expiring last.
func (s *CardService) ListCards(ctx context.Context, ownerID string) ([]domain.Card, error) {
	return s.repo.ListCardsByOwner(ctx, ownerID)
}

// BlockCard moves one of the owner's cards to BLOCKED. A blocked card no
// longer matches credential lookups.
func (s *CardService) BlockCard(ctx context.Context, ownerID, number string) error {
	return s.repo.SetCardStatus(ctx, ownerID, domain.NormalizeCardNumber(number), domain.CardBlocked)
}

// UnblockCard moves one of the owner's cards back to ACTIVE.
func (s *CardService) UnblockCard(ctx context.Context, ownerID, number string) error {
	return s.repo.SetCardStatus(ctx, ownerID, domain.NormalizeCardNumber(number), domain.CardActive)
}

func (s *CardService) consumeAttempt(ctx context.Context, ownerID string) error {
	if s.limiter == nil || s.attemptLimit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, "card_validation", ownerID, s.attemptLimit, s.attemptWindow)
	if err != nil {
		// A broken limiter must not block card validation.
		log.Printf("level=warn component=card_service msg=\"rate limiter unavailable; allowing attempt\" owner_id=%s err=%v", ownerID, err)
		return nil
	}
	if count > s.attemptLimit {
		log.Printf("level=warn component=card_service msg=\"validation rate limit tripped\" owner_id=%s count=%d retry_after=%d", ownerID, count, retryAfter)
		return ErrTooManyAttempts
	}
	return nil
}
