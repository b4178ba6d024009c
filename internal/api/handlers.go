/**
 * @description
 * This file contains the HTTP handlers for the banking core's API endpoints.
 * Handlers parse incoming requests, call the appropriate application service,
 * and write the HTTP response. They act as the bridge between the web layer
 * and the business logic layer.
 *
 * @dependencies
 * - encoding/json, errors, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Mark777g/CajeroVortexFinal/internal/app"
	"github.com/Mark777g/CajeroVortexFinal/internal/domain"
	"github.com/Mark777g/CajeroVortexFinal/internal/store"
)

// Handlers holds the application services the HTTP layer dispatches to.
type Handlers struct {
	users  *app.UserService
	ledger *app.Ledger
	cards  *app.CardService
	issuer *TokenIssuer
}

// NewHandlers creates the handler set.
func NewHandlers(users *app.UserService, ledger *app.Ledger, cards *app.CardService, issuer *TokenIssuer) *Handlers {
	return &Handlers{users: users, ledger: ledger, cards: cards, issuer: issuer}
}

type registerRequest struct {
	OwnerID  string `json:"owner_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token   string `json:"token"`
	OwnerID string `json:"owner_id"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type withdrawalRequest struct {
	Amount       string `json:"amount"`
	CardNumber   string `json:"card_number,omitempty"`
	SecurityCode string `json:"security_code,omitempty"`
	Expiry       string `json:"expiry,omitempty"`
}

type transferRequest struct {
	ToOwnerID string `json:"to_owner_id"`
	Amount    string `json:"amount"`
}

type redeemRequest struct {
	Code string `json:"code"`
}

type cardRequest struct {
	Number       string `json:"number"`
	SecurityCode string `json:"security_code"`
	Expiry       string `json:"expiry"`
}

type transactionResponse struct {
	Reference      string  `json:"reference"`
	Kind           string  `json:"kind"`
	OwnerID        string  `json:"owner_id"`
	Counterparty   *string `json:"counterparty,omitempty"`
	Amount         string  `json:"amount"`
	Status         string  `json:"status"`
	WithdrawalCode *string `json:"withdrawal_code,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

func buildTransactionResponse(record *domain.Transaction) transactionResponse {
	return transactionResponse{
		Reference:      record.Reference.String(),
		Kind:           string(record.Kind),
		OwnerID:        record.OwnerID,
		Counterparty:   record.Counterparty,
		Amount:         record.Amount.String(),
		Status:         string(record.Status),
		WithdrawalCode: record.WithdrawalCode,
		CreatedAt:      record.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// RegisterHandler creates a user, opens their account, and returns a token.
func (h *Handlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.users.Register(r.Context(), req.OwnerID, req.Username, req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	token, err := h.issuer.Issue(user.OwnerID, user.Username)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tokenResponse{Token: token, OwnerID: user.OwnerID})
}

// LoginHandler verifies credentials and returns a token.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	token, err := h.issuer.Issue(user.OwnerID, user.Username)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{Token: token, OwnerID: user.OwnerID})
}

// BalanceHandler returns the balance of the account in the path.
func (h *Handlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	balance, err := h.ledger.BalanceOf(r.Context(), ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"owner_id": ownerID, "balance": balance.String()})
}

// DepositHandler credits the authenticated owner's account.
func (h *Handlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwnAccount(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	record, err := h.ledger.Deposit(r.Context(), ownerID, amount)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, buildTransactionResponse(record))
}

// WithdrawHandler debits the authenticated owner's account. When card
// credentials are attached the card is validated first and the withdrawal is
// recorded against it.
func (h *Handlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwnAccount(w, r)
	if !ok {
		return
	}
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	var record *domain.Transaction
	if req.CardNumber != "" {
		card, cardErr := h.cards.ValidateCard(r.Context(), ownerID, req.CardNumber, req.SecurityCode, req.Expiry)
		if cardErr != nil {
			respondServiceError(w, cardErr)
			return
		}
		record, err = h.ledger.WithdrawWithCard(r.Context(), ownerID, amount, card.Number)
	} else {
		record, err = h.ledger.Withdraw(r.Context(), ownerID, amount)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, buildTransactionResponse(record))
}

// RequestWithdrawalCodeHandler debits the account and returns a single-use
// cardless withdrawal code.
func (h *Handlers) RequestWithdrawalCodeHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwnAccount(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	record, err := h.ledger.RequestCardlessWithdrawal(r.Context(), ownerID, amount)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, buildTransactionResponse(record))
}

// RedeemWithdrawalCodeHandler completes a pending cardless withdrawal. The
// code itself is the credential; terminals call this without a session.
func (h *Handlers) RedeemWithdrawalCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	record, err := h.ledger.RedeemCardlessWithdrawal(r.Context(), req.Code)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	response := buildTransactionResponse(record)
	response.WithdrawalCode = nil
	respondJSON(w, http.StatusOK, response)
}

// TransferHandler moves money from the authenticated owner to another owner.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := OwnerFromContext(r.Context())
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	record, err := h.ledger.Transfer(r.Context(), ownerID, req.ToOwnerID, amount)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, buildTransactionResponse(record))
}

// ListTransactionsHandler returns the authenticated owner's history.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := OwnerFromContext(r.Context())
	limit := parseQueryInt(r, "limit", 50)
	offset := parseQueryInt(r, "offset", 0)
	records, err := h.ledger.ListTransactions(r.Context(), ownerID, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	responses := make([]transactionResponse, 0, len(records))
	for i := range records {
		responses = append(responses, buildTransactionResponse(&records[i]))
	}
	respondJSON(w, http.StatusOK, responses)
}

// RegisterCardHandler stores a new ACTIVE card for the authenticated owner.
func (h *Handlers) RegisterCardHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := OwnerFromContext(r.Context())
	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	card, err := h.cards.RegisterCard(r.Context(), ownerID, req.Number, req.SecurityCode, req.Expiry)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, card)
}

// ListCardsHandler returns the authenticated owner's cards.
func (h *Handlers) ListCardsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := OwnerFromContext(r.Context())
	cards, err := h.cards.ListCards(r.Context(), ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cards)
}

// ValidateCardHandler runs the validation pipeline and reports the verdict.
func (h *Handlers) ValidateCardHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := OwnerFromContext(r.Context())
	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	card, err := h.cards.ValidateCard(r.Context(), ownerID, req.Number, req.SecurityCode, req.Expiry)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"number": card.Number, "brand": string(card.Brand), "status": string(card.Status)})
}

// BlockCardHandler moves one of the owner's cards to BLOCKED.
func (h *Handlers) BlockCardHandler(w http.ResponseWriter, r *http.Request) {
	h.setCardStatus(w, r, domain.CardBlocked)
}

// UnblockCardHandler moves one of the owner's cards back to ACTIVE.
func (h *Handlers) UnblockCardHandler(w http.ResponseWriter, r *http.Request) {
	h.setCardStatus(w, r, domain.CardActive)
}

func (h *Handlers) setCardStatus(w http.ResponseWriter, r *http.Request, status domain.CardStatus) {
	ownerID := OwnerFromContext(r.Context())
	number := chi.URLParam(r, "number")
	var err error
	if status == domain.CardBlocked {
		err = h.cards.BlockCard(r.Context(), ownerID, number)
	} else {
		err = h.cards.UnblockCard(r.Context(), ownerID, number)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"number": number, "status": string(status)})
}

// requireOwnAccount enforces that the path owner matches the authenticated
// owner for account mutations.
func (h *Handlers) requireOwnAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := chi.URLParam(r, "ownerID")
	if ownerID != OwnerFromContext(r.Context()) {
		respondError(w, http.StatusForbidden, "not your account")
		return "", false
	}
	return ownerID, true
}

func parseQueryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors onto HTTP statuses. Card failures
// carry their reason so clients can show a specific message.
func respondServiceError(w http.ResponseWriter, err error) {
	var cardErr *domain.CardError
	if errors.As(err, &cardErr) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  "invalid card",
			"reason": string(cardErr.Reason),
		})
		return
	}

	switch {
	case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrSameOwnerTransfer), errors.Is(err, app.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrCardNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrWithdrawalCodeNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateAccount),
		errors.Is(err, store.ErrDuplicateUser),
		errors.Is(err, store.ErrDuplicateCard),
		errors.Is(err, app.ErrCodeAlreadyRedeemed):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInsufficientFunds):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrTooManyAttempts):
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
