/**
 * @description
 * This file contains the HTTP handlers for the wallet-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/sprp/wallet-service/internal/app"
	"github.com/sprp/wallet-service/internal/domain"
	"github.com/sprp/wallet-service/internal/store"
)

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service *app.Service
}

// NewWalletHandlers creates a new instance of WalletHandlers.
func NewWalletHandlers(service *app.Service) *WalletHandlers {
	return &WalletHandlers{service: service}
}

// sessionResponse is returned by the account creation and login endpoints.
type sessionResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// transactionResponse carries the recorded transaction along with the user's
// post-commit state so clients can refresh balances without a second call.
type transactionResponse struct {
	User        *domain.User        `json:"user"`
	Transaction *domain.Transaction `json:"transaction"`
}

type loanResponse struct {
	User *domain.User `json:"user"`
	Loan *domain.Loan `json:"loan"`
}

type policyResponse struct {
	User   *domain.User            `json:"user"`
	Policy *domain.InsurancePolicy `json:"policy"`
}

type loanRequest struct {
	Amount       int64 `json:"amount"`
	DurationDays int   `json:"duration_days"`
}

type xpRequest struct {
	Points int64 `json:"points"`
}

// sessionUser extracts the authenticated user's ID placed in the context by
// the auth middleware.
func (h *WalletHandlers) sessionUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := SessionUserID(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	return userID, true
}

// CreateAccountHandler handles new account registration.
func (h *WalletHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.AccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_account outcome=reject reason=invalid_json err=%v", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	user, token, err := h.service.CreateAccount(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrMissingAccountFields) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, store.ErrPhoneAlreadyInUse) {
			writeError(w, http.StatusConflict, "An account with this phone number already exists")
			return
		}
		log.Printf("level=error component=api endpoint=create_account outcome=failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "Unable to create account")
		return
	}

	log.Printf("level=info component=api endpoint=create_account outcome=created user_id=%s", user.ID)
	writeJSON(w, http.StatusCreated, sessionResponse{User: user, Token: token})
}

// LoginHandler handles phone and PIN authentication.
func (h *WalletHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=login outcome=reject reason=invalid_json err=%v", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	user, token, err := h.service.Login(r.Context(), req.Phone, req.PIN)
	if err != nil {
		if errors.Is(err, app.ErrLoginRateLimited) {
			writeError(w, http.StatusTooManyRequests, "Too many login attempts. Please wait a minute and try again.")
			return
		}
		if errors.Is(err, store.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid phone number or PIN")
			return
		}
		log.Printf("level=error component=api endpoint=login outcome=failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "Unable to log in")
		return
	}

	log.Printf("level=info component=api endpoint=login outcome=success user_id=%s", user.ID)
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Token: token})
}

// AccountExistsHandler reports whether any account has been registered yet.
// The mobile client uses this to choose between the login and signup flows.
func (h *WalletHandlers) AccountExistsHandler(w http.ResponseWriter, r *http.Request) {
	exists, err := h.service.HasAnyAccount(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=account_exists outcome=failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "Unable to check accounts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// MeHandler returns the authenticated user's full profile and wallets.
func (h *WalletHandlers) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("level=error component=api endpoint=me outcome=failed user_id=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "Unable to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ListTransactionsHandler returns the user's transaction history, newest first.
func (h *WalletHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	transactions, err := h.service.ListTransactions(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_transactions outcome=failed user_id=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "Unable to load transactions")
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

// RecordTransactionHandler records a new ledger transaction for the user.
func (h *WalletHandlers) RecordTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=record_transaction outcome=reject reason=invalid_json err=%v", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	user, tx, err := h.service.RecordTransaction(r.Context(), userID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=record_transaction outcome=failed user_id=%s err=%v", userID, err)
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrInvalidTransactionType):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			writeError(w, http.StatusInternalServerError, "Unable to record transaction")
		}
		return
	}

	log.Printf("level=info component=api endpoint=record_transaction outcome=recorded user_id=%s transaction_id=%s type=%s amount=%d", userID, tx.ID, tx.Type, tx.Amount)
	writeJSON(w, http.StatusCreated, transactionResponse{User: user, Transaction: tx})
}

// ListLoansHandler returns the user's loans.
func (h *WalletHandlers) ListLoansHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	loans, err := h.service.ListLoans(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_loans outcome=failed user_id=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "Unable to load loans")
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

// ApplyLoanHandler disburses a new loan into the user's primary wallet.
func (h *WalletHandlers) ApplyLoanHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=apply_loan outcome=reject reason=invalid_json err=%v", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	user, loan, err := h.service.ApplyLoan(r.Context(), userID, req.Amount, req.DurationDays)
	if err != nil {
		log.Printf("level=warn component=api endpoint=apply_loan outcome=failed user_id=%s err=%v", userID, err)
		switch {
		case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrInvalidDuration):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			writeError(w, http.StatusInternalServerError, "Unable to process loan")
		}
		return
	}

	log.Printf("level=info component=api endpoint=apply_loan outcome=disbursed user_id=%s loan_id=%s amount=%d", userID, loan.ID, loan.Amount)
	writeJSON(w, http.StatusCreated, loanResponse{User: user, Loan: loan})
}

// ListPoliciesHandler returns the user's insurance policies.
func (h *WalletHandlers) ListPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	policies, err := h.service.ListPolicies(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_policies outcome=failed user_id=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "Unable to load policies")
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

// PurchaseInsuranceHandler buys a new insurance policy, debiting the premium.
func (h *WalletHandlers) PurchaseInsuranceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	var req domain.PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=purchase_insurance outcome=reject reason=invalid_json err=%v", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	user, policy, err := h.service.PurchaseInsurance(r.Context(), userID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=purchase_insurance outcome=failed user_id=%s err=%v", userID, err)
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrInvalidInsuranceType):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			writeError(w, http.StatusInternalServerError, "Unable to purchase policy")
		}
		return
	}

	log.Printf("level=info component=api endpoint=purchase_insurance outcome=purchased user_id=%s policy_id=%s type=%s premium=%d", userID, policy.ID, policy.Type, policy.Premium)
	writeJSON(w, http.StatusCreated, policyResponse{User: user, Policy: policy})
}

// MerchantStatsHandler returns the user's merchant dashboard stats.
func (h *WalletHandlers) MerchantStatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	stats, err := h.service.MerchantStats(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("level=error component=api endpoint=merchant_stats outcome=failed user_id=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "Unable to load merchant stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// UpdateSecurityHandler applies a partial update to the user's security settings.
func (h *WalletHandlers) UpdateSecurityHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	var req domain.SecurityUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=update_security outcome=reject reason=invalid_json err=%v", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	user, err := h.service.UpdateSecuritySettings(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("level=error component=api endpoint=update_security outcome=failed user_id=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "Unable to update security settings")
		return
	}

	log.Printf("level=info component=api endpoint=update_security outcome=updated user_id=%s", userID)
	writeJSON(w, http.StatusOK, user)
}

// AwardXPHandler grants experience points to the user.
func (h *WalletHandlers) AwardXPHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}

	var req xpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=award_xp outcome=reject reason=invalid_json err=%v", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	user, err := h.service.AwardExperience(r.Context(), userID, req.Points)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "User not found")
		default:
			log.Printf("level=error component=api endpoint=award_xp outcome=failed user_id=%s err=%v", userID, err)
			writeError(w, http.StatusInternalServerError, "Unable to award experience")
		}
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode json response\" err=%v", err)
	}
}

// writeError writes a JSON error payload with the given status code. Every
// error response on the API surface goes through here, including the auth
// middleware's, so clients always get the same {"error": ...} shape.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
