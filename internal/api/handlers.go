/**
 * @description
 * This file contains the HTTP handlers for the agentpay-service. Handlers parse
 * requests, call the application services, and map their results onto JSON responses.
 *
 * @dependencies
 * - internal/app: account, payment and query services.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/agentpay-service/internal/app"
	"github.com/transfa/agentpay-service/internal/domain"
)

const maxRequestBodyBytes = 1 << 20

// Handlers holds the application services the handlers use.
type Handlers struct {
	accounts *app.AccountService
	payments *app.PaymentService
	queries  *app.QueryService
}

func NewHandlers(accounts *app.AccountService, payments *app.PaymentService, queries *app.QueryService) *Handlers {
	return &Handlers{accounts: accounts, payments: payments, queries: queries}
}

// RegisterHandler creates a client account and returns it with a session token.
func (h *Handlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.accounts.Register(r.Context(), req, deviceInfo(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// LoginHandler verifies credentials and starts a new session, replacing any other.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.accounts.Login(r.Context(), req, deviceInfo(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	log.Printf("level=info component=api endpoint=login outcome=success account_id=%s", result.Account.ID)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	if err := h.accounts.Logout(r.Context(), principal, getSessionToken(r.Context())); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	account, err := h.accounts.GetProfile(r.Context(), principal)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handlers) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	var req domain.UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	account, err := h.accounts.UpdateProfile(r.Context(), principal, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// DeleteProfileHandler deletes the caller's own account.
func (h *Handlers) DeleteProfileHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	if err := h.accounts.DeleteAccount(r.Context(), principal, principal.AccountID); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	accounts, err := h.accounts.ListAccounts(r.Context(), principal)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// DeleteUserHandler lets an admin delete any account.
func (h *Handlers) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, codeNotFound, app.ErrAccountNotFound.Error())
		return
	}
	if err := h.accounts.DeleteAccount(r.Context(), principal, targetID); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListAgentsHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	agents, err := h.accounts.ListAgents(r.Context(), principal)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Handlers) CreateAgentHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	var req domain.CreateAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	agent, err := h.accounts.CreateAgent(r.Context(), principal, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// SubmitPaymentHandler charges the caller and credits the agent.
func (h *Handlers) SubmitPaymentHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	var req domain.SubmitPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	payment, err := h.payments.SubmitPayment(r.Context(), principal, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=submit_payment outcome=failed payer_id=%s err=%v", principal.AccountID, err)
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *Handlers) ListAllPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	payments, err := h.queries.ListAllPayments(r.Context(), principal, listOptions(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *Handlers) ListAgentPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	payments, err := h.queries.ListPaymentsReceivedBy(r.Context(), principal, listOptions(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *Handlers) ListUserPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	payments, err := h.queries.ListPaymentsMadeBy(r.Context(), principal, listOptions(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *Handlers) PaymentSummaryHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := GetPrincipal(r.Context())
	summary, err := h.queries.PaymentSummary(r.Context(), principal)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_json path=%s err=%v", r.URL.Path, err)
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Invalid request body")
		return false
	}
	return true
}

// deviceInfo prefers an explicit X-Device-Info header over the User-Agent.
func deviceInfo(r *http.Request) *string {
	info := strings.TrimSpace(r.Header.Get("X-Device-Info"))
	if info == "" {
		info = strings.TrimSpace(r.UserAgent())
	}
	if info == "" {
		return nil
	}
	return &info
}

func listOptions(r *http.Request) domain.PaymentListOptions {
	opts := domain.PaymentListOptions{}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		opts.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		opts.Offset = offset
	}
	return opts
}
