/**
 * @description
 * This file contains the HTTP handlers for the treasury-service's API endpoints.
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
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/poolvault/treasury-service/internal/app"
	"github.com/poolvault/treasury-service/internal/domain"
	"github.com/poolvault/treasury-service/internal/store"
)

// TreasuryHandlers holds the application services that handlers will use.
type TreasuryHandlers struct {
	service  *app.Service
	executor *app.Executor
}

// NewTreasuryHandlers creates a new instance of TreasuryHandlers.
func NewTreasuryHandlers(service *app.Service, executor *app.Executor) *TreasuryHandlers {
	return &TreasuryHandlers{service: service, executor: executor}
}

func (h *TreasuryHandlers) callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetAuthenticatedUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *TreasuryHandlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+param+" format")
		return uuid.Nil, false
	}
	return id, true
}

// RequestWithdrawalHandler handles requests to open a new withdrawal against
// a group's pooled balance.
func (h *TreasuryHandlers) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	var req domain.CreateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=request_withdrawal outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	withdrawal, err := h.service.RequestWithdrawal(r.Context(), userID, groupID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=request_withdrawal outcome=failed user_id=%s group_id=%s err=%v", userID, groupID, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=request_withdrawal outcome=accepted withdrawal_id=%s group_id=%s amount=%d", withdrawal.ID, groupID, withdrawal.Amount)
	h.writeJSON(w, http.StatusCreated, withdrawal)
}

// ApproveWithdrawalHandler records one approval on a pending withdrawal.
func (h *TreasuryHandlers) ApproveWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	withdrawalID, ok := h.pathUUID(w, r, "withdrawalID")
	if !ok {
		return
	}

	outcome, err := h.service.ApproveWithdrawal(r.Context(), userID, withdrawalID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=approve_withdrawal outcome=failed withdrawal_id=%s approver_id=%s err=%v", withdrawalID, userID, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=approve_withdrawal outcome=accepted withdrawal_id=%s approvals=%d/%d status=%s", withdrawalID, outcome.CurrentApprovals, outcome.ApprovalsRequired, outcome.WithdrawalStatus)
	h.writeJSON(w, http.StatusOK, outcome)
}

// RejectWithdrawalHandler declines a pending withdrawal.
func (h *TreasuryHandlers) RejectWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	withdrawalID, ok := h.pathUUID(w, r, "withdrawalID")
	if !ok {
		return
	}

	withdrawal, err := h.service.RejectWithdrawal(r.Context(), userID, withdrawalID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=reject_withdrawal outcome=failed withdrawal_id=%s rejecter_id=%s err=%v", withdrawalID, userID, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=reject_withdrawal outcome=accepted withdrawal_id=%s", withdrawalID)
	h.writeJSON(w, http.StatusOK, withdrawal)
}

// ExecuteWithdrawalHandler pays out an approved withdrawal. The caller must
// supply their transaction PIN.
func (h *TreasuryHandlers) ExecuteWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	withdrawalID, ok := h.pathUUID(w, r, "withdrawalID")
	if !ok {
		return
	}

	var req struct {
		TransactionPIN string `json:"transaction_pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.executor.ExecuteWithdrawal(r.Context(), userID, withdrawalID, req.TransactionPIN)
	if err != nil {
		log.Printf("level=warn component=api endpoint=execute_withdrawal outcome=failed withdrawal_id=%s executor_id=%s err=%v", withdrawalID, userID, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=execute_withdrawal outcome=accepted withdrawal_id=%s already_settled=%v", withdrawalID, result.AlreadySettled)
	h.writeJSON(w, http.StatusOK, result)
}

// GetWithdrawalHandler returns one withdrawal with its approvals and payouts.
func (h *TreasuryHandlers) GetWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	withdrawalID, ok := h.pathUUID(w, r, "withdrawalID")
	if !ok {
		return
	}

	detail, err := h.service.GetWithdrawalDetail(r.Context(), userID, withdrawalID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=get_withdrawal outcome=failed withdrawal_id=%s user_id=%s err=%v", withdrawalID, userID, err)
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

// ListGroupWithdrawalsHandler returns a group's withdrawals, newest first.
func (h *TreasuryHandlers) ListGroupWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	status := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", domain.WithdrawalStatusPending, domain.WithdrawalStatusApproved,
		domain.WithdrawalStatusDeclined, domain.WithdrawalStatusPaid:
	default:
		h.writeError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}

	page, err := parseOptionalInt(r.URL.Query().Get("page"), 1)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid page")
		return
	}
	pageSize, err := parseOptionalInt(r.URL.Query().Get("page_size"), 10)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid page_size")
		return
	}

	withdrawals, err := h.service.ListGroupWithdrawals(r.Context(), userID, groupID, domain.WithdrawalListOptions{
		Status:   status,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		log.Printf("level=warn component=api endpoint=list_withdrawals outcome=failed group_id=%s user_id=%s err=%v", groupID, userID, err)
		h.writeServiceError(w, err)
		return
	}
	if withdrawals == nil {
		withdrawals = []domain.WithdrawalRequest{}
	}
	h.writeJSON(w, http.StatusOK, withdrawals)
}

// GetGroupBalanceHandler returns the ledger-derived pooled balance.
func (h *TreasuryHandlers) GetGroupBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	balance, err := h.service.GetGroupBalance(r.Context(), userID, groupID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=get_balance outcome=failed group_id=%s user_id=%s err=%v", groupID, userID, err)
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance_kobo": balance})
}

// ListGroupLedgerHandler returns a page of the group's ledger entries.
func (h *TreasuryHandlers) ListGroupLedgerHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}

	page, err := parseOptionalInt(r.URL.Query().Get("page"), 1)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid page")
		return
	}
	pageSize, err := parseOptionalInt(r.URL.Query().Get("page_size"), 10)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid page_size")
		return
	}

	entries, err := h.service.ListGroupLedger(r.Context(), userID, groupID, page, pageSize)
	if err != nil {
		log.Printf("level=warn component=api endpoint=list_ledger outcome=failed group_id=%s user_id=%s err=%v", groupID, userID, err)
		h.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// CreateTransactionPINHandler sets the caller's transaction PIN.
func (h *TreasuryHandlers) CreateTransactionPINHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	recoveryToken, err := h.service.SetTransactionPIN(r.Context(), userID, req.PIN)
	if err != nil {
		if errors.Is(err, app.ErrPINInvalidFormat) {
			h.writeError(w, http.StatusBadRequest, "Transaction PIN must be exactly 4 digits")
			return
		}
		if errors.Is(err, store.ErrTransactionPINExists) {
			h.writeError(w, http.StatusConflict, "Transaction PIN is already set")
			return
		}
		log.Printf("level=error component=api endpoint=create_pin outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("level=info component=api endpoint=create_pin outcome=accepted user_id=%s", userID)
	h.writeJSON(w, http.StatusCreated, map[string]string{
		"message":        "Transaction PIN created",
		"recovery_token": recoveryToken,
	})
}

// ResetTransactionPINHandler exchanges the caller's recovery token for a new
// transaction PIN and a fresh recovery token.
func (h *TreasuryHandlers) ResetTransactionPINHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		RecoveryToken string `json:"recovery_token"`
		NewPIN        string `json:"new_pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	recoveryToken, err := h.service.ResetTransactionPIN(r.Context(), userID, req.RecoveryToken, req.NewPIN)
	if err != nil {
		log.Printf("level=warn component=api endpoint=reset_pin outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=reset_pin outcome=accepted user_id=%s", userID)
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message":        "Transaction PIN reset",
		"recovery_token": recoveryToken,
	})
}

// PaymentWebhookHandler ingests confirmed inbound payments from the payment
// gateway and books them as ledger credits. Protected by the internal API
// key, not user authentication.
func (h *TreasuryHandlers) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GroupID   uuid.UUID `json:"group_id"`
		Amount    int64     `json:"amount"`
		Source    string    `json:"source"`
		ClientRef *string   `json:"client_ref,omitempty"`
		Simulated bool      `json:"simulated"`
		Channel   string    `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ClientRef != nil && strings.TrimSpace(*req.ClientRef) == "" {
		req.ClientRef = nil
	}

	result, err := h.service.RecordInboundCredit(r.Context(), domain.CreditParams{
		GroupID:   req.GroupID,
		Amount:    req.Amount,
		Source:    req.Source,
		ClientRef: req.ClientRef,
		Simulated: req.Simulated,
		Channel:   strings.ToUpper(strings.TrimSpace(req.Channel)),
	})
	if err != nil {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=failed group_id=%s err=%v", req.GroupID, err)
		h.writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, map[string]interface{}{
		"entry":     result.Entry,
		"duplicate": result.Duplicate,
	})
}

// writeServiceError maps service and store errors onto HTTP statuses.
func (h *TreasuryHandlers) writeServiceError(w http.ResponseWriter, err error) {
	var limited *app.RateLimitedError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests. Please wait and try again.")
		return
	}

	switch {
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidBeneficiary),
		errors.Is(err, app.ErrReasonTooLong),
		errors.Is(err, app.ErrInvalidChannel),
		errors.Is(err, app.ErrPINInvalidFormat):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotGroupMember),
		errors.Is(err, store.ErrNotAuthorizedRole),
		errors.Is(err, store.ErrSelfApproval):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrGroupNotFound),
		errors.Is(err, store.ErrGroupAccountNotFound),
		errors.Is(err, store.ErrWithdrawalNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrWithdrawalNotPending),
		errors.Is(err, store.ErrWithdrawalNotApproved),
		errors.Is(err, store.ErrDuplicateApproval),
		errors.Is(err, store.ErrInsufficientBalance),
		errors.Is(err, store.ErrTransactionPINExists):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrTransactionPINNotSet):
		h.writeError(w, http.StatusPreconditionFailed, "Transaction PIN is not set. Please create your PIN first.")
	case errors.Is(err, app.ErrPINLocked):
		h.writeError(w, http.StatusLocked, "Too many incorrect PIN attempts. Please wait and try again.")
	case errors.Is(err, app.ErrPINMismatch):
		h.writeError(w, http.StatusUnauthorized, "Invalid transaction PIN.")
	case errors.Is(err, app.ErrRecoveryTokenMismatch):
		h.writeError(w, http.StatusUnauthorized, "Invalid recovery token.")
	case errors.Is(err, store.ErrIntegrityViolation):
		h.writeError(w, http.StatusInternalServerError, "Ledger integrity violation")
	case errors.Is(err, store.ErrProviderFailure):
		h.writeError(w, http.StatusBadGateway, "Payout provider error. The withdrawal was not settled.")
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func parseOptionalInt(raw string, fallback int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 0 {
		return 0, errors.New("invalid integer")
	}
	return value, nil
}

// writeJSON is a helper for writing JSON responses.
func (h *TreasuryHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TreasuryHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
