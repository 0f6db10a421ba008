package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poolvault/treasury-service/internal/app"
	"github.com/poolvault/treasury-service/internal/store"
)

func TestWriteServiceError_StatusMapping(t *testing.T) {
	h := &TreasuryHandlers{}

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid amount", app.ErrInvalidAmount, http.StatusBadRequest},
		{"invalid beneficiary", app.ErrInvalidBeneficiary, http.StatusBadRequest},
		{"not a member", store.ErrNotGroupMember, http.StatusForbidden},
		{"role not authorized", store.ErrNotAuthorizedRole, http.StatusForbidden},
		{"self approval", store.ErrSelfApproval, http.StatusForbidden},
		{"group missing", store.ErrGroupNotFound, http.StatusNotFound},
		{"withdrawal missing", store.ErrWithdrawalNotFound, http.StatusNotFound},
		{"not pending", store.ErrWithdrawalNotPending, http.StatusConflict},
		{"not approved", store.ErrWithdrawalNotApproved, http.StatusConflict},
		{"duplicate approval", store.ErrDuplicateApproval, http.StatusConflict},
		{"insufficient balance", store.ErrInsufficientBalance, http.StatusConflict},
		{"pin already set", store.ErrTransactionPINExists, http.StatusConflict},
		{"pin not set", store.ErrTransactionPINNotSet, http.StatusPreconditionFailed},
		{"pin locked", app.ErrPINLocked, http.StatusLocked},
		{"pin mismatch", app.ErrPINMismatch, http.StatusUnauthorized},
		{"recovery token mismatch", app.ErrRecoveryTokenMismatch, http.StatusUnauthorized},
		{"integrity violation", store.ErrIntegrityViolation, http.StatusInternalServerError},
		{"provider failure", store.ErrProviderFailure, http.StatusBadGateway},
		{"wrapped provider failure", fmt.Errorf("%w: connection reset", store.ErrProviderFailure), http.StatusBadGateway},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, tt.err)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestWriteServiceError_RateLimitedSetsRetryAfter(t *testing.T) {
	h := &TreasuryHandlers{}
	rec := httptest.NewRecorder()

	h.writeServiceError(rec, &app.RateLimitedError{Scope: "payout_execute", RetryAfterSeconds: 42})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Fatalf("expected Retry-After 42, got %q", got)
	}
}

func TestParseOptionalInt(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback int
		want     int
		wantErr  bool
	}{
		{"blank uses fallback", "", 10, 10, false},
		{"whitespace uses fallback", "  ", 5, 5, false},
		{"valid value", "25", 10, 25, false},
		{"zero is allowed", "0", 10, 0, false},
		{"negative rejected", "-1", 10, 0, true},
		{"non-numeric rejected", "ten", 10, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptionalInt(tt.raw, tt.fallback)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
