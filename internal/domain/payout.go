package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payout statuses. At most one SUCCESS row may exist per withdrawal; that
// partial uniqueness is the idempotency anchor for execution retries.
const (
	PayoutStatusSuccess = "SUCCESS"
	PayoutStatusFailed  = "FAILED"
)

// Payout maps to the `payout` table. The beneficiary snapshot and provider
// payload are stored sealed.
type Payout struct {
	ID              uuid.UUID   `json:"id"`
	WithdrawalID    uuid.UUID   `json:"withdrawal_id"`
	Amount          int64       `json:"amount"` // in kobo
	Beneficiary     Beneficiary `json:"beneficiary"`
	Provider        string      `json:"provider"`
	Status          string      `json:"status"`
	ProviderPayload string      `json:"provider_payload,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// PayoutResult is what Execute returns to callers. AlreadySettled is true
// when a concurrent or earlier execution already paid the withdrawal and this
// call observed the prior outcome instead of re-invoking the provider.
type PayoutResult struct {
	WithdrawalID     uuid.UUID `json:"withdrawal_id"`
	WithdrawalStatus string    `json:"withdrawal_status"`
	Payout           *Payout   `json:"payout,omitempty"`
	AlreadySettled   bool      `json:"already_settled"`
}

// ProviderAttempt is the outcome of one call against the external payout
// provider, as seen by the executor.
type ProviderAttempt struct {
	Status          string
	Provider        string
	ProviderPayload string
}

// PayoutRecoveryRecord maps to the `payout_recovery` table. Audit-only: the
// workflow never reads it back.
type PayoutRecoveryRecord struct {
	ID             uuid.UUID `json:"id"`
	WithdrawalID   uuid.UUID `json:"withdrawal_id"`
	AttemptPayload string    `json:"attempt_payload"`
	ErrorDetail    string    `json:"error_detail"`
	CreatedAt      time.Time `json:"created_at"`
}
