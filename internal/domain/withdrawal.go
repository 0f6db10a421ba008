/**
 * @description
 * This file defines the core domain models for the treasury-service. These
 * structs represent the main entities and data transfer objects (DTOs) used
 * throughout the service's business logic, database interactions, and API
 * layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest
 *   currency unit (kobo), which avoids floating-point inaccuracies with
 *   financial data.
 * - WithdrawalRequest rows are never deleted; the workflow and the payout
 *   executor are the only writers permitted to change their status.
 */

package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Withdrawal statuses. PENDING may move to APPROVED or DECLINED; APPROVED may
// move to PAID. DECLINED and PAID are terminal.
const (
	WithdrawalStatusPending  = "PENDING"
	WithdrawalStatusApproved = "APPROVED"
	WithdrawalStatusDeclined = "DECLINED"
	WithdrawalStatusPaid     = "PAID"
)

// Beneficiary is the external bank account a withdrawal pays out to. It is
// stored sealed (field-encrypted) on both the withdrawal and the payout row.
type Beneficiary struct {
	Name          string `json:"name"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
}

var accountNumberPattern = regexp.MustCompile(`^[0-9]{10}$`)

// Validate reports whether the beneficiary carries the fields the payout
// provider requires: a name, a bank name and a 10-digit NUBAN account number.
func (b Beneficiary) Validate() bool {
	if strings.TrimSpace(b.Name) == "" || strings.TrimSpace(b.BankName) == "" {
		return false
	}
	return accountNumberPattern.MatchString(b.AccountNumber)
}

// WithdrawalRequest maps to the `withdrawal_request` table. ApprovalsRequired
// is copied from the group's policy at request time so a later policy change
// never moves the goalposts for an in-flight request.
type WithdrawalRequest struct {
	ID                uuid.UUID   `json:"id"`
	GroupID           uuid.UUID   `json:"group_id"`
	Amount            int64       `json:"amount"` // in kobo
	Beneficiary       Beneficiary `json:"beneficiary"`
	Reason            string      `json:"reason,omitempty"`
	RequestedBy       uuid.UUID   `json:"requested_by"`
	Status            string      `json:"status"`
	ApprovalsRequired int         `json:"approvals_required"`
	CreatedAt         time.Time   `json:"created_at"`
	ExecutedAt        *time.Time  `json:"executed_at,omitempty"`
}

// Terminal reports whether the withdrawal can no longer change state.
func (w *WithdrawalRequest) Terminal() bool {
	return w.Status == WithdrawalStatusDeclined || w.Status == WithdrawalStatusPaid
}

// Approval maps to the `approval` table; (WithdrawalID, ApproverUserID) is
// unique, which is what makes a duplicate approval a constraint violation
// rather than something detected by a racy prior read.
type Approval struct {
	ID             uuid.UUID `json:"id"`
	WithdrawalID   uuid.UUID `json:"withdrawal_id"`
	ApproverUserID uuid.UUID `json:"approver_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateWithdrawalRequest is the DTO for incoming withdrawal-request API calls.
type CreateWithdrawalRequest struct {
	Amount      int64       `json:"amount"` // in kobo
	Beneficiary Beneficiary `json:"beneficiary"`
	Reason      string      `json:"reason,omitempty"`
}

// ApprovalOutcome summarizes the state of a withdrawal after an approval has
// been recorded.
type ApprovalOutcome struct {
	WithdrawalID      uuid.UUID `json:"withdrawal_id"`
	CurrentApprovals  int       `json:"current_approvals"`
	ApprovalsRequired int       `json:"approvals_required"`
	WithdrawalStatus  string    `json:"withdrawal_status"`
}

// WithdrawalDetail is the read model for the withdrawal-detail endpoint.
type WithdrawalDetail struct {
	Withdrawal WithdrawalRequest `json:"withdrawal"`
	Approvals  []Approval        `json:"approvals"`
	Payouts    []Payout          `json:"payouts,omitempty"`
}

// WithdrawalListOptions controls filtering and pagination for group
// withdrawal listings.
type WithdrawalListOptions struct {
	Status   string
	Page     int
	PageSize int
}
