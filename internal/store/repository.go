/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the treasury-service. By
 * defining an interface, we decouple the application's business logic from
 * the specific database implementation (PostgreSQL), making the code more
 * modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/poolvault/treasury-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Group and membership reads. Membership rows are owned by the (external)
	// group management surface; this service only reads them.
	FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)
	FindMembership(ctx context.Context, userID, groupID uuid.UUID) (*domain.GroupMembership, error)
	FindGroupAccountID(ctx context.Context, groupID uuid.UUID) (uuid.UUID, error)

	// Ledger. Credit is idempotent on client ref; there is deliberately no
	// generic debit here - the only DEBIT writer is the payout-success
	// transaction inside ExecutePayout.
	Credit(ctx context.Context, params domain.CreditParams) (*domain.CreditResult, error)
	GroupBalance(ctx context.Context, groupID uuid.UUID) (int64, error)
	ListLedgerEntries(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error)

	// Withdrawal workflow.
	CreateWithdrawalRequest(ctx context.Context, w *domain.WithdrawalRequest) error
	FindWithdrawalByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, withdrawalID, approverID uuid.UUID) (*domain.ApprovalOutcome, error)
	RejectWithdrawal(ctx context.Context, withdrawalID, rejecterID uuid.UUID) (*domain.WithdrawalRequest, error)
	ListGroupWithdrawals(ctx context.Context, groupID uuid.UUID, opts domain.WithdrawalListOptions) ([]domain.WithdrawalRequest, error)
	ListApprovals(ctx context.Context, withdrawalID uuid.UUID) ([]domain.Approval, error)
	ListPayouts(ctx context.Context, withdrawalID uuid.UUID) ([]domain.Payout, error)

	// Payout execution. The withdrawal row stays locked FOR UPDATE for the
	// whole call; attempt is invoked at most once, only when the withdrawal
	// is APPROVED, the executor holds an administering role, and no SUCCESS
	// payout exists yet.
	ExecutePayout(ctx context.Context, withdrawalID, executorID uuid.UUID, attempt ProviderAttemptFunc) (*domain.PayoutResult, error)

	// Recovery log. Best effort: failures are the caller's to swallow.
	RecordPayoutRecovery(ctx context.Context, record *domain.PayoutRecoveryRecord) error
	CountUnresolvedRecoveries(ctx context.Context) (int64, int64, error)
	CountStaleApprovedWithdrawals(ctx context.Context, olderThanSeconds int) (int64, error)

	// Transaction PIN.
	CreateTransactionPIN(ctx context.Context, userID uuid.UUID, pinHash, recoveryTokenHash string) error
	GetTransactionPINCredential(ctx context.Context, userID uuid.UUID) (*domain.TransactionPINCredential, error)
	ResetTransactionPIN(ctx context.Context, userID uuid.UUID, pinHash, recoveryTokenHash string) error
	RecordFailedPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts, lockoutSeconds int) (*domain.TransactionPINCredential, error)
	ResetPINFailureState(ctx context.Context, userID uuid.UUID) error
}

// ProviderAttemptFunc invokes the external payout provider for a locked,
// APPROVED withdrawal and reports the attempt outcome. A non-nil error means
// the provider could not be reached at all; a FAILED ProviderAttempt means
// the provider answered and declined.
type ProviderAttemptFunc func(w *domain.WithdrawalRequest) (*domain.ProviderAttempt, error)
