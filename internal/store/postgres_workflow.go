/**
 * @description
 * Transactional state transitions for the withdrawal approval workflow.
 * Both transitions lock the withdrawal row FOR UPDATE so concurrent
 * approvals and rejections serialize, and both re-check the PENDING status
 * under that lock before mutating anything.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: Transaction management and row locking.
 * - internal/domain: Workflow models.
 */

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/poolvault/treasury-service/internal/domain"
)

type lockedWithdrawal struct {
	ID                uuid.UUID
	GroupID           uuid.UUID
	RequestedBy       uuid.UUID
	Status            string
	ApprovalsRequired int
}

func lockWithdrawalForUpdate(ctx context.Context, tx pgx.Tx, withdrawalID uuid.UUID) (*lockedWithdrawal, error) {
	var w lockedWithdrawal
	query := `
		SELECT id, group_id, requested_by, status, approvals_required
		FROM withdrawal_request
		WHERE id = $1
		FOR UPDATE
	`
	err := tx.QueryRow(ctx, query, withdrawalID).Scan(&w.ID, &w.GroupID, &w.RequestedBy, &w.Status, &w.ApprovalsRequired)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &w, nil
}

// ApproveWithdrawal records one approval for a PENDING withdrawal and, when
// the approval count reaches the request's threshold, promotes it to
// APPROVED in the same transaction. Duplicate approvals by the same user and
// self-approval by the requester are rejected.
func (r *PostgresRepository) ApproveWithdrawal(ctx context.Context, withdrawalID, approverID uuid.UUID) (*domain.ApprovalOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := lockWithdrawalForUpdate(ctx, tx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status != domain.WithdrawalStatusPending {
		return nil, ErrWithdrawalNotPending
	}
	if w.RequestedBy == approverID {
		return nil, ErrSelfApproval
	}
	if err := membershipRoleInTx(ctx, tx, approverID, w.GroupID); err != nil {
		return nil, err
	}

	insert := `
		INSERT INTO approval (id, withdrawal_id, approver_user_id)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.Exec(ctx, insert, uuid.New(), withdrawalID, approverID); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateApproval
		}
		return nil, err
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM approval WHERE withdrawal_id = $1`, withdrawalID).Scan(&count); err != nil {
		return nil, err
	}

	outcome := &domain.ApprovalOutcome{
		WithdrawalID:      withdrawalID,
		CurrentApprovals:  count,
		ApprovalsRequired: w.ApprovalsRequired,
		WithdrawalStatus:  domain.WithdrawalStatusPending,
	}
	if count >= w.ApprovalsRequired {
		promote := `
			UPDATE withdrawal_request SET status = $1
			WHERE id = $2 AND status = $3
		`
		result, err := tx.Exec(ctx, promote, domain.WithdrawalStatusApproved, withdrawalID, domain.WithdrawalStatusPending)
		if err != nil {
			return nil, err
		}
		if result.RowsAffected() == 0 {
			return nil, ErrWithdrawalNotPending
		}
		outcome.WithdrawalStatus = domain.WithdrawalStatusApproved
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}
	return outcome, nil
}

// RejectWithdrawal moves a PENDING withdrawal to DECLINED. A single
// rejection is terminal regardless of approvals already gathered.
func (r *PostgresRepository) RejectWithdrawal(ctx context.Context, withdrawalID, rejecterID uuid.UUID) (*domain.WithdrawalRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := lockWithdrawalForUpdate(ctx, tx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status != domain.WithdrawalStatusPending {
		return nil, ErrWithdrawalNotPending
	}
	if w.RequestedBy == rejecterID {
		return nil, ErrSelfApproval
	}
	if err := membershipRoleInTx(ctx, tx, rejecterID, w.GroupID); err != nil {
		return nil, err
	}

	decline := `
		UPDATE withdrawal_request SET status = $1
		WHERE id = $2 AND status = $3
	`
	result, err := tx.Exec(ctx, decline, domain.WithdrawalStatusDeclined, withdrawalID, domain.WithdrawalStatusPending)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrWithdrawalNotPending
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit rejection: %w", err)
	}
	return r.FindWithdrawalByID(ctx, withdrawalID)
}
