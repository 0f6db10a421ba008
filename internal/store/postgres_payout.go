/**
 * @description
 * Payout execution and the payout recovery log. ExecutePayout runs the full
 * settlement transaction: lock the withdrawal and its group, debit the
 * ledger with a balance guard, call the provider while the locks are held,
 * then record the payout row and promote the withdrawal to PAID. A failed
 * provider attempt rolls the whole transaction back so no debit survives
 * without a matching SUCCESS payout.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: Transactions and row locking.
 * - internal/domain: Payout and recovery models.
 */

package store

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/poolvault/treasury-service/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so payout reads and
// writes can run inside or outside the settlement transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepository) lockWithdrawalFull(ctx context.Context, tx pgx.Tx, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error) {
	row := tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_request WHERE id = $1 FOR UPDATE`, withdrawalID)
	w, err := r.scanWithdrawal(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return w, nil
}

func (r *PostgresRepository) findSuccessPayout(ctx context.Context, q querier, withdrawalID uuid.UUID) (*domain.Payout, error) {
	row := q.QueryRow(ctx, `
		SELECT id, withdrawal_id, amount, beneficiary, provider, status, provider_payload, created_at
		FROM payout
		WHERE withdrawal_id = $1 AND status = $2
	`, withdrawalID, domain.PayoutStatusSuccess)
	p, err := r.scanPayout(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepository) insertPayout(ctx context.Context, q querier, p *domain.Payout) error {
	sealedBeneficiary, err := r.codec.SealJSON(p.Beneficiary)
	if err != nil {
		return fmt.Errorf("seal payout beneficiary: %w", err)
	}
	var sealedPayload *string
	if p.ProviderPayload != "" {
		s, err := r.codec.Seal(p.ProviderPayload)
		if err != nil {
			return fmt.Errorf("seal provider payload: %w", err)
		}
		sealedPayload = &s
	}
	_, err = q.Exec(ctx, `
		INSERT INTO payout (id, withdrawal_id, amount, beneficiary, provider, status, provider_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.WithdrawalID, p.Amount, sealedBeneficiary, p.Provider, p.Status, sealedPayload)
	return err
}

// ExecutePayout settles an APPROVED withdrawal. The sequence inside one
// transaction:
//
//  1. Lock the withdrawal row. PAID withdrawals short-circuit to the prior
//     SUCCESS payout; anything else that is not APPROVED is refused.
//  2. Verify the executor administers the group, then lock the group row so
//     concurrent debits against the same pool serialize.
//  3. Insert the DEBIT guarded by the ledger balance; zero rows affected
//     means the pool cannot cover the amount.
//  4. Invoke the provider. A decline or transport error rolls everything
//     back, and the FAILED attempt is recorded outside the transaction.
//  5. Insert the SUCCESS payout and flip APPROVED to PAID. The partial
//     unique index on SUCCESS payouts and the conditional update are both
//     re-checked so a racing executor cannot double-settle.
func (r *PostgresRepository) ExecutePayout(ctx context.Context, withdrawalID, executorID uuid.UUID, attempt ProviderAttemptFunc) (*domain.PayoutResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := r.lockWithdrawalFull(ctx, tx, withdrawalID)
	if err != nil {
		return nil, err
	}

	if w.Status == domain.WithdrawalStatusPaid {
		prior, err := r.findSuccessPayout(ctx, tx, withdrawalID)
		if err != nil {
			return nil, err
		}
		if prior == nil {
			return nil, fmt.Errorf("%w: withdrawal %s is PAID with no SUCCESS payout", ErrIntegrityViolation, withdrawalID)
		}
		return &domain.PayoutResult{
			WithdrawalID:     withdrawalID,
			WithdrawalStatus: domain.WithdrawalStatusPaid,
			Payout:           prior,
			AlreadySettled:   true,
		}, nil
	}
	if w.Status != domain.WithdrawalStatusApproved {
		return nil, ErrWithdrawalNotApproved
	}

	if err := membershipRoleInTx(ctx, tx, executorID, w.GroupID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `SELECT 1 FROM "group" WHERE id = $1 FOR UPDATE`, w.GroupID); err != nil {
		return nil, err
	}

	if prior, err := r.findSuccessPayout(ctx, tx, withdrawalID); err != nil {
		return nil, err
	} else if prior != nil {
		return nil, fmt.Errorf("%w: APPROVED withdrawal %s already has a SUCCESS payout", ErrIntegrityViolation, withdrawalID)
	}

	accountID, err := r.FindGroupAccountID(ctx, w.GroupID)
	if err != nil {
		return nil, err
	}

	// The balance guard and the insert are one statement, evaluated under
	// the group lock, so the pool can never be driven negative.
	debit := `
		INSERT INTO ledger_entry (id, group_id, account_id, entry_type, amount, source, simulated, channel)
		SELECT $1, $2, $3, $4, $5, $6, false, ''
		WHERE (
			SELECT COALESCE(SUM(CASE WHEN entry_type = $7 THEN amount ELSE -amount END), 0)
			FROM ledger_entry WHERE group_id = $2
		) >= $5
	`
	result, err := tx.Exec(ctx, debit,
		uuid.New(), w.GroupID, accountID, domain.EntryTypeDebit, w.Amount,
		"WITHDRAWAL:"+withdrawalID.String(), domain.EntryTypeCredit,
	)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrInsufficientBalance
	}

	attemptResult, attemptErr := attempt(w)
	if attemptErr != nil || attemptResult == nil || attemptResult.Status != domain.PayoutStatusSuccess {
		// Undo the debit before persisting the failed attempt so the rolled
		// back transaction cannot swallow the FAILED row.
		_ = tx.Rollback(ctx)
		failed := &domain.Payout{
			ID:           uuid.New(),
			WithdrawalID: withdrawalID,
			Amount:       w.Amount,
			Beneficiary:  w.Beneficiary,
			Status:       domain.PayoutStatusFailed,
		}
		if attemptResult != nil {
			failed.Provider = attemptResult.Provider
			failed.ProviderPayload = attemptResult.ProviderPayload
		}
		if err := r.insertPayout(ctx, r.db, failed); err != nil {
			log.Printf("level=error component=store msg=\"failed to record FAILED payout\" withdrawal_id=%s error=%q", withdrawalID, err)
		}
		if attemptErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderFailure, attemptErr)
		}
		return nil, fmt.Errorf("%w: provider declined withdrawal %s", ErrProviderFailure, withdrawalID)
	}

	payout := &domain.Payout{
		ID:              uuid.New(),
		WithdrawalID:    withdrawalID,
		Amount:          w.Amount,
		Beneficiary:     w.Beneficiary,
		Provider:        attemptResult.Provider,
		Status:          domain.PayoutStatusSuccess,
		ProviderPayload: attemptResult.ProviderPayload,
	}
	if err := r.insertPayout(ctx, tx, payout); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: concurrent SUCCESS payout for withdrawal %s", ErrIntegrityViolation, withdrawalID)
		}
		return nil, err
	}

	promote := `
		UPDATE withdrawal_request SET status = $1, executed_at = NOW()
		WHERE id = $2 AND status = $3
	`
	updated, err := tx.Exec(ctx, promote, domain.WithdrawalStatusPaid, withdrawalID, domain.WithdrawalStatusApproved)
	if err != nil {
		return nil, err
	}
	if updated.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: withdrawal %s left APPROVED during settlement", ErrIntegrityViolation, withdrawalID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payout: %w", err)
	}
	return &domain.PayoutResult{
		WithdrawalID:     withdrawalID,
		WithdrawalStatus: domain.WithdrawalStatusPaid,
		Payout:           payout,
	}, nil
}

// RecordPayoutRecovery appends a row to the recovery log. Callers treat this
// as best effort and must not fail the surrounding operation on error.
func (r *PostgresRepository) RecordPayoutRecovery(ctx context.Context, record *domain.PayoutRecoveryRecord) error {
	query := `
		INSERT INTO payout_recovery (id, withdrawal_id, attempt_payload, error_detail)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query, record.ID, record.WithdrawalID, record.AttemptPayload, record.ErrorDetail).Scan(&record.CreatedAt)
}

// CountUnresolvedRecoveries reports how many recovery rows are unresolved
// and the age in seconds of the oldest one.
func (r *PostgresRepository) CountUnresolvedRecoveries(ctx context.Context) (int64, int64, error) {
	var (
		count     int64
		oldestAge int64
	)
	query := `
		SELECT COUNT(*), COALESCE(EXTRACT(EPOCH FROM NOW() - MIN(created_at))::bigint, 0)
		FROM payout_recovery
		WHERE resolved_at IS NULL
	`
	if err := r.db.QueryRow(ctx, query).Scan(&count, &oldestAge); err != nil {
		return 0, 0, err
	}
	return count, oldestAge, nil
}

// CountStaleApprovedWithdrawals reports how many withdrawals have sat in
// APPROVED longer than the given age without being executed.
func (r *PostgresRepository) CountStaleApprovedWithdrawals(ctx context.Context, olderThanSeconds int) (int64, error) {
	var count int64
	query := `
		SELECT COUNT(*)
		FROM withdrawal_request
		WHERE status = $1 AND created_at < NOW() - ($2 * INTERVAL '1 second')
	`
	if err := r.db.QueryRow(ctx, query, domain.WithdrawalStatusApproved, olderThanSeconds).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
