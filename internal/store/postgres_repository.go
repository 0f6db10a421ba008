/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface for group, membership, withdrawal and transaction-PIN access.
 * It contains all the necessary SQL to interact with the database tables;
 * sensitive columns (beneficiary, reason, payout payloads) are sealed and
 * opened at this boundary so business logic never handles ciphertext.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain, internal/secure: Domain models and the field codec.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolvault/treasury-service/internal/domain"
	"github.com/poolvault/treasury-service/internal/secure"
)

var (
	ErrGroupNotFound         = errors.New("group not found")
	ErrGroupAccountNotFound  = errors.New("group account not found")
	ErrNotGroupMember        = errors.New("user is not a member of this group")
	ErrNotAuthorizedRole     = errors.New("user is not OWNER or TREASURER in this group")
	ErrWithdrawalNotFound    = errors.New("withdrawal request not found")
	ErrWithdrawalNotPending  = errors.New("withdrawal is no longer pending")
	ErrWithdrawalNotApproved = errors.New("withdrawal is not approved")
	ErrDuplicateApproval     = errors.New("approver has already approved this withdrawal")
	ErrSelfApproval          = errors.New("requester cannot approve or reject their own withdrawal")
	ErrInsufficientBalance   = errors.New("insufficient group balance")
	ErrProviderFailure       = errors.New("payout provider failure")
	ErrIntegrityViolation    = errors.New("ledger integrity violation")
	ErrTransactionPINNotSet  = errors.New("transaction pin not set")
	ErrTransactionPINExists  = errors.New("transaction pin already set")
)

// PostgresRepository is a concrete implementation of the Repository interface
// for PostgreSQL.
type PostgresRepository struct {
	db    *pgxpool.Pool
	codec *secure.Codec
}

// NewPostgresRepository creates a new instance of PostgresRepository. The
// codec seals/open the encrypted columns at this persistence boundary.
func NewPostgresRepository(db *pgxpool.Pool, codec *secure.Codec) *PostgresRepository {
	return &PostgresRepository{db: db, codec: codec}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// FindGroupByID retrieves a group and its current approval policy.
func (r *PostgresRepository) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	var g domain.Group
	query := `SELECT id, name, approvals_required, created_at FROM "group" WHERE id = $1`
	err := r.db.QueryRow(ctx, query, groupID).Scan(&g.ID, &g.Name, &g.ApprovalsRequired, &g.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &g, nil
}

// FindMembership retrieves a user's membership row in a group.
func (r *PostgresRepository) FindMembership(ctx context.Context, userID, groupID uuid.UUID) (*domain.GroupMembership, error) {
	var m domain.GroupMembership
	query := `
		SELECT user_id, group_id, role_in_group, created_at
		FROM group_membership
		WHERE user_id = $1 AND group_id = $2
	`
	err := r.db.QueryRow(ctx, query, userID, groupID).Scan(&m.UserID, &m.GroupID, &m.RoleInGroup, &m.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotGroupMember
		}
		return nil, err
	}
	return &m, nil
}

// FindGroupAccountID resolves the pooled account the group's ledger entries
// are booked against.
func (r *PostgresRepository) FindGroupAccountID(ctx context.Context, groupID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM account WHERE group_id = $1 LIMIT 1`, groupID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, ErrGroupAccountNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// CreateWithdrawalRequest inserts a new PENDING withdrawal. ApprovalsRequired
// must already be populated from the group's policy; beneficiary and reason
// are sealed before they hit the table.
func (r *PostgresRepository) CreateWithdrawalRequest(ctx context.Context, w *domain.WithdrawalRequest) error {
	sealedBeneficiary, err := r.codec.SealJSON(w.Beneficiary)
	if err != nil {
		return fmt.Errorf("seal beneficiary: %w", err)
	}
	var sealedReason *string
	if w.Reason != "" {
		s, err := r.codec.Seal(w.Reason)
		if err != nil {
			return fmt.Errorf("seal reason: %w", err)
		}
		sealedReason = &s
	}

	query := `
		INSERT INTO withdrawal_request
			(id, group_id, amount, beneficiary, reason, requested_by, status, approvals_required)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		w.ID, w.GroupID, w.Amount, sealedBeneficiary, sealedReason,
		w.RequestedBy, w.Status, w.ApprovalsRequired,
	).Scan(&w.CreatedAt)
}

const withdrawalColumns = `id, group_id, amount, beneficiary, reason, requested_by, status, approvals_required, created_at, executed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanWithdrawal(row rowScanner) (*domain.WithdrawalRequest, error) {
	var (
		w                 domain.WithdrawalRequest
		sealedBeneficiary string
		sealedReason      *string
	)
	err := row.Scan(
		&w.ID, &w.GroupID, &w.Amount, &sealedBeneficiary, &sealedReason,
		&w.RequestedBy, &w.Status, &w.ApprovalsRequired, &w.CreatedAt, &w.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := r.codec.OpenJSON(sealedBeneficiary, &w.Beneficiary); err != nil {
		return nil, fmt.Errorf("open beneficiary for withdrawal %s: %w", w.ID, err)
	}
	if sealedReason != nil {
		reason, err := r.codec.Open(*sealedReason)
		if err != nil {
			return nil, fmt.Errorf("open reason for withdrawal %s: %w", w.ID, err)
		}
		w.Reason = reason
	}
	return &w, nil
}

// FindWithdrawalByID retrieves a single withdrawal request.
func (r *PostgresRepository) FindWithdrawalByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_request WHERE id = $1`, withdrawalID)
	w, err := r.scanWithdrawal(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return w, nil
}

// ListGroupWithdrawals retrieves withdrawals for a group, newest first, with
// an optional status filter.
func (r *PostgresRepository) ListGroupWithdrawals(ctx context.Context, groupID uuid.UUID, opts domain.WithdrawalListOptions) ([]domain.WithdrawalRequest, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.PageSize > 50 {
		opts.PageSize = 50
	}
	offset := (opts.Page - 1) * opts.PageSize

	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawal_request
		WHERE group_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, groupID, opts.Status, opts.PageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var withdrawals []domain.WithdrawalRequest
	for rows.Next() {
		w, err := r.scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, *w)
	}
	return withdrawals, rows.Err()
}

// ListApprovals retrieves the approvals recorded for a withdrawal, oldest
// first.
func (r *PostgresRepository) ListApprovals(ctx context.Context, withdrawalID uuid.UUID) ([]domain.Approval, error) {
	query := `
		SELECT id, withdrawal_id, approver_user_id, created_at
		FROM approval
		WHERE withdrawal_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, withdrawalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []domain.Approval
	for rows.Next() {
		var a domain.Approval
		if err := rows.Scan(&a.ID, &a.WithdrawalID, &a.ApproverUserID, &a.CreatedAt); err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// ListPayouts retrieves payout attempts recorded against a withdrawal.
func (r *PostgresRepository) ListPayouts(ctx context.Context, withdrawalID uuid.UUID) ([]domain.Payout, error) {
	query := `
		SELECT id, withdrawal_id, amount, beneficiary, provider, status, provider_payload, created_at
		FROM payout
		WHERE withdrawal_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, withdrawalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		p, err := r.scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

func (r *PostgresRepository) scanPayout(row rowScanner) (*domain.Payout, error) {
	var (
		p                 domain.Payout
		sealedBeneficiary string
		sealedPayload     *string
	)
	err := row.Scan(&p.ID, &p.WithdrawalID, &p.Amount, &sealedBeneficiary, &p.Provider, &p.Status, &sealedPayload, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := r.codec.OpenJSON(sealedBeneficiary, &p.Beneficiary); err != nil {
		return nil, fmt.Errorf("open beneficiary for payout %s: %w", p.ID, err)
	}
	if sealedPayload != nil {
		payload, err := r.codec.Open(*sealedPayload)
		if err != nil {
			return nil, fmt.Errorf("open provider payload for payout %s: %w", p.ID, err)
		}
		p.ProviderPayload = payload
	}
	return &p, nil
}

// CreateTransactionPIN stores a new argon2id PIN hash and the hash of the
// one-time recovery token for a user.
func (r *PostgresRepository) CreateTransactionPIN(ctx context.Context, userID uuid.UUID, pinHash, recoveryTokenHash string) error {
	query := `INSERT INTO transaction_pins (user_id, pin_hash, recovery_token_hash) VALUES ($1, $2, $3)`
	if _, err := r.db.Exec(ctx, query, userID, pinHash, recoveryTokenHash); err != nil {
		if isUniqueViolation(err) {
			return ErrTransactionPINExists
		}
		return err
	}
	return nil
}

// GetTransactionPINCredential returns transaction PIN security metadata for
// a user.
func (r *PostgresRepository) GetTransactionPINCredential(ctx context.Context, userID uuid.UUID) (*domain.TransactionPINCredential, error) {
	var cred domain.TransactionPINCredential
	query := `
		SELECT user_id, pin_hash, recovery_token_hash, failed_attempts, locked_until
		FROM transaction_pins
		WHERE user_id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(&cred.UserID, &cred.PINHash, &cred.RecoveryTokenHash, &cred.FailedAttempts, &cred.LockedUntil)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionPINNotSet
		}
		return nil, err
	}
	if cred.PINHash == "" {
		return nil, ErrTransactionPINNotSet
	}
	return &cred, nil
}

// ResetTransactionPIN replaces the PIN hash and recovery token hash after a
// successful recovery-token exchange, clearing any lockout state.
func (r *PostgresRepository) ResetTransactionPIN(ctx context.Context, userID uuid.UUID, pinHash, recoveryTokenHash string) error {
	query := `
		UPDATE transaction_pins
		SET pin_hash = $2, recovery_token_hash = $3,
			failed_attempts = 0, last_failed_at = NULL, locked_until = NULL
		WHERE user_id = $1
	`
	result, err := r.db.Exec(ctx, query, userID, pinHash, recoveryTokenHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionPINNotSet
	}
	return nil
}

// RecordFailedPINAttempt atomically increments failed attempts and applies
// lockout once the threshold is crossed. An expired lockout window resets the
// counter to 1 instead of stacking.
func (r *PostgresRepository) RecordFailedPINAttempt(ctx context.Context, userID uuid.UUID, maxAttempts, lockoutSeconds int) (*domain.TransactionPINCredential, error) {
	var cred domain.TransactionPINCredential
	query := `
		UPDATE transaction_pins
		SET
			failed_attempts = CASE
				WHEN (locked_until IS NOT NULL AND locked_until <= NOW())
					OR (locked_until IS NULL AND failed_attempts >= $2) THEN 1
				ELSE failed_attempts + 1
			END,
			last_failed_at = NOW(),
			locked_until = CASE
				WHEN (
					CASE
						WHEN (locked_until IS NOT NULL AND locked_until <= NOW())
							OR (locked_until IS NULL AND failed_attempts >= $2) THEN 1
						ELSE failed_attempts + 1
					END
				) >= $2 THEN NOW() + ($3 * INTERVAL '1 second')
				ELSE NULL
			END
		WHERE user_id = $1
		RETURNING user_id, pin_hash, failed_attempts, locked_until
	`
	err := r.db.QueryRow(ctx, query, userID, maxAttempts, lockoutSeconds).Scan(
		&cred.UserID, &cred.PINHash, &cred.FailedAttempts, &cred.LockedUntil,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionPINNotSet
		}
		return nil, err
	}
	return &cred, nil
}

// ResetPINFailureState clears failed-attempt counters after a successful PIN
// verification.
func (r *PostgresRepository) ResetPINFailureState(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE transaction_pins
		SET failed_attempts = 0, last_failed_at = NULL, locked_until = NULL
		WHERE user_id = $1
	`
	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionPINNotSet
	}
	return nil
}

// membershipRoleInTx checks membership with an administering role inside an
// open transaction.
func membershipRoleInTx(ctx context.Context, tx pgx.Tx, userID, groupID uuid.UUID) error {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM group_membership
			WHERE user_id = $1 AND group_id = $2 AND role_in_group = ANY($3::text[])
		)
	`
	roles := []string{domain.RoleOwner, domain.RoleTreasurer}
	if err := tx.QueryRow(ctx, query, userID, groupID, roles).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotAuthorizedRole
	}
	return nil
}
