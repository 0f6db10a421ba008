/**
 * @description
 * Ledger persistence for the group's pooled account. Credits are idempotent
 * on client_ref, balances are derived from the ledger rather than stored, and
 * ledger rows are append-only (no UPDATE/DELETE statements exist for them).
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: Query execution against PostgreSQL.
 * - internal/domain: Ledger entry models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/poolvault/treasury-service/internal/domain"
)

// Credit appends a CREDIT ledger entry for the group's account. When a
// client_ref is supplied and an entry with that reference already exists, the
// existing entry is returned with Duplicate set and no new row is written.
func (r *PostgresRepository) Credit(ctx context.Context, params domain.CreditParams) (*domain.CreditResult, error) {
	accountID, err := r.FindGroupAccountID(ctx, params.GroupID)
	if err != nil {
		return nil, err
	}

	entry := domain.LedgerEntry{
		ID:        uuid.New(),
		GroupID:   params.GroupID,
		AccountID: accountID,
		Type:      domain.EntryTypeCredit,
		Amount:    params.Amount,
		Source:    params.Source,
		ClientRef: params.ClientRef,
		Simulated: params.Simulated,
		Channel:   params.Channel,
	}

	query := `
		INSERT INTO ledger_entry
			(id, group_id, account_id, entry_type, amount, source, client_ref, simulated, channel)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (client_ref) WHERE client_ref IS NOT NULL DO NOTHING
		RETURNING created_at
	`
	err = r.db.QueryRow(ctx, query,
		entry.ID, entry.GroupID, entry.AccountID, entry.Type, entry.Amount,
		entry.Source, entry.ClientRef, entry.Simulated, entry.Channel,
	).Scan(&entry.CreatedAt)
	if err == nil {
		return &domain.CreditResult{Entry: &entry, Duplicate: false}, nil
	}
	if err != pgx.ErrNoRows {
		return nil, err
	}
	if params.ClientRef == nil {
		// The conflict target only covers non-null refs, so a null-ref insert
		// cannot legitimately return zero rows.
		return nil, ErrIntegrityViolation
	}

	// The conflict target swallowed the insert: another request already
	// booked this client_ref. Return the prior entry unchanged.
	existing, err := r.findLedgerEntryByClientRef(ctx, *params.ClientRef)
	if err != nil {
		return nil, err
	}
	return &domain.CreditResult{Entry: existing, Duplicate: true}, nil
}

func (r *PostgresRepository) findLedgerEntryByClientRef(ctx context.Context, clientRef string) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	query := `
		SELECT id, group_id, account_id, entry_type, amount, source, client_ref, simulated, channel, created_at
		FROM ledger_entry
		WHERE client_ref = $1
	`
	err := r.db.QueryRow(ctx, query, clientRef).Scan(
		&e.ID, &e.GroupID, &e.AccountID, &e.Type, &e.Amount,
		&e.Source, &e.ClientRef, &e.Simulated, &e.Channel, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GroupBalance computes the group's authoritative balance as the ledger sum
// of credits minus debits.
func (r *PostgresRepository) GroupBalance(ctx context.Context, groupID uuid.UUID) (int64, error) {
	if _, err := r.FindGroupByID(ctx, groupID); err != nil {
		return 0, err
	}
	var balance int64
	query := `
		SELECT COALESCE(SUM(CASE WHEN entry_type = $2 THEN amount ELSE -amount END), 0)
		FROM ledger_entry
		WHERE group_id = $1
	`
	if err := r.db.QueryRow(ctx, query, groupID, domain.EntryTypeCredit).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// ListLedgerEntries returns a page of the group's ledger, newest first.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, group_id, account_id, entry_type, amount, source, client_ref, simulated, channel, created_at
		FROM ledger_entry
		WHERE group_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, groupID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		err := rows.Scan(
			&e.ID, &e.GroupID, &e.AccountID, &e.Type, &e.Amount,
			&e.Source, &e.ClientRef, &e.Simulated, &e.Channel, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
