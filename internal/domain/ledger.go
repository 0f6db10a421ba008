package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry types. The ledger supports exactly these two; the pooled group
// balance is sum(CREDIT) - sum(DEBIT) derived from the entry log.
const (
	EntryTypeCredit = "CREDIT"
	EntryTypeDebit  = "DEBIT"
)

// Payment channels a credit can arrive through.
const (
	ChannelCheckout       = "CHECKOUT"
	ChannelVirtualAccount = "VA"
)

// LedgerEntry maps to the `ledger_entry` table. Rows are immutable once
// written. ClientRef is unique where present; a colliding insert is the
// idempotent-repeat signal for re-delivered payment notifications.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id"`
	GroupID   uuid.UUID `json:"group_id"`
	AccountID uuid.UUID `json:"account_id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"` // in kobo, never negative
	Source    string    `json:"source"`
	ClientRef *string   `json:"client_ref,omitempty"`
	Simulated bool      `json:"simulated"`
	Channel   string    `json:"channel"`
	CreatedAt time.Time `json:"created_at"`
}

// CreditParams carries everything needed to record an inbound payment as a
// CREDIT entry.
type CreditParams struct {
	GroupID   uuid.UUID
	Amount    int64 // in kobo
	Source    string
	ClientRef *string
	Simulated bool
	Channel   string
}

// CreditResult is the outcome of a credit attempt. Duplicate is true when the
// client ref collided and Entry is the pre-existing row.
type CreditResult struct {
	Entry     *LedgerEntry
	Duplicate bool
}
