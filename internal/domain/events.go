/**
 * @description
 * Event payloads published to the message broker when withdrawal or ledger
 * state changes. Downstream consumers (notification delivery, analytics) bind
 * to the routing keys in pkg/rabbitmq.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// WithdrawalEvent is published on withdrawal.requested / withdrawal.approved /
// withdrawal.declined transitions.
type WithdrawalEvent struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	GroupID      uuid.UUID `json:"group_id"`
	ActorID      uuid.UUID `json:"actor_id"`
	Amount       int64     `json:"amount"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// PayoutEvent is published on payout.succeeded / payout.failed.
type PayoutEvent struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	GroupID      uuid.UUID `json:"group_id"`
	ExecutorID   uuid.UUID `json:"executor_id"`
	Amount       int64     `json:"amount"`
	Provider     string    `json:"provider"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// PaymentConfirmedEvent is the payload the payment service publishes once a
// checkout or virtual-account payment settles. Consumed by this service to
// credit the group ledger; ClientRef makes re-deliveries idempotent.
type PaymentConfirmedEvent struct {
	GroupID   uuid.UUID `json:"group_id"`
	Amount    int64     `json:"amount"`
	Source    string    `json:"source"`
	ClientRef string    `json:"client_ref"`
	Simulated bool      `json:"simulated"`
	Channel   string    `json:"channel"`
}

// LedgerCreditedEvent is published when an inbound payment lands in the
// ledger. Duplicate deliveries of the same client ref publish nothing.
type LedgerCreditedEvent struct {
	EntryID   uuid.UUID `json:"entry_id"`
	GroupID   uuid.UUID `json:"group_id"`
	Amount    int64     `json:"amount"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
}
