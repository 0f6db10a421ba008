package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionPINCredential stores server-owned transaction-PIN security
// metadata for a user. The hash is argon2id; it never leaves the service.
type TransactionPINCredential struct {
	UserID            uuid.UUID  `json:"user_id"`
	PINHash           string     `json:"-"`
	RecoveryTokenHash string     `json:"-"`
	FailedAttempts    int        `json:"failed_attempts"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}
