package domain

import (
	"time"

	"github.com/google/uuid"
)

// Membership roles. Only OWNER and TREASURER may approve, reject, or execute
// payouts; plain MEMBERs may deposit and request withdrawals.
const (
	RoleOwner     = "OWNER"
	RoleTreasurer = "TREASURER"
	RoleMember    = "MEMBER"
)

// Group maps to the `group` table. The pooled balance is derived from the
// ledger, never stored here.
type Group struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	ApprovalsRequired int       `json:"approvals_required"`
	CreatedAt         time.Time `json:"created_at"`
}

// GroupMembership maps to the `group_membership` table.
type GroupMembership struct {
	UserID      uuid.UUID `json:"user_id"`
	GroupID     uuid.UUID `json:"group_id"`
	RoleInGroup string    `json:"role_in_group"`
	CreatedAt   time.Time `json:"created_at"`
}

// CanAdminister reports whether the role may approve, reject or execute.
func (m *GroupMembership) CanAdminister() bool {
	return m.RoleInGroup == RoleOwner || m.RoleInGroup == RoleTreasurer
}
