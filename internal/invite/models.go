package invite

import (
	"errors"
	"fmt"
	"time"

	"github.com/classgate/classgate/internal/user"
)

// Tagged redemption/revocation failures. The HTTP layer maps these to
// stable error codes.
var (
	ErrNotFound    = errors.New("invite code not found")
	ErrExpired     = errors.New("invite code expired")
	ErrExhausted   = errors.New("invite code exhausted")
	ErrAlreadyUsed = errors.New("invite code already used by this account")
	ErrCodeTaken   = errors.New("invite code already exists")
)

// Status is the derived lifecycle state of an invite code. It is always
// computed from (max_uses, used_count, expires_at, now), never stored.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusExhausted Status = "exhausted"
)

// ParseStatus validates a status filter value.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusExpired, StatusExhausted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown invite status %q", s)
}

// InviteCode is a capacity- and time-bounded registration token.
type InviteCode struct {
	ID         int64      `json:"id"`
	Code       string     `json:"code"`
	TargetRole user.Role  `json:"target_role"`
	MaxUses    int        `json:"max_uses"` // 0 means unlimited
	UsedCount  int        `json:"used_count"`
	ExpiresAt  *time.Time `json:"expires_at"`
	CreatedBy  *int64     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	Status     Status     `json:"status,omitempty"`
}

// StatusAt derives the code's state at the given instant. Expiry wins over
// exhaustion, matching the SQL status expression used for listing.
func (c *InviteCode) StatusAt(now time.Time) Status {
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return StatusExpired
	}
	if c.MaxUses > 0 && c.UsedCount >= c.MaxUses {
		return StatusExhausted
	}
	return StatusActive
}

// Grant is the result of a successful redemption: the role conferred and
// the invite id for the audit trail.
type Grant struct {
	InviteID int64
	Role     user.Role
}

// IssueInput holds the parameters for creating an invite code. Code is
// optional; when empty a token is generated. ExpiresAt nil means no expiry.
type IssueInput struct {
	Code       string
	TargetRole user.Role
	MaxUses    int
	ExpiresAt  *time.Time
	CreatedBy  int64
}
