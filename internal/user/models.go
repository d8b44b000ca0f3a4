package user

import (
	"fmt"
	"time"
)

// Role is a member of the fixed role enumeration. Roles never hold
// arbitrary strings; parse inputs through ParseRole.
type Role string

const (
	RoleRegistered Role = "registered"
	RoleStudent    Role = "student"
	RoleTeacher    Role = "teacher"
	RoleAdmin      Role = "admin"
	RoleBlocked    Role = "blocked"
)

// AllRoles lists every member of the enumeration.
var AllRoles = []Role{RoleRegistered, RoleStudent, RoleTeacher, RoleAdmin, RoleBlocked}

// Valid reports whether r is a member of the enumeration.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole converts a string to a Role, rejecting anything outside the
// enumeration.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// IdentifierKind discriminates the login identifier variants.
type IdentifierKind string

const (
	IdentUsername IdentifierKind = "username"
	IdentPhone    IdentifierKind = "phone"
)

// LoginIdentifier is the sum type Username(string) | Phone(string). A user
// holds exactly one; construct values via Username or Phone so the
// invariant cannot be bypassed.
type LoginIdentifier struct {
	kind  IdentifierKind
	value string
}

// Username constructs a username login identifier.
func Username(v string) LoginIdentifier {
	return LoginIdentifier{kind: IdentUsername, value: v}
}

// Phone constructs a phone login identifier.
func Phone(v string) LoginIdentifier {
	return LoginIdentifier{kind: IdentPhone, value: v}
}

// Kind returns the variant tag.
func (li LoginIdentifier) Kind() IdentifierKind { return li.kind }

// Value returns the identifier string.
func (li LoginIdentifier) Value() string { return li.value }

// Zero reports whether the identifier was never set.
func (li LoginIdentifier) Zero() bool { return li.kind == "" }

func (li LoginIdentifier) String() string {
	return fmt.Sprintf("%s:%s", li.kind, li.value)
}

// User is a registered account. Exactly one of Username/Phone is non-nil.
type User struct {
	ID           int64     `json:"id"`
	Username     *string   `json:"username"`
	Phone        *string   `json:"phone"`
	PasswordHash *string   `json:"-"`
	Nickname     *string   `json:"nickname"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identifier reconstructs the login identifier from the stored columns.
func (u *User) Identifier() LoginIdentifier {
	if u.Username != nil {
		return Username(*u.Username)
	}
	if u.Phone != nil {
		return Phone(*u.Phone)
	}
	return LoginIdentifier{}
}

// DisplayName returns the nickname when set, otherwise the login identifier.
func (u *User) DisplayName() string {
	if u.Nickname != nil && *u.Nickname != "" {
		return *u.Nickname
	}
	return u.Identifier().Value()
}

// CreateInput holds the fields required to create a new user. PasswordHash
// is optional: identifier-only (legacy) accounts carry none.
type CreateInput struct {
	Identifier   LoginIdentifier
	PasswordHash string
	Nickname     string
	Role         Role
}
