// Package signup combines the invite ledger and the identity store into
// the registration and role-upgrade flows.
package signup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classgate/classgate/internal/invite"
	"github.com/classgate/classgate/internal/password"
	"github.com/classgate/classgate/internal/user"
)

// ErrNotEligible is returned when an account that is not plain "registered"
// attempts an invite upgrade.
var ErrNotEligible = errors.New("account not eligible for invite upgrade")

// Service runs registration and upgrade flows. Each flow executes in one
// transaction: either the account, the redemption, and the role grant all
// apply, or none do.
type Service struct {
	pool    *pgxpool.Pool
	users   *user.Store
	invites *invite.Store
}

// NewService creates a signup service over the shared pool and stores.
func NewService(pool *pgxpool.Pool, users *user.Store, invites *invite.Store) *Service {
	return &Service{pool: pool, users: users, invites: invites}
}

// RegisterInput holds the validated registration request. InviteCode is
// optional; when present the new account receives the code's role grant.
type RegisterInput struct {
	Identifier user.LoginIdentifier
	Password   string
	Nickname   string
	InviteCode string
}

// Register creates a new account, redeeming the invite code (if any) in the
// same transaction. A failed redemption rolls the account back, so a
// registrant never ends up half-enrolled. Returns user.ErrConflict for a
// taken identifier and the invite package's tagged errors for redemption
// failures.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*user.User, error) {
	hash, err := password.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning registration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := s.users.WithTx(tx).Create(ctx, user.CreateInput{
		Identifier:   in.Identifier,
		PasswordHash: hash,
		Nickname:     in.Nickname,
		Role:         user.RoleRegistered,
	})
	if err != nil {
		return nil, err
	}

	if in.InviteCode != "" {
		grant, err := s.invites.WithTx(tx).Redeem(ctx, in.InviteCode, u.ID)
		if err != nil {
			return nil, err
		}
		if err := s.users.WithTx(tx).UpdateRole(ctx, u.ID, grant.Role); err != nil {
			return nil, err
		}
		u.Role = grant.Role
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing registration: %w", err)
	}
	return u, nil
}

// Upgrade redeems an invite code for an existing account. Only plain
// "registered" accounts are eligible; everyone else already holds a role
// an invite could not improve. Returns the granted role.
func (s *Service) Upgrade(ctx context.Context, userID int64, code string) (user.Role, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("beginning upgrade: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := s.users.WithTx(tx).GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.Role != user.RoleRegistered {
		return "", ErrNotEligible
	}

	grant, err := s.invites.WithTx(tx).Redeem(ctx, code, userID)
	if err != nil {
		return "", err
	}
	if err := s.users.WithTx(tx).UpdateRole(ctx, userID, grant.Role); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("committing upgrade: %w", err)
	}
	return grant.Role, nil
}
