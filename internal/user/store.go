package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")

// ErrConflict is returned when the login identifier is already taken.
var ErrConflict = errors.New("login identifier already exists")

// querier is the subset of *pgxpool.Pool and pgx.Tx the store uses, so the
// same methods can run inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides database operations for user records.
type Store struct {
	db querier
}

// NewStore creates a user store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// WithTx returns a store bound to the given transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

const userColumns = `id, username, phone, password_hash, nickname, role, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.Phone, &u.PasswordHash, &u.Nickname, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// Create inserts a new user. The password hash must already be computed by
// the caller (see internal/password); this store never sees raw passwords.
// Returns ErrConflict when the login identifier is already taken.
func (s *Store) Create(ctx context.Context, in CreateInput) (*User, error) {
	if in.Identifier.Zero() {
		return nil, fmt.Errorf("creating user: login identifier is required")
	}
	role := in.Role
	if role == "" {
		role = RoleRegistered
	}
	if !role.Valid() {
		return nil, fmt.Errorf("creating user: unknown role %q", role)
	}

	var username, phone *string
	switch in.Identifier.Kind() {
	case IdentUsername:
		v := in.Identifier.Value()
		username = &v
	case IdentPhone:
		v := in.Identifier.Value()
		phone = &v
	}

	var passwordHash, nickname *string
	if in.PasswordHash != "" {
		passwordHash = &in.PasswordHash
	}
	if in.Nickname != "" {
		nickname = &in.Nickname
	}

	u, err := scanUser(s.db.QueryRow(ctx,
		`INSERT INTO users (username, phone, password_hash, nickname, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+userColumns,
		username, phone, passwordHash, nickname, role,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by primary key.
func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting user by id: %w", err)
	}
	return u, nil
}

// GetByIdentifier retrieves a user by its login identifier.
func (s *Store) GetByIdentifier(ctx context.Context, ident LoginIdentifier) (*User, error) {
	var column string
	switch ident.Kind() {
	case IdentUsername:
		column = "username"
	case IdentPhone:
		column = "phone"
	default:
		return nil, ErrNotFound
	}

	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, ident.Value(),
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting user by %s: %w", column, err)
	}
	return u, nil
}

// List returns all users ordered by creation time, newest first.
func (s *Store) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.Phone, &u.PasswordHash, &u.Nickname, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateRole sets the user's role. Returns ErrNotFound when no row matches.
func (s *Store) UpdateRole(ctx context.Context, id int64, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("updating role: unknown role %q", role)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET role = $1, updated_at = now() WHERE id = $2`,
		role, id,
	)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateNickname sets the user's display nickname.
func (s *Store) UpdateNickname(ctx context.Context, id int64, nickname string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET nickname = $1, updated_at = now() WHERE id = $2`,
		nickname, id,
	)
	if err != nil {
		return fmt.Errorf("updating nickname: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
