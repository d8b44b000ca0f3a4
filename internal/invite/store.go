package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classgate/classgate/internal/user"
)

// querier is the subset of *pgxpool.Pool and pgx.Tx the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides database operations for the invite ledger.
type Store struct {
	db querier
}

// NewStore creates an invite store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// WithTx returns a store bound to the given transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

const inviteColumns = `id, code, target_role, max_uses, used_count, expires_at, created_by, created_at`

// statusExpr derives the lifecycle state in SQL so listing and filtering
// agree with StatusAt without a stored status column.
const statusExpr = `CASE
	WHEN expires_at IS NOT NULL AND expires_at <= now() THEN 'expired'
	WHEN max_uses > 0 AND used_count >= max_uses THEN 'exhausted'
	ELSE 'active'
END`

func scanInvite(row pgx.Row) (*InviteCode, error) {
	c := &InviteCode{}
	err := row.Scan(&c.ID, &c.Code, &c.TargetRole, &c.MaxUses, &c.UsedCount, &c.ExpiresAt, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// Issue inserts a new invite code with used_count = 0. A pure insert: no
// concurrency hazard. Returns ErrCodeTaken when the token already exists.
func (s *Store) Issue(ctx context.Context, in IssueInput) (*InviteCode, error) {
	code := strings.ToUpper(in.Code)
	if code == "" {
		var err error
		code, err = GenerateCode()
		if err != nil {
			return nil, err
		}
	}

	role := in.TargetRole
	if role == "" {
		role = user.RoleStudent
	}

	var createdBy *int64
	if in.CreatedBy != 0 {
		createdBy = &in.CreatedBy
	}

	c, err := scanInvite(s.db.QueryRow(ctx,
		`INSERT INTO invite_codes (code, target_role, max_uses, used_count, expires_at, created_by)
		 VALUES ($1, $2, $3, 0, $4, $5)
		 RETURNING `+inviteColumns,
		code, role, in.MaxUses, in.ExpiresAt, createdBy,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrCodeTaken
		}
		return nil, fmt.Errorf("issuing invite code: %w", err)
	}
	return c, nil
}

// GetByID retrieves an invite code by primary key.
func (s *Store) GetByID(ctx context.Context, id int64) (*InviteCode, error) {
	c, err := scanInvite(s.db.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM invite_codes WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting invite by id: %w", err)
	}
	return c, nil
}

// Redeem consumes one use of the code on behalf of userID and returns the
// role grant. The capacity/expiry check and the counter increment are a
// single conditional UPDATE: two concurrent redemptions of a one-use code
// can never both see a matching row. The per-user use record carries a
// unique (code_id, user_id) constraint, so the same account cannot consume
// a multi-use code twice even under concurrent requests.
//
// Call through a transaction-bound store (WithTx) when the grant must be
// applied to the user in the same atomic unit.
func (s *Store) Redeem(ctx context.Context, code string, userID int64) (*Grant, error) {
	c, err := scanInvite(s.db.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM invite_codes WHERE code = $1`,
		strings.ToUpper(strings.TrimSpace(code)),
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up invite code: %w", err)
	}

	// Friendlier error tags for states already visible in the snapshot.
	// The conditional UPDATE below remains the only correctness gate.
	switch c.StatusAt(time.Now()) {
	case StatusExpired:
		return nil, ErrExpired
	case StatusExhausted:
		return nil, ErrExhausted
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE invite_codes
		 SET used_count = used_count + 1
		 WHERE id = $1
		   AND (max_uses = 0 OR used_count < max_uses)
		   AND (expires_at IS NULL OR expires_at > now())`,
		c.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("redeeming invite code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race between snapshot and update.
		return nil, ErrExhausted
	}

	if _, err := s.db.Exec(ctx,
		`INSERT INTO invite_code_uses (code_id, user_id) VALUES ($1, $2)`,
		c.ID, userID,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyUsed
		}
		return nil, fmt.Errorf("recording invite use: %w", err)
	}

	return &Grant{InviteID: c.ID, Role: c.TargetRole}, nil
}

// Revoke force-expires the code: expires_at is pinned to now and, for
// unlimited codes, max_uses is capped at the current used_count so the
// record is permanently exhausted while keeping the consumed-uses audit
// trail. Idempotent; ErrNotFound only when no row matches the id.
func (s *Store) Revoke(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE invite_codes
		 SET expires_at = now(),
		     max_uses = CASE WHEN max_uses = 0 THEN used_count ELSE max_uses END
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("revoking invite code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns invite codes newest first, optionally filtered by derived
// status. Pass an empty status for all codes.
func (s *Store) List(ctx context.Context, status Status) ([]*InviteCode, error) {
	query := `SELECT ` + inviteColumns + `, ` + statusExpr + ` AS status FROM invite_codes`
	var args []any
	if status != "" {
		query += ` WHERE ` + statusExpr + ` = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing invite codes: %w", err)
	}
	defer rows.Close()

	var invites []*InviteCode
	for rows.Next() {
		c := &InviteCode{}
		if err := rows.Scan(&c.ID, &c.Code, &c.TargetRole, &c.MaxUses, &c.UsedCount, &c.ExpiresAt, &c.CreatedBy, &c.CreatedAt, &c.Status); err != nil {
			return nil, fmt.Errorf("scanning invite row: %w", err)
		}
		invites = append(invites, c)
	}
	return invites, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
