package invite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/classgate/classgate/internal/user"
)

// ledgerRow is the in-memory invite_codes row behind fakeLedgerDB.
type ledgerRow struct {
	id         int64
	code       string
	targetRole user.Role
	maxUses    int
	usedCount  int
	expiresAt  *time.Time
	createdBy  *int64
	createdAt  time.Time
}

// fakeLedgerDB implements the store's querier over a single in-memory row.
// The conditional UPDATE is applied under a mutex so it is exactly as
// atomic as the database's row-level version, which lets the tests race
// real goroutines through Redeem.
type fakeLedgerDB struct {
	mu   sync.Mutex
	row  ledgerRow
	uses map[int64]bool
}

func newFakeLedgerDB(row ledgerRow) *fakeLedgerDB {
	return &fakeLedgerDB{row: row, uses: make(map[int64]bool)}
}

func (f *fakeLedgerDB) snapshot() ledgerRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.row
}

func (f *fakeLedgerDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(sql, "WHERE code"):
		if code, _ := args[0].(string); code == f.row.code {
			return snapshotRow{f.row}
		}
	case strings.Contains(sql, "WHERE id"):
		if id, _ := args[0].(int64); id == f.row.id {
			return snapshotRow{f.row}
		}
	}
	return errRow{pgx.ErrNoRows}
}

func (f *fakeLedgerDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(sql, "used_count = used_count + 1"):
		id, _ := args[0].(int64)
		if id != f.row.id {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		now := time.Now()
		if (f.row.maxUses == 0 || f.row.usedCount < f.row.maxUses) &&
			(f.row.expiresAt == nil || f.row.expiresAt.After(now)) {
			f.row.usedCount++
			return pgconn.NewCommandTag("UPDATE 1"), nil
		}
		return pgconn.NewCommandTag("UPDATE 0"), nil

	case strings.Contains(sql, "expires_at = now()"):
		id, _ := args[0].(int64)
		if id != f.row.id {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		now := time.Now()
		f.row.expiresAt = &now
		if f.row.maxUses == 0 {
			f.row.maxUses = f.row.usedCount
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil

	case strings.Contains(sql, "INSERT INTO invite_code_uses"):
		userID, _ := args[1].(int64)
		if f.uses[userID] {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		}
		f.uses[userID] = true
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeLedgerDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

// snapshotRow yields one invite_codes row in column order.
type snapshotRow struct{ row ledgerRow }

func (r snapshotRow) Scan(dest ...any) error {
	*(dest[0].(*int64)) = r.row.id
	*(dest[1].(*string)) = r.row.code
	*(dest[2].(*user.Role)) = r.row.targetRole
	*(dest[3].(*int)) = r.row.maxUses
	*(dest[4].(*int)) = r.row.usedCount
	*(dest[5].(**time.Time)) = r.row.expiresAt
	*(dest[6].(**int64)) = r.row.createdBy
	*(dest[7].(*time.Time)) = r.row.createdAt
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(_ ...any) error { return r.err }

func TestRedeemConcurrentSingleUse(t *testing.T) {
	const code = "INV-RACE234567"
	const attempts = 8

	db := newFakeLedgerDB(ledgerRow{
		id: 1, code: code, targetRole: user.RoleStudent, maxUses: 1, createdAt: time.Now(),
	})
	store := &Store{db: db}

	start := make(chan struct{})
	results := make(chan error, attempts)
	for i := int64(1); i <= attempts; i++ {
		go func(userID int64) {
			<-start
			_, err := store.Redeem(context.Background(), code, userID)
			results <- err
		}(i)
	}
	close(start)

	var successes, exhausted int
	for i := 0; i < attempts; i++ {
		switch err := <-results; {
		case err == nil:
			successes++
		case errors.Is(err, ErrExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if successes != 1 {
		t.Errorf("expected exactly 1 success, got %d", successes)
	}
	if exhausted != attempts-1 {
		t.Errorf("expected %d exhausted, got %d", attempts-1, exhausted)
	}
	if got := db.snapshot().usedCount; got != 1 {
		t.Errorf("used_count = %d, want 1", got)
	}
}

func TestRedeemLifecycle(t *testing.T) {
	const code = "INV-LIFE234567"
	db := newFakeLedgerDB(ledgerRow{
		id: 7, code: code, targetRole: user.RoleTeacher, maxUses: 3, createdAt: time.Now(),
	})
	store := &Store{db: db}
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		grant, err := store.Redeem(ctx, code, i)
		if err != nil {
			t.Fatalf("redeem %d: unexpected error: %v", i, err)
		}
		if grant.InviteID != 7 || grant.Role != user.RoleTeacher {
			t.Fatalf("redeem %d: unexpected grant %+v", i, grant)
		}
		if got := db.snapshot().usedCount; got != int(i) {
			t.Fatalf("after redeem %d: used_count = %d, want %d", i, got, i)
		}
	}

	if _, err := store.Redeem(ctx, code, 4); !errors.Is(err, ErrExhausted) {
		t.Fatalf("4th redeem: expected ErrExhausted, got %v", err)
	}

	// Revoke is idempotent and must not disturb the audit counters.
	for i := 0; i < 2; i++ {
		if err := store.Revoke(ctx, 7); err != nil {
			t.Fatalf("revoke attempt %d: unexpected error: %v", i+1, err)
		}
	}
	row := db.snapshot()
	if row.maxUses != 3 || row.usedCount != 3 {
		t.Errorf("after revoke: max_uses/used_count = %d/%d, want 3/3", row.maxUses, row.usedCount)
	}
	if row.expiresAt == nil {
		t.Error("after revoke: expected expires_at to be set")
	}
}

func TestRedeemExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	db := newFakeLedgerDB(ledgerRow{
		id: 2, code: "INV-OLD2345678", targetRole: user.RoleStudent,
		maxUses: 5, usedCount: 1, expiresAt: &past, createdAt: past.Add(-time.Hour),
	})
	store := &Store{db: db}

	if _, err := store.Redeem(context.Background(), "INV-OLD2345678", 1); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if got := db.snapshot().usedCount; got != 1 {
		t.Errorf("used_count changed on failed redeem: got %d, want 1", got)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	db := newFakeLedgerDB(ledgerRow{id: 3, code: "INV-KNOWN34567", createdAt: time.Now()})
	store := &Store{db: db}

	if _, err := store.Redeem(context.Background(), "INV-MISSING567", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedeemSameUserTwice(t *testing.T) {
	db := newFakeLedgerDB(ledgerRow{
		id: 4, code: "INV-OPEN234567", targetRole: user.RoleStudent, maxUses: 0, createdAt: time.Now(),
	})
	store := &Store{db: db}
	ctx := context.Background()

	if _, err := store.Redeem(ctx, "INV-OPEN234567", 9); err != nil {
		t.Fatalf("first redeem: unexpected error: %v", err)
	}
	if _, err := store.Redeem(ctx, "INV-OPEN234567", 9); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("second redeem: expected ErrAlreadyUsed, got %v", err)
	}
}

func TestRevokeUnlimitedCapsUses(t *testing.T) {
	db := newFakeLedgerDB(ledgerRow{
		id: 5, code: "INV-CAP2345678", targetRole: user.RoleStudent,
		maxUses: 0, usedCount: 2, createdAt: time.Now(),
	})
	store := &Store{db: db}

	if err := store.Revoke(context.Background(), 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row := db.snapshot()
	if row.maxUses != 2 {
		t.Errorf("max_uses = %d, want 2 (pinned to used_count)", row.maxUses)
	}
}

func TestRevokeUnknownID(t *testing.T) {
	db := newFakeLedgerDB(ledgerRow{id: 6, code: "INV-SOLE234567", createdAt: time.Now()})
	store := &Store{db: db}

	if err := store.Revoke(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
