package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/classgate/classgate/internal/password"
	"github.com/classgate/classgate/internal/user"
)

var (
	// ErrInvalidCredentials covers unknown identifiers and wrong passwords
	// alike, so callers cannot probe which half failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoSession is returned when the token is missing, malformed,
	// expired, or refers to a deleted user.
	ErrNoSession = errors.New("no valid session")
	// ErrBlocked is returned for accounts with the blocked role.
	ErrBlocked = errors.New("account blocked")
)

// Role sets passed to the guard by privileged call sites.
var (
	StudentRoles = []user.Role{user.RoleStudent, user.RoleTeacher, user.RoleAdmin}
	TeacherRoles = []user.Role{user.RoleTeacher, user.RoleAdmin}
	AdminRoles   = []user.Role{user.RoleAdmin}
)

// Identity is the resolved caller of a request: the id and current role,
// re-read from the identity store on every resolution so role changes and
// blocks take effect without waiting for token expiry.
type Identity struct {
	UserID int64
	Role   user.Role
}

// UserLookup is the interface the resolver needs from the identity store.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*user.User, error)
	GetByIdentifier(ctx context.Context, ident user.LoginIdentifier) (*user.User, error)
}

// Service resolves sessions and verifies credentials.
type Service struct {
	users  UserLookup
	secret []byte
	ttl    time.Duration
}

// NewService creates an auth service. secret signs session tokens; ttl is
// the session lifetime.
func NewService(users UserLookup, secret string, ttl time.Duration) *Service {
	return &Service{users: users, secret: []byte(secret), ttl: ttl}
}

// Claims is the session token payload.
type Claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// Login verifies the identifier/password pair and returns the user with a
// fresh session token. Accounts without a password hash cannot log in with
// a password.
func (s *Service) Login(ctx context.Context, ident user.LoginIdentifier, rawPassword string) (*user.User, string, error) {
	u, err := s.users.GetByIdentifier(ctx, ident)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("looking up user: %w", err)
	}
	if u.PasswordHash == nil || !password.Verify(rawPassword, *u.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}
	if u.Role == user.RoleBlocked {
		return nil, "", ErrBlocked
	}

	token, err := s.IssueToken(u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// IssueToken signs a session token for the given user id.
func (s *Service) IssueToken(userID int64) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// parseToken validates the signature and expiry and returns the claims.
func (s *Service) parseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrNoSession
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrNoSession
	}
	return claims, nil
}

// Resolve maps a session token to the caller's identity. The role comes
// from the user row, not the token, so the token carries no stale
// privileges. Blocked accounts resolve to ErrBlocked so the guard can
// answer Forbidden rather than Unauthenticated.
func (s *Service) Resolve(ctx context.Context, tokenStr string) (*Identity, error) {
	claims, err := s.parseToken(tokenStr)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("resolving session user: %w", err)
	}
	if u.Role == user.RoleBlocked {
		return nil, ErrBlocked
	}

	return &Identity{UserID: u.ID, Role: u.Role}, nil
}
