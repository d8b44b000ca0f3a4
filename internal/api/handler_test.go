package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/classgate/classgate/internal/auth"
	"github.com/classgate/classgate/internal/user"
)

// fakeUserLookup resolves sessions against a fixed set of users.
type fakeUserLookup struct {
	users map[int64]*user.User
}

func (f *fakeUserLookup) GetByID(_ context.Context, id int64) (*user.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserLookup) GetByIdentifier(_ context.Context, ident user.LoginIdentifier) (*user.User, error) {
	for _, u := range f.users {
		if u.Identifier() == ident {
			return u, nil
		}
	}
	return nil, user.ErrNotFound
}

const testSecret = "handler-test-secret"

// newTestRouter builds a router whose auth service resolves against fixed
// users. Store-backed dependencies are left nil: the tests below only
// exercise paths that must reject before any store access.
func newTestRouter(t *testing.T) (http.Handler, *auth.Service) {
	t.Helper()

	adminName, studentName, registeredName := "root", "stu", "reg"
	lookup := &fakeUserLookup{users: map[int64]*user.User{
		1: {ID: 1, Username: &adminName, Role: user.RoleAdmin},
		2: {ID: 2, Username: &studentName, Role: user.RoleStudent},
		3: {ID: 3, Username: &registeredName, Role: user.RoleRegistered},
	}}
	svc := auth.NewService(lookup, testSecret, time.Hour)

	handler := NewRouter(RouterDeps{
		Auth:           svc,
		AllowedOrigins: []string{"*"},
	})
	return handler, svc
}

func bearerFor(t *testing.T, svc *auth.Service, userID int64) string {
	t.Helper()
	token, err := svc.IssueToken(userID)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + token
}

func TestHealthCheck(t *testing.T) {
	handler, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
	if body["database"] != "connected" {
		t.Errorf("expected database=connected, got %q", body["database"])
	}
}

func TestRevokeInviteGuard(t *testing.T) {
	handler, svc := newTestRouter(t)

	tests := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unauthenticated",
			path:       "/api/v1/admin/invites/1",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "student forbidden",
			path:       "/api/v1/admin/invites/1",
			authHeader: bearerFor(t, svc, 2),
			wantStatus: http.StatusForbidden,
			wantCode:   "FORBIDDEN",
		},
		{
			name:       "registered forbidden",
			path:       "/api/v1/admin/invites/1",
			authHeader: bearerFor(t, svc, 3),
			wantStatus: http.StatusForbidden,
			wantCode:   "FORBIDDEN",
		},
		{
			name:       "admin with non-numeric id",
			path:       "/api/v1/admin/invites/abc",
			authHeader: bearerFor(t, svc, 1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name:       "admin with zero id",
			path:       "/api/v1/admin/invites/0",
			authHeader: bearerFor(t, svc, 1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name:       "admin with negative id",
			path:       "/api/v1/admin/invites/-5",
			authHeader: bearerFor(t, svc, 1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			assertErrorEnvelope(t, rec, tt.wantCode)
		})
	}
}

func TestInviteDetailGuard(t *testing.T) {
	handler, svc := newTestRouter(t)

	tests := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unauthenticated",
			path:       "/api/v1/admin/invites/1",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "student forbidden",
			path:       "/api/v1/admin/invites/1",
			authHeader: bearerFor(t, svc, 2),
			wantStatus: http.StatusForbidden,
			wantCode:   "FORBIDDEN",
		},
		{
			name:       "admin with non-numeric id",
			path:       "/api/v1/admin/invites/xyz",
			authHeader: bearerFor(t, svc, 1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name:       "admin with zero id",
			path:       "/api/v1/admin/invites/0",
			authHeader: bearerFor(t, svc, 1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			assertErrorEnvelope(t, rec, tt.wantCode)
		})
	}
}

func TestUpdateProfileValidation(t *testing.T) {
	handler, svc := newTestRouter(t)

	tests := []struct {
		name       string
		body       string
		authHeader string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unauthenticated",
			body:       `{"nickname":"Alice"}`,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "malformed json",
			body:       `{`,
			authHeader: bearerFor(t, svc, 3),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name:       "nickname too long",
			body:       `{"nickname":"` + strings.Repeat("a", 33) + `"}`,
			authHeader: bearerFor(t, svc, 3),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/auth/me", strings.NewReader(tt.body))
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			assertErrorEnvelope(t, rec, tt.wantCode)
		})
	}
}

func TestRegisterValidation(t *testing.T) {
	handler, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"username too short", `{"username":"ab","password":"longenough"}`},
		{"username bad characters", `{"username":"has space","password":"longenough"}`},
		{"password too short", `{"username":"alice","password":"short"}`},
		{"invite code too short", `{"username":"alice","password":"longenough","inviteCode":"AB"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
			assertErrorEnvelope(t, rec, "INVALID_INPUT")
		})
	}
}

func TestLoginValidation(t *testing.T) {
	handler, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"","password":""}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	assertErrorEnvelope(t, rec, "INVALID_INPUT")
}

func TestVerifyInviteValidation(t *testing.T) {
	handler, svc := newTestRouter(t)

	// Too-short code is rejected before the signup service runs.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invite/verify", strings.NewReader(`{"code":"AB"}`))
	req.Header.Set("Authorization", bearerFor(t, svc, 3))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	assertErrorEnvelope(t, rec, "INVALID_INPUT")
}

func TestVerifyInviteRequiresSession(t *testing.T) {
	handler, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invite/verify", strings.NewReader(`{"code":"INV-ABCDEFGHJK"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	assertErrorEnvelope(t, rec, "UNAUTHORIZED")
}

func TestUpdateRoleValidation(t *testing.T) {
	handler, svc := newTestRouter(t)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "bad id",
			path:       "/api/v1/admin/users/xyz/role",
			body:       `{"role":"student"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name:       "unknown role",
			path:       "/api/v1/admin/users/2/role",
			body:       `{"role":"superuser"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name:       "self demotion",
			path:       "/api/v1/admin/users/1/role",
			body:       `{"role":"student"}`,
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Authorization", bearerFor(t, svc, 1))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			assertErrorEnvelope(t, rec, tt.wantCode)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var summary map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode metrics summary: %v", err)
	}
	for _, field := range []string{"http", "auth", "invites", "rateLimit", "db", "server"} {
		if _, ok := summary[field]; !ok {
			t.Errorf("metrics summary missing field %q", field)
		}
	}
}

func assertErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder, code string) {
	t.Helper()

	ct := rec.Header().Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var resp errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if resp.Error.Code != code {
		t.Errorf("expected error code %q, got %q", code, resp.Error.Code)
	}
	if resp.Error.Message == "" {
		t.Error("expected non-empty error message")
	}
}
