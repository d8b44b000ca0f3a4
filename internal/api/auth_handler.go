package api

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/classgate/classgate/internal/auth"
	"github.com/classgate/classgate/internal/invite"
	"github.com/classgate/classgate/internal/metrics"
	"github.com/classgate/classgate/internal/signup"
	"github.com/classgate/classgate/internal/user"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

// authHandler groups registration, login and profile handlers.
type authHandler struct {
	signup  *signup.Service
	auth    *auth.Service
	users   *user.Store
	metrics *metrics.Metrics
}

func newAuthHandler(signupSvc *signup.Service, authSvc *auth.Service, users *user.Store, m *metrics.Metrics) *authHandler {
	return &authHandler{signup: signupSvc, auth: authSvc, users: users, metrics: m}
}

type userView struct {
	ID       int64     `json:"id"`
	Username *string   `json:"username"`
	Phone    *string   `json:"phone"`
	Nickname *string   `json:"nickname"`
	Role     user.Role `json:"role"`
}

func viewOf(u *user.User) userView {
	return userView{ID: u.ID, Username: u.Username, Phone: u.Phone, Nickname: u.Nickname, Role: u.Role}
}

// Register handles POST /api/v1/auth/register.
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string `json:"username"`
		Password   string `json:"password"`
		Nickname   string `json:"nickname"`
		InviteCode string `json:"inviteCode"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "failed to parse request body")
		return
	}

	if !usernamePattern.MatchString(req.Username) {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "username must be 3-32 characters of letters, digits, underscore or hyphen")
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 72 {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "password must be 8-72 characters")
		return
	}
	if len(req.Nickname) > 32 {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "nickname must be at most 32 characters")
		return
	}
	if req.InviteCode != "" && (len(req.InviteCode) < 4 || len(req.InviteCode) > 64) {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invite code must be 4-64 characters")
		return
	}

	u, err := h.signup.Register(r.Context(), signup.RegisterInput{
		Identifier: user.Username(req.Username),
		Password:   req.Password,
		Nickname:   req.Nickname,
		InviteCode: req.InviteCode,
	})
	if err != nil {
		h.metrics.IncAuthFailure("register")
		writeRegisterError(w, h.metrics, err)
		return
	}

	h.metrics.IncAuthSuccess("register")
	if req.InviteCode != "" {
		h.metrics.IncRedeemed("success")
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"user":    viewOf(u),
	})
}

func writeRegisterError(w http.ResponseWriter, m *metrics.Metrics, err error) {
	switch {
	case errors.Is(err, user.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, "username already exists")
	case errors.Is(err, invite.ErrNotFound):
		m.IncRedeemed("not_found")
		writeError(w, http.StatusConflict, codeInviteInvalid, "invite code does not exist")
	case errors.Is(err, invite.ErrExpired):
		m.IncRedeemed("expired")
		writeError(w, http.StatusConflict, codeInviteExpired, "invite code has expired")
	case errors.Is(err, invite.ErrExhausted):
		m.IncRedeemed("exhausted")
		writeError(w, http.StatusConflict, codeInviteExhausted, "invite code has no remaining uses")
	case errors.Is(err, invite.ErrAlreadyUsed):
		m.IncRedeemed("already_used")
		writeError(w, http.StatusConflict, codeAlreadyStudent, "invite code already used by this account")
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "registration failed")
	}
}

// Login handles POST /api/v1/auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "failed to parse request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "username and password are required")
		return
	}

	u, token, err := h.auth.Login(r.Context(), user.Username(req.Username), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrBlocked):
			h.metrics.IncAuthFailure("login")
			writeError(w, http.StatusForbidden, codeForbidden, "account is blocked")
		case errors.Is(err, auth.ErrInvalidCredentials):
			h.metrics.IncAuthFailure("login")
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid username or password")
		default:
			writeError(w, http.StatusInternalServerError, codeInternalError, "login failed")
		}
		return
	}

	h.metrics.IncAuthSuccess("login")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  viewOf(u),
	})
}

// Me handles GET /api/v1/auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "not authenticated")
		return
	}

	u, err := h.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, viewOf(u))
}

// UpdateProfile handles PUT /api/v1/auth/me. Only the display nickname is
// editable; the login identifier and role never change through this route.
func (h *authHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "not authenticated")
		return
	}

	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "failed to parse request body")
		return
	}
	if len(req.Nickname) > 32 {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "nickname must be at most 32 characters")
		return
	}

	if err := h.users.UpdateNickname(r.Context(), id.UserID, req.Nickname); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "user does not exist")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to update profile")
		return
	}

	u, err := h.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, viewOf(u))
}
