package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/classgate/classgate/internal/auth"
	"github.com/classgate/classgate/internal/invite"
	"github.com/classgate/classgate/internal/metrics"
	"github.com/classgate/classgate/internal/signup"
	"github.com/classgate/classgate/internal/user"
)

// invitesHandler groups invite ledger HTTP handlers.
type invitesHandler struct {
	store   *invite.Store
	signup  *signup.Service
	metrics *metrics.Metrics
}

func newInvitesHandler(store *invite.Store, signupSvc *signup.Service, m *metrics.Metrics) *invitesHandler {
	return &invitesHandler{store: store, signup: signupSvc, metrics: m}
}

// Verify handles POST /api/v1/invite/verify: a logged-in "registered"
// account redeems a code to gain the granted role.
func (h *invitesHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "not authenticated")
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "failed to parse request body")
		return
	}
	if len(req.Code) < 4 || len(req.Code) > 64 {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invite code must be 4-64 characters")
		return
	}

	newRole, err := h.signup.Upgrade(r.Context(), id.UserID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			h.metrics.IncAuthFailure("upgrade")
			writeError(w, http.StatusConflict, codeNotRegistered, "account does not exist")
		case errors.Is(err, signup.ErrNotEligible):
			h.metrics.IncAuthFailure("upgrade")
			writeError(w, http.StatusConflict, codeAlreadyStudent, "account does not need an invite upgrade")
		case errors.Is(err, invite.ErrNotFound):
			h.metrics.IncRedeemed("not_found")
			writeError(w, http.StatusConflict, codeInviteInvalid, "invite code does not exist")
		case errors.Is(err, invite.ErrExpired):
			h.metrics.IncRedeemed("expired")
			writeError(w, http.StatusConflict, codeInviteExpired, "invite code has expired")
		case errors.Is(err, invite.ErrExhausted):
			h.metrics.IncRedeemed("exhausted")
			writeError(w, http.StatusConflict, codeInviteExhausted, "invite code has no remaining uses")
		case errors.Is(err, invite.ErrAlreadyUsed):
			h.metrics.IncRedeemed("already_used")
			writeError(w, http.StatusConflict, codeAlreadyStudent, "invite code already used by this account")
		default:
			writeError(w, http.StatusInternalServerError, codeInternalError, "invite verification failed")
		}
		return
	}

	h.metrics.IncRedeemed("success")
	h.metrics.IncAuthSuccess("upgrade")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"newRole": newRole,
	})
}

// List handles GET /api/v1/admin/invites.
func (h *invitesHandler) List(w http.ResponseWriter, r *http.Request) {
	var status invite.Status
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := invite.ParseStatus(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "status must be active, expired or exhausted")
			return
		}
		status = parsed
	}

	invites, err := h.store.List(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to list invite codes")
		return
	}
	if invites == nil {
		invites = []*invite.InviteCode{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"invites": invites,
	})
}

// Get handles GET /api/v1/admin/invites/{id}. The response carries the
// derived status so an admin can tell whether the code is still redeemable.
func (h *invitesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invite id must be a positive integer")
		return
	}

	c, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, invite.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "invite code does not exist")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load invite code")
		return
	}
	c.Status = c.StatusAt(time.Now())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"invite":  c,
	})
}

// Create handles POST /api/v1/admin/invites.
func (h *invitesHandler) Create(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "not authenticated")
		return
	}

	var req struct {
		Code       string  `json:"code"`
		TargetRole string  `json:"targetRole"`
		MaxUses    *int    `json:"maxUses"`
		ExpiresAt  *string `json:"expiresAt"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "failed to parse request body")
		return
	}

	if req.Code != "" && !invite.ValidCustomCode(req.Code) {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "custom code must be 4-64 characters of A-Z, 0-9, underscore or hyphen")
		return
	}

	targetRole := user.RoleStudent
	if req.TargetRole != "" {
		parsed, err := user.ParseRole(req.TargetRole)
		if err != nil || (parsed != user.RoleStudent && parsed != user.RoleTeacher) {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "targetRole must be student or teacher")
			return
		}
		targetRole = parsed
	}

	maxUses := 0
	if req.MaxUses != nil {
		if *req.MaxUses < 0 || *req.MaxUses > 10000 {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "maxUses must be between 0 and 10000")
			return
		}
		maxUses = *req.MaxUses
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil && *req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "expiresAt must be an RFC 3339 timestamp")
			return
		}
		expiresAt = &t
	}

	created, err := h.store.Issue(r.Context(), invite.IssueInput{
		Code:       req.Code,
		TargetRole: targetRole,
		MaxUses:    maxUses,
		ExpiresAt:  expiresAt,
		CreatedBy:  id.UserID,
	})
	if err != nil {
		if errors.Is(err, invite.ErrCodeTaken) {
			writeError(w, http.StatusConflict, codeConflict, "invite code already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to create invite code")
		return
	}

	h.metrics.InvitesIssuedTotal.Inc()
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"invite":  created,
	})
}

// Revoke handles DELETE /api/v1/admin/invites/{id}. The id must parse as a
// positive integer before any store access; revocation itself is a single
// conditional mutation judged by rows affected.
func (h *invitesHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invite id must be a positive integer")
		return
	}

	if err := h.store.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, invite.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "invite code does not exist")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to revoke invite code")
		return
	}

	h.metrics.InvitesRevokedTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}
