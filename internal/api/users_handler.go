package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/classgate/classgate/internal/auth"
	"github.com/classgate/classgate/internal/user"
)

// usersHandler groups admin user management handlers.
type usersHandler struct {
	store *user.Store
}

func newUsersHandler(store *user.Store) *usersHandler {
	return &usersHandler{store: store}
}

// List handles GET /api/v1/admin/users.
func (h *usersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to list users")
		return
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, viewOf(u))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"users":   views,
	})
}

// UpdateRole handles PUT /api/v1/admin/users/{id}/role.
func (h *usersHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "user id must be a positive integer")
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "failed to parse request body")
		return
	}

	role, err := user.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "role is not a member of the role enumeration")
		return
	}

	// An admin changing their own role could lock every admin out.
	if caller := auth.IdentityFromContext(r.Context()); caller != nil && caller.UserID == id {
		writeError(w, http.StatusConflict, codeConflict, "cannot change your own role")
		return
	}

	if err := h.store.UpdateRole(r.Context(), id, role); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "user does not exist")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to update role")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}
