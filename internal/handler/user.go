package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/messenger/internal/service"
)

// UserHandler serves the user directory. Every route requires a signed-in
// caller; the responses carry ids and display names only.
type UserHandler struct {
	identity *service.IdentityService
	logger   *slog.Logger
}

func NewUserHandler(identity *service.IdentityService, logger *slog.Logger) *UserHandler {
	return &UserHandler{identity: identity, logger: logger}
}

// HandleGet returns one user.
//
// HTTP: GET /v1/users/{id}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := h.identity.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleFind lists users whose display name contains ?name=, ignoring case.
//
// HTTP: GET /v1/users?name=ali
func (h *UserHandler) HandleFind(w http.ResponseWriter, r *http.Request) {
	users, err := h.identity.FindUsersByName(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleSystemUser returns the system user that authors invitations.
//
// HTTP: GET /v1/admin
func (h *UserHandler) HandleSystemUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.identity.SystemUser(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
