package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/auth"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/service"
)

// AuthHandler manages registration and the session lifecycle.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister   → create a user (and, inside the service, their system chat)
//   - HandleSignIn     → check the password, issue an access/refresh pair
//   - HandleRefresh    → rotate a refresh token, issue a new pair
//   - HandleSignOut    → revoke every refresh token of the caller
//   - HandleInvalidate → revoke one refresh token of the caller
//   - HandleMe         → return the caller's profile
//
// TOKENS ARE RETURNED IN THE BODY:
// Clients are apps, not browsers, so there are no cookies. The access token
// goes in "Authorization: Bearer ..." on later requests; the refresh token
// is only ever sent back to /v1/me/refresh or /v1/me/invalidate.
type AuthHandler struct {
	identity *service.IdentityService
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(identity *service.IdentityService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{identity: identity, logger: logger}
}

type registerRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type signInRequest struct {
	Password string `json:"password"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenResponse is returned by sign-in and refresh.
type TokenResponse struct {
	User         *model.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	TokenType    string      `json:"tokenType"`
	ExpiresIn    int64       `json:"expiresIn"` // access token lifetime in seconds
}

func newTokenResponse(res *service.AuthResult) TokenResponse {
	return TokenResponse{
		User:         res.User,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(res.ExpiresIn / time.Second),
	}
}

// HandleRegister creates a user.
//
// HTTP: POST /v1/users
// REQUEST BODY: {"userId": "alice", "displayName": "Alice", "password": "..."}
// RESPONSE: 201 {"userId": "alice", "displayName": "Alice"}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.identity.Register(r.Context(), req.UserID, req.DisplayName, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// HandleSignIn checks a password and starts a new session.
//
// HTTP: POST /v1/users/{id}/signin
// REQUEST BODY: {"password": "..."}
// RESPONSE: 200 TokenResponse
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.identity.SignIn(r.Context(), r.PathValue("id"), req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(res))
}

// HandleRefresh rotates a refresh token.
//
// HTTP: POST /v1/me/refresh
// HEADERS: Authorization: Bearer <access token, possibly expired>
// REQUEST BODY: {"refreshToken": "..."}
// RESPONSE: 200 TokenResponse
//
// This route sits OUTSIDE RequireAuth: the whole point is that the access
// token may already have expired. The access token still names the user, and
// the refresh token must belong to that same user.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	access, ok := auth.BearerToken(r)
	if !ok {
		writeError(w, h.logger, apperror.UserNotAuthorized())
		return
	}
	userID, err := h.identity.ResolveExpiredAccess(access)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req refreshTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.identity.RotateRefreshToken(r.Context(), userID, req.RefreshToken)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(res))
}

// HandleSignOut revokes all of the caller's refresh tokens.
//
// HTTP: POST /v1/me/signout
// RESPONSE: 200 {"revoked": 3}
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	n, err := h.identity.SignOut(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// HandleInvalidate revokes a single refresh token of the caller.
//
// HTTP: POST /v1/me/invalidate
// REQUEST BODY: {"refreshToken": "..."}
// RESPONSE: 204
func (h *AuthHandler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req refreshTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.identity.InvalidateRefreshToken(r.Context(), user.ID, req.RefreshToken); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the authenticated user.
//
// HTTP: GET /v1/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
