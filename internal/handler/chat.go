package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/messenger/internal/service"
)

// ChatHandler exposes the membership operations. The chat id always comes
// from the URL; the acting user always comes from the access token.
type ChatHandler struct {
	membership *service.MembershipService
	logger     *slog.Logger
}

func NewChatHandler(membership *service.MembershipService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{membership: membership, logger: logger}
}

type createChatRequest struct {
	DefaultName string `json:"defaultName"`
}

type joinChatRequest struct {
	Secret      string `json:"secret"`
	DefaultName string `json:"defaultName,omitempty"` // optional local name
}

type inviteRequest struct {
	UserID string `json:"userId"`
}

// HandleCreate creates a chat with the caller as its first member.
//
// HTTP: POST /v1/chats
// REQUEST BODY: {"defaultName": "Weekend plans"}
// RESPONSE: 201 {"chatId": "...", "defaultName": "Weekend plans"}
//
// The secret is NOT in the response. It reaches other users only through
// an invitation.
func (h *ChatHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req createChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	chat, err := h.membership.CreateChat(r.Context(), req.DefaultName, user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// HandleListMine lists the caller's chats, oldest membership first.
//
// HTTP: GET /v1/me/chats
func (h *ChatHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	chats, err := h.membership.ListUserChats(r.Context(), user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// HandleJoin joins a chat with its secret.
//
// HTTP: POST /v1/chats/{id}/join
// REQUEST BODY: {"secret": "...", "defaultName": "optional local name"}
// RESPONSE: 201 Member
func (h *ChatHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req joinChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	member, err := h.membership.JoinChat(r.Context(), r.PathValue("id"), req.Secret, user, req.DefaultName)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

// HandleInvite sends another user the chat's secret via their system chat.
//
// HTTP: POST /v1/chats/{id}/invite
// REQUEST BODY: {"userId": "bob"}
// RESPONSE: 204
func (h *ChatHandler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if _, err := h.membership.InviteToChat(r.Context(), req.UserID, r.PathValue("id"), user); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLeave removes the caller from a chat.
//
// HTTP: POST /v1/chats/{id}/leave
// RESPONSE: 204
func (h *ChatHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.membership.LeaveChat(r.Context(), r.PathValue("id"), user); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMembers lists a chat's members. Members only.
//
// HTTP: GET /v1/chats/{id}/members
func (h *ChatHandler) HandleMembers(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	members, err := h.membership.ListChatMembers(r.Context(), r.PathValue("id"), user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}
