package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/service"
)

// MessageHandler exposes posting, paging and deleting messages.
type MessageHandler struct {
	messaging *service.MessagingService
	logger    *slog.Logger
}

func NewMessageHandler(messaging *service.MessagingService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{messaging: messaging, logger: logger}
}

type postMessageRequest struct {
	Text string `json:"text"`
}

// HandlePost posts a message to a chat.
//
// HTTP: POST /v1/chats/{id}/messages
// REQUEST BODY: {"text": "hello"}
// RESPONSE: 201 {"messageId": 7, "memberId": "...", "text": "hello", "createdOn": "..."}
func (h *MessageHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	msg, err := h.messaging.PostMessage(r.Context(), r.PathValue("id"), req.Text, user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HandleList returns a chat's messages, optionally only those after a cursor.
//
// HTTP: GET /v1/chats/{id}/messages?after_id=42
//
// PAGINATION:
// Clients poll with the id of the newest message they hold. Omitting
// after_id (or sending 0) returns the whole history.
func (h *MessageHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var afterID int64
	if raw := r.URL.Query().Get("after_id"); raw != "" {
		afterID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, h.logger, apperror.ValidationFailed("after_id", "after_id must be an integer"))
			return
		}
	}

	messages, err := h.messaging.ListMessages(r.Context(), r.PathValue("id"), user, afterID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// HandleDelete deletes a message. Any member of the message's chat may do so.
//
// HTTP: DELETE /v1/messages/{id}
// RESPONSE: 204 (also when the message was already gone)
func (h *MessageHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, h.logger, apperror.ValidationFailed("id", "message id must be a positive integer"))
		return
	}

	if err := h.messaging.DeleteMessage(r.Context(), id, user); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
