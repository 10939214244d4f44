package apperror

import (
	"errors"
	"fmt"
	"strings"
)

// Categories. The transport layer maps these to protocol statuses.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Kind is a stable, machine-readable domain outcome. Every Kind belongs to
// exactly one category, so errors.Is matches both the kind and its category:
//
//	errors.Is(err, ErrChatNotFound) // true
//	errors.Is(err, ErrNotFound)     // also true
type Kind struct {
	Code     string
	category error
}

func (k *Kind) Error() string {
	return strings.ReplaceAll(k.Code, "_", " ")
}

func (k *Kind) Unwrap() error {
	return k.category
}

func newKind(code string, category error) *Kind {
	return &Kind{Code: code, category: category}
}

// Domain kinds surfaced by the core services.
var (
	ErrUserNotFound         error = newKind("user_not_found", ErrNotFound)
	ErrUserAlreadyExists    error = newKind("user_already_exists", ErrConflict)
	ErrUserNotAuthorized    error = newKind("user_not_authorized", ErrUnauthorized)
	ErrUserNotMember        error = newKind("user_not_member", ErrForbidden)
	ErrUserAlreadyMember    error = newKind("user_already_member", ErrConflict)
	ErrChatNotFound         error = newKind("chat_not_found", ErrNotFound)
	ErrWrongChatSecret      error = newKind("wrong_chat_secret", ErrForbidden)
	ErrSecretAlreadyExists  error = newKind("secret_already_exists", ErrConflict)
	ErrMessageAlreadyExists error = newKind("message_already_exists", ErrConflict)
)

type AppError struct {
	Err     error  // kind or category
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Code returns the stable code for err: the domain kind when there is one,
// otherwise the category name. Unknown errors are "internal_error".
func Code(err error) string {
	var k *Kind
	if errors.As(err, &k) {
		return k.Code
	}
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	}
	return "internal_error"
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized returns an AppError for a missing or invalid credential.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func UserNotFound(userID string) *AppError {
	return &AppError{
		Err:     ErrUserNotFound,
		Message: fmt.Sprintf("user %s not found", userID),
	}
}

func UserAlreadyExists(userID string) *AppError {
	return &AppError{
		Err:     ErrUserAlreadyExists,
		Message: fmt.Sprintf("user %s already exists", userID),
	}
}

// UserNotAuthorized deliberately carries no detail: a bad password, an
// unknown token and a token owned by someone else all look the same.
func UserNotAuthorized() *AppError {
	return &AppError{
		Err:     ErrUserNotAuthorized,
		Message: "user not authorized",
	}
}

func UserNotMember(chatID string) *AppError {
	return &AppError{
		Err:     ErrUserNotMember,
		Message: fmt.Sprintf("user is not a member of chat %s", chatID),
	}
}

func UserAlreadyMember(chatID string) *AppError {
	return &AppError{
		Err:     ErrUserAlreadyMember,
		Message: fmt.Sprintf("user is already a member of chat %s", chatID),
	}
}

func ChatNotFound(chatID string) *AppError {
	return &AppError{
		Err:     ErrChatNotFound,
		Message: fmt.Sprintf("chat %s not found", chatID),
	}
}

func WrongChatSecret(chatID string) *AppError {
	return &AppError{
		Err:     ErrWrongChatSecret,
		Message: fmt.Sprintf("wrong secret for chat %s", chatID),
	}
}

func SecretAlreadyExists(chatID string) *AppError {
	return &AppError{
		Err:     ErrSecretAlreadyExists,
		Message: fmt.Sprintf("chat %s already has a secret", chatID),
	}
}

func MessageAlreadyExists(messageID int64) *AppError {
	return &AppError{
		Err:     ErrMessageAlreadyExists,
		Message: fmt.Sprintf("message %d already exists", messageID),
	}
}
