package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("chat", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("name", "name is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "ChatNotFound matches its kind",
			err:       ChatNotFound("c1"),
			target:    ErrChatNotFound,
			wantMatch: true,
		},
		{
			name:      "ChatNotFound matches its category",
			err:       ChatNotFound("c1"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "UserNotMember is forbidden",
			err:       UserNotMember("c1"),
			target:    ErrForbidden,
			wantMatch: true,
		},
		{
			name:      "WrongChatSecret is forbidden",
			err:       WrongChatSecret("c1"),
			target:    ErrForbidden,
			wantMatch: true,
		},
		{
			name:      "UserNotAuthorized is unauthorized",
			err:       UserNotAuthorized(),
			target:    ErrUnauthorized,
			wantMatch: true,
		},
		{
			name:      "UserAlreadyMember is a conflict",
			err:       UserAlreadyMember("c1"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "UserAlreadyMember is not UserAlreadyExists",
			err:       UserAlreadyMember("c1"),
			target:    ErrUserAlreadyExists,
			wantMatch: false,
		},
		{
			name:      "wrapped kind still matches",
			err:       fmt.Errorf("joining chat: %w", WrongChatSecret("c1")),
			target:    ErrWrongChatSecret,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("chat", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"kind", UserNotFound("bob"), "user_not_found"},
		{"wrapped kind", fmt.Errorf("x: %w", UserAlreadyMember("c1")), "user_already_member"},
		{"secret exists", SecretAlreadyExists("c1"), "secret_already_exists"},
		{"message exists", MessageAlreadyExists(7), "message_already_exists"},
		{"category only", NotFound("chat", "c1"), "not_found"},
		{"validation", ValidationFailed("afterId", "negative"), "validation_error"},
		{"plain error", errors.New("disk on fire"), "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("chat", "abc123"),
			wantMessage: "chat not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("name", "name is required"),
			wantMessage: "name is required",
		},
		{
			name:        "Conflict message includes resource and id",
			err:         Conflict("member", "abc123"),
			wantMessage: "member conflict with id abc123",
		},
		{
			name:        "UserNotAuthorized leaks nothing",
			err:         UserNotAuthorized(),
			wantMessage: "user not authorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("chat", "abc123")
	if unwrapped := err.Unwrap(); unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}

	kindErr := ChatNotFound("abc123")
	if unwrapped := kindErr.Unwrap(); unwrapped != ErrChatNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrChatNotFound)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("displayName", "display name is required")

	if err.Field != "displayName" {
		t.Errorf("Field = %q, want %q", err.Field, "displayName")
	}
}
