package service

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/auth"
)

// Validation constants.
// Defining these as constants (not magic numbers in code) makes them:
// - Easy to find and change
// - Referenceable in error messages
const (
	MaxNameLength    = 100  // user IDs, display names, chat names
	MaxMessageLength = 1024 // characters, not bytes
)

// validateName trims v and checks it is 1..MaxNameLength characters.
func validateName(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", apperror.ValidationFailed(field, field+" is required")
	}
	if utf8.RuneCountInString(v) > MaxNameLength {
		return "", apperror.ValidationFailed(field,
			fmt.Sprintf("%s must be %d characters or less", field, MaxNameLength))
	}
	return v, nil
}

// validateUserID is validateName plus "no whitespace": user IDs appear in
// URLs and invitation texts.
func validateUserID(v string) (string, error) {
	v, err := validateName("userId", v)
	if err != nil {
		return "", err
	}
	if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
		return "", apperror.ValidationFailed("userId", "userId must not contain whitespace")
	}
	return v, nil
}

func validatePassword(p string) error {
	if p == "" {
		return apperror.ValidationFailed("password", "password is required")
	}
	if len(p) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}
	return nil
}

// validateMessageText checks length only; message text is kept verbatim,
// leading and trailing whitespace included.
func validateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return apperror.ValidationFailed("text", "message text is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return apperror.ValidationFailed("text",
			fmt.Sprintf("message text must be %d characters or less", MaxMessageLength))
	}
	return nil
}
