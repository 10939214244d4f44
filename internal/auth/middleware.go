package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. If you use a plain string like
// context.WithValue(ctx, "user", u), ANY package that knows the string "user"
// can read or shadow your value. Using a package-private type prevents
// collisions.
type contextKey string

const userKey contextKey = "user"

// UserLookup resolves a user ID to the stored user. The identity service
// satisfies it.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the access token from the Authorization header, validates it, and
// loads the user it names. A valid token for a user that no longer exists is
// rejected too: authorization is always re-derived from current state.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware is a function that takes an http.Handler and returns a new
// http.Handler. The new handler "wraps" the original:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... do stuff before the handler ...
//	        next.ServeHTTP(w, r)
//	        // ... do stuff after the handler ...
//	    })
//	}
func RequireAuth(tokens *TokenService, users UserLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			userID, err := tokens.ValidateAccess(raw)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					writeUnauthorized(w, "access token expired")
					return
				}
				writeUnauthorized(w, "valid authentication required")
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				if errors.Is(err, apperror.ErrNotFound) {
					writeUnauthorized(w, "valid authentication required")
					return
				}
				logger.Error("loading authenticated user",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal_error","message":"an unexpected error occurred"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively, as RFC 6750 allows.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext retrieves the authenticated user from the request context.
//
// Usage in handlers:
//
//	user, ok := auth.UserFromContext(r.Context())
//	if !ok {
//	    // route is not behind RequireAuth
//	}
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="messenger"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"` + message + `"}`))
}
