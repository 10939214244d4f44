// Package auth provides token signing, password hashing and the bearer-token
// middleware for the messenger API.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. POST /v1/users/{id}/signin with a password → access token + refresh token
//  2. Every API call sends "Authorization: Bearer <access token>"
//  3. When the access token expires, POST /v1/me/refresh with the expired
//     access token AND the refresh token → a brand-new pair; the old refresh
//     token is deleted in the same transaction
//  4. POST /v1/me/signout deletes every refresh token of the user
//
// TWO KINDS, ONE FORMAT:
// Both tokens are HS256 JWTs. A "kind" claim tells them apart so an access
// token can never be presented where a refresh token is expected (or the
// other way round). Access tokens are stateless: the server never stores
// them. Refresh tokens are stored, and the stored row is what makes them
// valid. A perfectly signed refresh token whose row is gone is rejected.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims (data) → {"sub":"alice","kind":"access","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "messenger"

// TokenKind is the value of the "kind" claim.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

var (
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrInvalidToken covers everything else: bad signature, wrong kind,
	// wrong issuer, missing subject.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret key used to sign and verify tokens, and the
// lifetimes of the two token kinds.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenService creates a TokenService with the given secret and lifetimes.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// claims is the JWT payload. It embeds jwt.RegisteredClaims which includes
// standard fields like Issuer, Subject, ExpiresAt, IssuedAt and ID ("jti").
type claims struct {
	Kind TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// AccessTTL reports how long a freshly issued access token lives.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// GenerateAccess signs a short-lived access token for userID.
func (s *TokenService) GenerateAccess(userID string) (string, error) {
	return s.generate(userID, KindAccess, s.accessTTL, "")
}

// GenerateRefresh signs a refresh token for userID.
//
// WHY A RANDOM jti?
// JWT timestamps have one-second resolution. Without a unique ID, two
// sign-ins by the same user in the same second would produce byte-identical
// refresh tokens, and the second INSERT would collide with the first.
func (s *TokenService) GenerateRefresh(userID string) (string, error) {
	return s.generate(userID, KindRefresh, s.refreshTTL, uuid.NewString())
}

func (s *TokenService) generate(userID string, kind TokenKind, ttl time.Duration, id string) (string, error) {
	now := time.Now()

	c := claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	// jwt.NewWithClaims creates an unsigned token with the given algorithm.
	// SignedString(key) signs it and returns the complete JWT string.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// ValidateAccess returns the user ID of a valid, unexpired access token.
func (s *TokenService) ValidateAccess(tokenStr string) (string, error) {
	return s.validate(tokenStr, KindAccess)
}

// ValidateRefresh checks the signature, kind and expiry of a refresh token.
// It says nothing about whether the token is still stored; that is the
// identity service's job.
func (s *TokenService) ValidateRefresh(tokenStr string) (string, error) {
	return s.validate(tokenStr, KindRefresh)
}

// ValidateExpiredAccess accepts an access token that has expired, as long as
// it expired less than one refresh lifetime ago. The refresh endpoint uses it
// to learn who is asking: by the time a client needs a new pair its access
// token is, by definition, usually expired.
func (s *TokenService) ValidateExpiredAccess(tokenStr string) (string, error) {
	return s.validate(tokenStr, KindAccess, jwt.WithLeeway(s.refreshTTL))
}

// validate parses and verifies a JWT string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired (ExpiresAt is in the future, give or take leeway)
//   - Issuer matches "messenger" (prevents tokens from other apps)
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
//
// and then by us: the kind claim matches and there is a subject.
func (s *TokenService) validate(tokenStr string, want TokenKind, extra ...jwt.ParserOption) (string, error) {
	opts := append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	}, extra...)

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			// Reject tokens that aren't signed with HMAC
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: unreadable claims", ErrInvalidToken)
	}
	if c.Kind != want {
		return "", fmt.Errorf("%w: got a %q token, want %q", ErrInvalidToken, c.Kind, want)
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return c.Subject, nil
}
