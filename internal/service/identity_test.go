package service

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/auth"
	"github.com/sakif/messenger/internal/model"
)

func TestBootstrap_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.identity.Bootstrap(ctx))

	admin, err := h.identity.SystemUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SystemUserID, admin.ID)
	assert.Equal(t, SystemUserDisplayName, admin.DisplayName)
	assert.True(t, admin.IsSystem())
}

func TestBootstrap_SystemUserCannotSignIn(t *testing.T) {
	h := newHarness(t)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	identity := NewIdentityService(h.store, h.tokens, auth.NewPasswordServiceForTest(), h.metrics, logger)

	for _, pw := range []string{"", "!", testPassword} {
		_, err := identity.SignIn(context.Background(), model.SystemUserID, pw)
		assert.ErrorIs(t, err, apperror.ErrUserNotAuthorized, "password %q", pw)
	}

	// A locked account is an ordinary rejection, not a server fault.
	assert.NotContains(t, logs.String(), "level=ERROR")
}

func TestRegister_ProvisionsSystemChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.register(t, "alice")
	assert.Equal(t, "alice", alice.ID)
	assert.Equal(t, "User alice", alice.DisplayName)
	assert.NotEqual(t, testPassword, alice.PasswordHash)

	chatIDs, err := h.store.ListChatIDsByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, chatIDs, 1)

	chat, err := h.store.GetChatByID(ctx, chatIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "System for alice", chat.DefaultName)

	members, err := h.store.ListMembers(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	assert.Equal(t, model.SystemUserID, members[0].UserID)
	assert.Equal(t, "System for alice", members[0].ChatDisplayName)
	assert.Equal(t, SystemUserDisplayName, members[0].MemberDisplayName)

	assert.Equal(t, "alice", members[1].UserID)
	assert.Equal(t, "System", members[1].ChatDisplayName)
	assert.Equal(t, "User alice", members[1].MemberDisplayName)
}

func TestRegister_Duplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.register(t, "alice")
	_, err := h.identity.Register(ctx, "alice", "Another Alice", "other password")
	require.ErrorIs(t, err, apperror.ErrUserAlreadyExists)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	// The failed attempt must not have provisioned a second system chat.
	chatIDs, err := h.store.ListChatIDsByUser(ctx, model.SystemUserID)
	require.NoError(t, err)
	assert.Len(t, chatIDs, 1)

	user, err := h.identity.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "User alice", user.DisplayName)
}

func TestRegister_TrimsNames(t *testing.T) {
	h := newHarness(t)

	user, err := h.identity.Register(context.Background(), "  bob ", "  Bob B.  ", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "bob", user.ID)
	assert.Equal(t, "Bob B.", user.DisplayName)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name        string
		userID      string
		displayName string
		password    string
		field       string
	}{
		{"empty id", "", "Alice", testPassword, "userId"},
		{"blank id", "   ", "Alice", testPassword, "userId"},
		{"id with space", "al ice", "Alice", testPassword, "userId"},
		{"id too long", strings.Repeat("a", MaxNameLength+1), "Alice", testPassword, "userId"},
		{"empty display name", "alice", "", testPassword, "displayName"},
		{"display name too long", "alice", strings.Repeat("é", MaxNameLength+1), testPassword, "displayName"},
		{"empty password", "alice", "Alice", "", "password"},
		{"password too long", "alice", "Alice", strings.Repeat("x", 73), "password"},
	}

	h := newHarness(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.identity.Register(context.Background(), tt.userID, tt.displayName, tt.password)
			require.ErrorIs(t, err, apperror.ErrValidation)

			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestRegister_NameAtLimit(t *testing.T) {
	h := newHarness(t)

	_, err := h.identity.Register(context.Background(),
		strings.Repeat("a", MaxNameLength), strings.Repeat("é", MaxNameLength), testPassword)
	assert.NoError(t, err)
}

func TestRegister_WithoutBootstrapLeavesNoUser(t *testing.T) {
	h := newUnbootstrappedHarness(t)
	ctx := context.Background()

	_, err := h.identity.Register(ctx, "alice", "Alice", testPassword)
	require.ErrorIs(t, err, errSystemUserMissing)
	assert.Equal(t, "internal_error", apperror.Code(err))

	_, err = h.store.GetUserByID(ctx, "alice")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestSignIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice")

	t.Run("unknown user", func(t *testing.T) {
		_, err := h.identity.SignIn(ctx, "nobody", testPassword)
		assert.ErrorIs(t, err, apperror.ErrUserNotFound)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := h.identity.SignIn(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, apperror.ErrUserNotAuthorized)
	})

	t.Run("success", func(t *testing.T) {
		res, err := h.identity.SignIn(ctx, "alice", testPassword)
		require.NoError(t, err)
		assert.Equal(t, "alice", res.User.ID)

		sub, err := h.tokens.ValidateAccess(res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "alice", sub)

		stored, err := h.store.GetRefreshToken(ctx, res.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "alice", stored.UserID)
	})
}

func TestSignIn_KeepsOtherSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice")

	first, err := h.identity.SignIn(ctx, "alice", testPassword)
	require.NoError(t, err)
	second, err := h.identity.SignIn(ctx, "alice", testPassword)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = h.identity.RotateRefreshToken(ctx, "alice", first.RefreshToken)
	assert.NoError(t, err)
	_, err = h.identity.RotateRefreshToken(ctx, "alice", second.RefreshToken)
	assert.NoError(t, err)
}

func TestRotateRefreshToken_InvalidatesPresentedToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice")

	session, err := h.identity.SignIn(ctx, "alice", testPassword)
	require.NoError(t, err)

	rotated, err := h.identity.RotateRefreshToken(ctx, "alice", session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, "alice", rotated.User.ID)

	_, err = h.identity.RotateRefreshToken(ctx, "alice", session.RefreshToken)
	assert.ErrorIs(t, err, apperror.ErrUserNotAuthorized)

	_, err = h.identity.RotateRefreshToken(ctx, "alice", rotated.RefreshToken)
	assert.NoError(t, err)
}

func TestRotateRefreshToken_Rejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice")
	h.register(t, "bob")

	bobSession, err := h.identity.SignIn(ctx, "bob", testPassword)
	require.NoError(t, err)
	aliceAccess, err := h.tokens.GenerateAccess("alice")
	require.NoError(t, err)
	unstored, err := h.tokens.GenerateRefresh("alice")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"another user's token", bobSession.RefreshToken},
		{"access token", aliceAccess},
		{"signed but never issued", unstored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.identity.RotateRefreshToken(ctx, "alice", tt.token)
			assert.ErrorIs(t, err, apperror.ErrUserNotAuthorized)
		})
	}

	// Bob's token survived alice's attempt to use it.
	_, err = h.identity.RotateRefreshToken(ctx, "bob", bobSession.RefreshToken)
	assert.NoError(t, err)
}

func TestRotateRefreshToken_ConcurrentSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice")

	session, err := h.identity.SignIn(ctx, "alice", testPassword)
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.identity.RotateRefreshToken(ctx, "alice", session.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperror.Code(err) == "user_not_authorized":
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, rejected)
}

func TestInvalidateRefreshToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice")
	h.register(t, "bob")

	keep, err := h.identity.SignIn(ctx, "alice", testPassword)
	require.NoError(t, err)
	drop, err := h.identity.SignIn(ctx, "alice", testPassword)
	require.NoError(t, err)
	bobs, err := h.identity.SignIn(ctx, "bob", testPassword)
	require.NoError(t, err)

	require.NoError(t, h.identity.InvalidateRefreshToken(ctx, "alice", drop.RefreshToken))

	_, err = h.identity.RotateRefreshToken(ctx, "alice", drop.RefreshToken)
	assert.ErrorIs(t, err, apperror.ErrUserNotAuthorized)
	assert.ErrorIs(t, h.identity.InvalidateRefreshToken(ctx, "alice", drop.RefreshToken), apperror.ErrUserNotAuthorized)
	assert.ErrorIs(t, h.identity.InvalidateRefreshToken(ctx, "alice", bobs.RefreshToken), apperror.ErrUserNotAuthorized)

	_, err = h.identity.RotateRefreshToken(ctx, "alice", keep.RefreshToken)
	assert.NoError(t, err)
	_, err = h.identity.RotateRefreshToken(ctx, "bob", bobs.RefreshToken)
	assert.NoError(t, err)
}

func TestSignOut_RevokesEverySession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice")
	h.register(t, "bob")

	var sessions []*AuthResult
	for range 3 {
		s, err := h.identity.SignIn(ctx, "alice", testPassword)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	bobs, err := h.identity.SignIn(ctx, "bob", testPassword)
	require.NoError(t, err)

	n, err := h.identity.SignOut(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, s := range sessions {
		_, err := h.identity.RotateRefreshToken(ctx, "alice", s.RefreshToken)
		assert.ErrorIs(t, err, apperror.ErrUserNotAuthorized)
	}
	_, err = h.identity.RotateRefreshToken(ctx, "bob", bobs.RefreshToken)
	assert.NoError(t, err)

	n, err = h.identity.SignOut(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResolveExpiredAccess(t *testing.T) {
	h := newHarness(t)

	access, err := h.tokens.GenerateAccess("alice")
	require.NoError(t, err)
	refresh, err := h.tokens.GenerateRefresh("alice")
	require.NoError(t, err)

	got, err := h.identity.ResolveExpiredAccess(access)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	_, err = h.identity.ResolveExpiredAccess(refresh)
	assert.ErrorIs(t, err, apperror.ErrUserNotAuthorized)
	_, err = h.identity.ResolveExpiredAccess("garbage")
	assert.ErrorIs(t, err, apperror.ErrUserNotAuthorized)
}

func TestGetUserAndFindUsersByName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "alice")
	h.register(t, "bob")

	_, err := h.identity.GetUser(ctx, "carol")
	assert.ErrorIs(t, err, apperror.ErrUserNotFound)

	users, err := h.identity.FindUsersByName(ctx, "USER")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].ID)
	assert.Equal(t, "bob", users[1].ID)

	all, err := h.identity.FindUsersByName(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3) // alice, bob and the system user
}
