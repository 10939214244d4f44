// Package repotest holds the behavioural tests every repository.Store
// implementation must pass. Backends call Run from their own _test.go files
// so memory, sqlite and postgres are held to exactly the same contract.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository"
)

// Factory returns a fresh, empty store. It should register its own cleanup.
type Factory func(t *testing.T) repository.Store

// Run executes the whole contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("FindUsersByName", func(t *testing.T) { testFindUsersByName(t, newStore(t)) })
	t.Run("ChatsAndSecrets", func(t *testing.T) { testChatsAndSecrets(t, newStore(t)) })
	t.Run("Members", func(t *testing.T) { testMembers(t, newStore(t)) })
	t.Run("ConcurrentAddMember", func(t *testing.T) { testConcurrentAddMember(t, newStore(t)) })
	t.Run("CommonChats", func(t *testing.T) { testCommonChats(t, newStore(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("MessagesOfFormerMembers", func(t *testing.T) { testMessagesOfFormerMembers(t, newStore(t)) })
	t.Run("RefreshTokens", func(t *testing.T) { testRefreshTokens(t, newStore(t)) })
	t.Run("ConcurrentTokenDelete", func(t *testing.T) { testConcurrentTokenDelete(t, newStore(t)) })
	t.Run("AtomicCommit", func(t *testing.T) { testAtomicCommit(t, newStore(t)) })
	t.Run("AtomicRollback", func(t *testing.T) { testAtomicRollback(t, newStore(t)) })
}

// =========================================================================
// HELPERS
// =========================================================================

func mustUser(t *testing.T, s repository.Store, id, name string) *model.User {
	t.Helper()
	u := &model.User{ID: id, DisplayName: name, PasswordHash: "hash-" + id}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func mustChat(t *testing.T, s repository.Store, name string) *model.Chat {
	t.Helper()
	c := &model.Chat{DefaultName: name}
	require.NoError(t, s.CreateChat(context.Background(), c))
	require.NotEmpty(t, c.ID)
	return c
}

func mustMember(t *testing.T, s repository.Store, chatID, userID string) *model.Member {
	t.Helper()
	m := &model.Member{
		ChatID:            chatID,
		UserID:            userID,
		ChatDisplayName:   "chat of " + userID,
		MemberDisplayName: userID,
	}
	require.NoError(t, s.AddMember(context.Background(), m))
	require.NotEmpty(t, m.ID)
	return m
}

func mustMessage(t *testing.T, s repository.Store, memberID, text string) *model.Message {
	t.Helper()
	msg := &model.Message{MemberID: memberID, Text: text}
	require.NoError(t, s.CreateMessage(context.Background(), msg))
	return msg
}

func messageIDs(msgs []model.Message) []int64 {
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

// =========================================================================
// USERS
// =========================================================================

func testUsers(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustUser(t, s, "alice", "Alice Liddell")

	got, err := s.GetUserByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", got.DisplayName)
	assert.Equal(t, "hash-alice", got.PasswordHash)

	err = s.CreateUser(ctx, &model.User{ID: "alice", DisplayName: "Impostor", PasswordHash: "x"})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	_, err = s.GetUserByID(ctx, "nobody")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func testFindUsersByName(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustUser(t, s, "carol", "Carol Danvers")
	mustUser(t, s, "alice", "Alice Liddell")
	mustUser(t, s, "bob", "Bob Carlson")

	found, err := s.FindUsersByName(ctx, "CAR")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "bob", found[0].ID)
	assert.Equal(t, "carol", found[1].ID)

	all, err := s.FindUsersByName(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.FindUsersByName(ctx, "zebra")
	require.NoError(t, err)
	assert.Empty(t, none)

	// Case folding is not limited to ASCII.
	mustUser(t, s, "ivan", "Иван Петров")
	for _, query := range []string{"иван", "ИВАН", "пЕтРоВ"} {
		found, err := s.FindUsersByName(ctx, query)
		require.NoError(t, err)
		require.Len(t, found, 1, "query %q", query)
		assert.Equal(t, "ivan", found[0].ID)
		assert.Equal(t, "Иван Петров", found[0].DisplayName)
	}

	// Wildcard characters are matched literally.
	none, err = s.FindUsersByName(ctx, "%")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =========================================================================
// CHATS & SECRETS
// =========================================================================

func testChatsAndSecrets(t *testing.T, s repository.Store) {
	ctx := context.Background()
	c1 := mustChat(t, s, "first")
	c2 := mustChat(t, s, "second")
	assert.NotEqual(t, c1.ID, c2.ID)

	got, err := s.GetChatByID(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.DefaultName)

	_, err = s.GetChatByID(ctx, "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	require.NoError(t, s.CreateChatSecret(ctx, &model.ChatSecret{ChatID: c1.ID, Secret: "s3cret"}))
	err = s.CreateChatSecret(ctx, &model.ChatSecret{ChatID: c1.ID, Secret: "other"})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	secret, err := s.GetChatSecret(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret.Secret)

	_, err = s.GetChatSecret(ctx, c2.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

// =========================================================================
// MEMBERS
// =========================================================================

func testMembers(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustUser(t, s, "alice", "Alice")
	mustUser(t, s, "bob", "Bob")
	c1 := mustChat(t, s, "one")
	c2 := mustChat(t, s, "two")

	a2 := mustMember(t, s, c2.ID, "alice")
	a1 := mustMember(t, s, c1.ID, "alice")
	b1 := mustMember(t, s, c1.ID, "bob")

	err := s.AddMember(ctx, &model.Member{ChatID: c1.ID, UserID: "alice", ChatDisplayName: "x", MemberDisplayName: "x"})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	m, err := s.GetMember(ctx, c1.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, b1.ID, m.ID)
	assert.Equal(t, "chat of bob", m.ChatDisplayName)

	byID, err := s.GetMemberByID(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, byID.ChatID)
	assert.Equal(t, "alice", byID.UserID)

	members, err := s.ListMembers(ctx, c1.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, a1.ID, members[0].ID)
	assert.Equal(t, b1.ID, members[1].ID)

	chats, err := s.ListChatIDsByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{c2.ID, c1.ID}, chats, "join order")

	require.NoError(t, s.DeleteMember(ctx, a2.ID))
	_, err = s.GetMember(ctx, c2.ID, "alice")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMember(ctx, a2.ID), apperror.ErrNotFound)

	chats, err = s.ListChatIDsByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{c1.ID}, chats)

	// Leaving frees the slot: the same user can become a member again.
	again := mustMember(t, s, c2.ID, "alice")
	assert.NotEqual(t, a2.ID, again.ID)

	empty, err := s.ListChatIDsByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testConcurrentAddMember(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustUser(t, s, "alice", "Alice")
	c := mustChat(t, s, "race")

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.AddMember(ctx, &model.Member{
				ChatID: c.ID, UserID: "alice", ChatDisplayName: "race", MemberDisplayName: "Alice",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperror.ErrConflict):
				conflicts++
			default:
				t.Errorf("AddMember() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)

	members, err := s.ListMembers(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func testCommonChats(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustUser(t, s, "alice", "Alice")
	mustUser(t, s, "bob", "Bob")
	mustUser(t, s, "carol", "Carol")
	shared := mustChat(t, s, "shared")
	private := mustChat(t, s, "private")
	other := mustChat(t, s, "other")

	mustMember(t, s, shared.ID, "alice")
	mustMember(t, s, shared.ID, "bob")
	mustMember(t, s, private.ID, "alice")
	mustMember(t, s, other.ID, "bob")
	mustMember(t, s, other.ID, "carol")

	common, err := s.FindCommonChatIDs(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{shared.ID}, common)

	common, err = s.FindCommonChatIDs(ctx, "alice", "carol")
	require.NoError(t, err)
	assert.Empty(t, common)
}

// =========================================================================
// MESSAGES
// =========================================================================

func testMessages(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustUser(t, s, "alice", "Alice")
	mustUser(t, s, "bob", "Bob")
	c := mustChat(t, s, "talk")
	elsewhere := mustChat(t, s, "elsewhere")
	a := mustMember(t, s, c.ID, "alice")
	b := mustMember(t, s, c.ID, "bob")
	x := mustMember(t, s, elsewhere.ID, "alice")

	var posted []*model.Message
	for i := range 5 {
		author := a
		if i%2 == 1 {
			author = b
		}
		posted = append(posted, mustMessage(t, s, author.ID, fmt.Sprintf("msg %d", i)))
	}
	mustMessage(t, s, x.ID, "not in this chat")

	for i := 1; i < len(posted); i++ {
		assert.Greater(t, posted[i].ID, posted[i-1].ID, "IDs increase")
		assert.True(t, posted[i].CreatedOn.After(posted[i-1].CreatedOn), "CreatedOn increases")
	}

	all, err := s.ListMessages(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "msg 0", all[0].Text)
	assert.Equal(t, a.ID, all[0].MemberID)
	assert.Equal(t, "msg 4", all[4].Text)

	after, err := s.ListMessages(ctx, c.ID, posted[2].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{posted[3].ID, posted[4].ID}, messageIDs(after))

	tail, err := s.ListMessages(ctx, c.ID, posted[4].ID)
	require.NoError(t, err)
	assert.Empty(t, tail)

	got, err := s.GetMessageByID(ctx, posted[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "msg 1", got.Text)
	assert.Equal(t, b.ID, got.MemberID)
	assert.True(t, got.CreatedOn.Equal(posted[1].CreatedOn))

	require.NoError(t, s.DeleteMessage(ctx, posted[1].ID))
	_, err = s.GetMessageByID(ctx, posted[1].ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMessage(ctx, posted[1].ID), apperror.ErrNotFound)

	all, err = s.ListMessages(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	// IDs are never reused, even after a delete.
	next := mustMessage(t, s, a.ID, "after delete")
	assert.Greater(t, next.ID, posted[4].ID)
}

func testMessagesOfFormerMembers(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustUser(t, s, "alice", "Alice")
	mustUser(t, s, "bob", "Bob")
	c := mustChat(t, s, "talk")
	a := mustMember(t, s, c.ID, "alice")
	b := mustMember(t, s, c.ID, "bob")

	mustMessage(t, s, a.ID, "hello")
	gone := mustMessage(t, s, b.ID, "bye")

	require.NoError(t, s.DeleteMember(ctx, b.ID))

	listed, err := s.ListMessages(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "hello", listed[0].Text)

	// The row itself survives the member.
	kept, err := s.GetMessageByID(ctx, gone.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, kept.MemberID)
}

// =========================================================================
// REFRESH TOKENS
// =========================================================================

func testRefreshTokens(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustUser(t, s, "alice", "Alice")
	mustUser(t, s, "bob", "Bob")

	for _, tok := range []string{"a1", "a2", "a3"} {
		require.NoError(t, s.CreateRefreshToken(ctx, &model.RefreshToken{Token: tok, UserID: "alice"}))
	}
	require.NoError(t, s.CreateRefreshToken(ctx, &model.RefreshToken{Token: "b1", UserID: "bob"}))

	err := s.CreateRefreshToken(ctx, &model.RefreshToken{Token: "a1", UserID: "alice"})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	got, err := s.GetRefreshToken(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)

	_, err = s.GetRefreshToken(ctx, "zz")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	// Someone else's token is not found for bob.
	assert.ErrorIs(t, s.DeleteRefreshToken(ctx, "bob", "a1"), apperror.ErrNotFound)
	require.NoError(t, s.DeleteRefreshToken(ctx, "alice", "a1"))
	assert.ErrorIs(t, s.DeleteRefreshToken(ctx, "alice", "a1"), apperror.ErrNotFound)

	n, err := s.DeleteRefreshTokensByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.GetRefreshToken(ctx, "a3")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = s.GetRefreshToken(ctx, "b1")
	assert.NoError(t, err, "other users' tokens survive")

	n, err = s.DeleteRefreshTokensByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testConcurrentTokenDelete(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustUser(t, s, "alice", "Alice")
	require.NoError(t, s.CreateRefreshToken(ctx, &model.RefreshToken{Token: "tok", UserID: "alice"}))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		deleted int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.DeleteRefreshToken(ctx, "alice", "tok")
			if err == nil {
				mu.Lock()
				deleted++
				mu.Unlock()
			} else if !errors.Is(err, apperror.ErrNotFound) {
				t.Errorf("DeleteRefreshToken() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, deleted)
}

// =========================================================================
// ATOMIC
// =========================================================================

func testAtomicCommit(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustUser(t, s, "alice", "Alice")

	var chatID string
	err := s.Atomic(ctx, func(tx repository.Store) error {
		c := &model.Chat{DefaultName: "atomic"}
		if err := tx.CreateChat(ctx, c); err != nil {
			return err
		}
		chatID = c.ID
		if err := tx.CreateChatSecret(ctx, &model.ChatSecret{ChatID: c.ID, Secret: "abc"}); err != nil {
			return err
		}
		// Nested units run inline in the same transaction.
		return tx.Atomic(ctx, func(inner repository.Store) error {
			return inner.AddMember(ctx, &model.Member{
				ChatID: c.ID, UserID: "alice", ChatDisplayName: "atomic", MemberDisplayName: "Alice",
			})
		})
	})
	require.NoError(t, err)

	_, err = s.GetChatByID(ctx, chatID)
	assert.NoError(t, err)
	_, err = s.GetChatSecret(ctx, chatID)
	assert.NoError(t, err)
	_, err = s.GetMember(ctx, chatID, "alice")
	assert.NoError(t, err)
}

func testAtomicRollback(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustUser(t, s, "alice", "Alice")
	require.NoError(t, s.CreateRefreshToken(ctx, &model.RefreshToken{Token: "old", UserID: "alice"}))

	boom := errors.New("boom")
	var chatID string
	err := s.Atomic(ctx, func(tx repository.Store) error {
		c := &model.Chat{DefaultName: "doomed"}
		if err := tx.CreateChat(ctx, c); err != nil {
			return err
		}
		chatID = c.ID
		if err := tx.DeleteRefreshToken(ctx, "alice", "old"); err != nil {
			return err
		}
		if err := tx.CreateUser(ctx, &model.User{ID: "bob", DisplayName: "Bob", PasswordHash: "h"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetChatByID(ctx, chatID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = s.GetUserByID(ctx, "bob")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = s.GetRefreshToken(ctx, "old")
	assert.NoError(t, err, "deleted token is restored")

	// A conflict inside the unit discards the earlier writes too.
	err = s.Atomic(ctx, func(tx repository.Store) error {
		if err := tx.CreateUser(ctx, &model.User{ID: "carol", DisplayName: "Carol", PasswordHash: "h"}); err != nil {
			return err
		}
		return tx.CreateUser(ctx, &model.User{ID: "alice", DisplayName: "Again", PasswordHash: "h"})
	})
	require.ErrorIs(t, err, apperror.ErrConflict)
	_, err = s.GetUserByID(ctx, "carol")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
