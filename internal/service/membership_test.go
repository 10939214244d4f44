package service

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
)

func TestCreateChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")

	chat, err := h.membership.CreateChat(ctx, "  Weekend plans ", alice)
	require.NoError(t, err)
	assert.NotEmpty(t, chat.ID)
	assert.Equal(t, "Weekend plans", chat.DefaultName)

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{12}$`), h.secretOf(t, chat.ID))

	members, err := h.membership.ListChatMembers(ctx, chat.ID, alice)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].UserID)
	assert.Equal(t, "Weekend plans", members[0].ChatDisplayName)
	assert.Equal(t, "User alice", members[0].MemberDisplayName)
}

func TestCreateChat_SecretsDiffer(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")

	a := h.createChat(t, "a", alice)
	b := h.createChat(t, "b", alice)
	assert.NotEqual(t, h.secretOf(t, a.ID), h.secretOf(t, b.ID))
}

func TestCreateChat_Validation(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")

	for _, name := range []string{"", "   ", strings.Repeat("x", MaxNameLength+1)} {
		_, err := h.membership.CreateChat(context.Background(), name, alice)
		assert.ErrorIs(t, err, apperror.ErrValidation, "name %q", name)
	}
}

func TestJoinChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	carol := h.register(t, "carol")
	chat := h.createChat(t, "Book club", alice)
	secret := h.secretOf(t, chat.ID)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := h.membership.JoinChat(ctx, chat.ID, "000000000000", bob, "")
		require.ErrorIs(t, err, apperror.ErrWrongChatSecret)

		_, err = h.store.GetMember(ctx, chat.ID, "bob")
		assert.ErrorIs(t, err, apperror.ErrNotFound, "a rejected join must not add a member")
	})

	t.Run("unknown chat", func(t *testing.T) {
		_, err := h.membership.JoinChat(ctx, "no-such-chat", secret, bob, "")
		assert.ErrorIs(t, err, apperror.ErrChatNotFound)
	})

	t.Run("default name", func(t *testing.T) {
		m, err := h.membership.JoinChat(ctx, chat.ID, secret, bob, "")
		require.NoError(t, err)
		assert.NotEmpty(t, m.ID)
		assert.Equal(t, "Book club", m.ChatDisplayName)
		assert.Equal(t, "User bob", m.MemberDisplayName)
	})

	t.Run("local name", func(t *testing.T) {
		m, err := h.membership.JoinChat(ctx, chat.ID, secret, carol, " Books! ")
		require.NoError(t, err)
		assert.Equal(t, "Books!", m.ChatDisplayName)
	})

	t.Run("already member", func(t *testing.T) {
		_, err := h.membership.JoinChat(ctx, chat.ID, secret, bob, "")
		assert.ErrorIs(t, err, apperror.ErrUserAlreadyMember)

		// Membership is checked before the secret.
		_, err = h.membership.JoinChat(ctx, chat.ID, "wrong", alice, "")
		assert.ErrorIs(t, err, apperror.ErrUserAlreadyMember)
	})

	members, err := h.membership.ListChatMembers(ctx, chat.ID, alice)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestJoinChat_ConcurrentSameUser(t *testing.T) {
	for _, n := range []int{1, 2, 16} {
		h := newHarness(t)
		ctx := context.Background()
		alice := h.register(t, "alice")
		bob := h.register(t, "bob")
		chat := h.createChat(t, "Race", alice)
		secret := h.secretOf(t, chat.ID)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			joined   int
			rejected int
			other    []error
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.membership.JoinChat(ctx, chat.ID, secret, bob, "")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					joined++
				case apperror.Code(err) == "user_already_member":
					rejected++
				default:
					other = append(other, err)
				}
			}()
		}
		wg.Wait()

		assert.Empty(t, other)
		assert.Equal(t, 1, joined, "n=%d", n)
		assert.Equal(t, n-1, rejected, "n=%d", n)

		members, err := h.store.ListMembers(ctx, chat.ID)
		require.NoError(t, err)
		assert.Len(t, members, 2, "n=%d", n)
	}
}

// secretPattern pulls chat id and secret out of an invitation.
var secretPattern = regexp.MustCompile(`invites you to chat (\S+)\. Use secret '([0-9a-f]+)'`)

func TestInviteToChat_DeliversSecretToSystemChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	chat := h.createChat(t, "Project", alice)

	msg, err := h.membership.InviteToChat(ctx, "bob", chat.ID, alice)
	require.NoError(t, err)
	assert.Equal(t,
		"User User alice (alice) invites you to chat "+chat.ID+". Use secret '"+h.secretOf(t, chat.ID)+"'",
		msg.Text)

	// Inviting does not make bob a member.
	_, err = h.store.GetMember(ctx, chat.ID, "bob")
	require.ErrorIs(t, err, apperror.ErrNotFound)

	// Bob finds the invitation in his system chat, written by the system user.
	chats, err := h.membership.ListUserChats(ctx, bob)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "System for bob", chats[0].DefaultName)

	inbox, err := h.messaging.ListMessages(ctx, chats[0].ID, bob, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)

	author, err := h.store.GetMemberByID(ctx, inbox[0].MemberID)
	require.NoError(t, err)
	assert.Equal(t, model.SystemUserID, author.UserID)

	match := secretPattern.FindStringSubmatch(inbox[0].Text)
	require.Len(t, match, 3)
	assert.Equal(t, chat.ID, match[1])

	_, err = h.membership.JoinChat(ctx, match[1], match[2], bob, "")
	assert.NoError(t, err)
}

func TestInviteToChat_Rejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	h.register(t, "carol")
	chat := h.createChat(t, "Project", alice)

	tests := []struct {
		name    string
		target  string
		chatID  string
		inviter *model.User
		want    error
	}{
		{"inviter not a member", "carol", chat.ID, bob, apperror.ErrUserNotMember},
		{"unknown chat", "carol", "no-such-chat", alice, apperror.ErrUserNotMember},
		{"unknown target", "dave", chat.ID, alice, apperror.ErrUserNotFound},
		{"system user", model.SystemUserID, chat.ID, alice, apperror.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.membership.InviteToChat(ctx, tt.target, tt.chatID, tt.inviter)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSystemChat_StaysPrivate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	carol := h.register(t, "carol")
	aliceInbox := h.inboxOf(t, alice)
	bobInbox := h.inboxOf(t, bob)

	_, err := h.membership.InviteToChat(ctx, "bob", aliceInbox, alice)
	assert.ErrorIs(t, err, apperror.ErrForbidden, "a system chat cannot be shared")

	_, err = h.membership.JoinChat(ctx, aliceInbox, h.secretOf(t, aliceInbox), bob, "")
	assert.ErrorIs(t, err, apperror.ErrForbidden, "someone else's system chat cannot be joined")
	_, err = h.store.GetMember(ctx, aliceInbox, "bob")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	assert.ErrorIs(t, h.membership.LeaveChat(ctx, bobInbox, bob), apperror.ErrForbidden)
	_, err = h.store.GetMember(ctx, bobInbox, "bob")
	assert.NoError(t, err, "bob must still be in his system chat")

	// An invitation for bob lands in bob's inbox and nowhere else.
	private := h.createChat(t, "Private", carol)
	_, err = h.membership.InviteToChat(ctx, "bob", private.ID, carol)
	require.NoError(t, err)

	got, err := h.messaging.ListMessages(ctx, bobInbox, bob, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = h.messaging.ListMessages(ctx, aliceInbox, alice, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInviteToChat_FindsInboxByName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	carol := h.register(t, "carol")
	aliceInbox := h.inboxOf(t, alice)
	bobInbox := h.inboxOf(t, bob)

	// Rows written before system chats were guarded: bob sits in alice's
	// inbox, and that membership is older than the one in his own.
	own, err := h.store.GetMember(ctx, bobInbox, "bob")
	require.NoError(t, err)
	require.NoError(t, h.store.DeleteMember(ctx, own.ID))
	require.NoError(t, h.store.AddMember(ctx, &model.Member{ChatID: aliceInbox, UserID: "bob", ChatDisplayName: "x", MemberDisplayName: "x"}))
	require.NoError(t, h.store.AddMember(ctx, &model.Member{ChatID: bobInbox, UserID: "bob", ChatDisplayName: "System", MemberDisplayName: "x"}))

	chat := h.createChat(t, "Project", carol)
	_, err = h.membership.InviteToChat(ctx, "bob", chat.ID, carol)
	require.NoError(t, err)

	got, err := h.messaging.ListMessages(ctx, aliceInbox, alice, 0)
	require.NoError(t, err)
	assert.Empty(t, got, "the secret must not reach alice")

	got, err = h.messaging.ListMessages(ctx, bobInbox, bob, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLeaveChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	chat := h.createChat(t, "Temp", alice)
	h.join(t, chat, bob)

	require.NoError(t, h.membership.LeaveChat(ctx, chat.ID, bob))

	chats, err := h.membership.ListUserChats(ctx, bob)
	require.NoError(t, err)
	for _, c := range chats {
		assert.NotEqual(t, chat.ID, c.ID)
	}

	assert.ErrorIs(t, h.membership.LeaveChat(ctx, chat.ID, bob), apperror.ErrUserNotMember)

	_, err = h.membership.ListChatMembers(ctx, chat.ID, bob)
	assert.ErrorIs(t, err, apperror.ErrUserNotMember)

	// The chat itself survives and can be rejoined with the same secret.
	_, err = h.store.GetChatByID(ctx, chat.ID)
	require.NoError(t, err)
	h.join(t, chat, bob)
}

func TestListUserChats_JoinOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")

	first := h.createChat(t, "first", bob)
	second := h.createChat(t, "second", alice)
	h.join(t, second, bob)

	chats, err := h.membership.ListUserChats(ctx, bob)
	require.NoError(t, err)
	require.Len(t, chats, 3)
	assert.Equal(t, "System for bob", chats[0].DefaultName)
	assert.Equal(t, first.ID, chats[1].ID)
	assert.Equal(t, second.ID, chats[2].ID)
}

func TestMembershipMetrics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	chat := h.createChat(t, "Counted", alice)

	_, err := h.membership.JoinChat(ctx, chat.ID, "nope", bob, "")
	require.Error(t, err)
	h.join(t, chat, bob)

	expected := `
# HELP messenger_chats_created_total Total number of chats created, including system chats
# TYPE messenger_chats_created_total counter
messenger_chats_created_total 3
# HELP messenger_chat_joins_total Chat join attempts by outcome
# TYPE messenger_chat_joins_total counter
messenger_chat_joins_total{result="ok"} 1
messenger_chat_joins_total{result="rejected"} 1
`
	err = testutil.GatherAndCompare(h.metrics.Registry(), strings.NewReader(expected),
		"messenger_chats_created_total", "messenger_chat_joins_total")
	assert.NoError(t, err)
}
