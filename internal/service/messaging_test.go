package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
)

func TestPostMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	chat := h.createChat(t, "General", alice)

	msg := h.post(t, chat.ID, "  hello  ", alice)
	assert.Positive(t, msg.ID)
	assert.False(t, msg.CreatedOn.IsZero())
	assert.Equal(t, "  hello  ", msg.Text, "text is stored verbatim")

	author, err := h.store.GetMemberByID(ctx, msg.MemberID)
	require.NoError(t, err)
	assert.Equal(t, "alice", author.UserID)
	assert.Equal(t, chat.ID, author.ChatID)

	_, err = h.messaging.PostMessage(ctx, chat.ID, "let me in", bob)
	assert.ErrorIs(t, err, apperror.ErrUserNotMember)
}

func TestPostMessage_Validation(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	chat := h.createChat(t, "General", alice)

	for _, text := range []string{"", " \n\t", strings.Repeat("ж", MaxMessageLength+1)} {
		_, err := h.messaging.PostMessage(context.Background(), chat.ID, text, alice)
		assert.ErrorIs(t, err, apperror.ErrValidation)
	}

	h.post(t, chat.ID, strings.Repeat("ж", MaxMessageLength), alice)
}

func TestListMessages_Pagination(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	chat := h.createChat(t, "General", alice)
	h.join(t, chat, bob)

	var posted []*model.Message
	for i := range 6 {
		author := alice
		if i%2 == 1 {
			author = bob
		}
		posted = append(posted, h.post(t, chat.ID, fmt.Sprintf("m%d", i), author))
	}
	for i := 1; i < len(posted); i++ {
		assert.Greater(t, posted[i].ID, posted[i-1].ID)
		assert.True(t, posted[i].CreatedOn.After(posted[i-1].CreatedOn))
	}

	all, err := h.messaging.ListMessages(ctx, chat.ID, bob, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4", "m5"}, texts(all))

	for k, m := range posted {
		got, err := h.messaging.ListMessages(ctx, chat.ID, alice, m.ID)
		require.NoError(t, err)

		var want []string
		for _, later := range posted[k+1:] {
			want = append(want, later.Text)
		}
		if want == nil {
			want = []string{}
		}
		assert.Equal(t, want, texts(got), "after message %d", k)
	}
}

func TestListMessages_CursorEdgeCases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	chat := h.createChat(t, "General", alice)
	other := h.createChat(t, "Other", alice)

	h.post(t, chat.ID, "one", alice)
	cursor := h.post(t, other.ID, "elsewhere", alice)
	h.post(t, chat.ID, "two", alice)

	t.Run("negative", func(t *testing.T) {
		_, err := h.messaging.ListMessages(ctx, chat.ID, alice, -1)
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("unknown id returns full history", func(t *testing.T) {
		got, err := h.messaging.ListMessages(ctx, chat.ID, alice, 999_999)
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two"}, texts(got))
	})

	t.Run("deleted cursor returns full history", func(t *testing.T) {
		gone := h.post(t, chat.ID, "gone", alice)
		require.NoError(t, h.messaging.DeleteMessage(ctx, gone.ID, alice))

		got, err := h.messaging.ListMessages(ctx, chat.ID, alice, gone.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two"}, texts(got))
	})

	t.Run("cursor from another chat orders by creation", func(t *testing.T) {
		got, err := h.messaging.ListMessages(ctx, chat.ID, alice, cursor.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"two"}, texts(got))
	})
}

func TestListMessages_RequiresMembership(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	chat := h.createChat(t, "Private", alice)
	h.post(t, chat.ID, "secret plans", alice)

	_, err := h.messaging.ListMessages(context.Background(), chat.ID, bob, 0)
	assert.ErrorIs(t, err, apperror.ErrUserNotMember)
}

func TestListMessages_HidesFormerMembers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	chat := h.createChat(t, "General", alice)
	h.join(t, chat, bob)

	h.post(t, chat.ID, "from alice", alice)
	h.post(t, chat.ID, "from bob", bob)
	require.NoError(t, h.membership.LeaveChat(ctx, chat.ID, bob))

	got, err := h.messaging.ListMessages(ctx, chat.ID, alice, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"from alice"}, texts(got))

	// Rejoining creates a new member; the old messages stay hidden.
	h.join(t, chat, bob)
	h.post(t, chat.ID, "bob again", bob)

	got, err = h.messaging.ListMessages(ctx, chat.ID, alice, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"from alice", "bob again"}, texts(got))
}

func TestDeleteMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")
	carol := h.register(t, "carol")
	chat := h.createChat(t, "General", alice)
	h.join(t, chat, bob)

	keep := h.post(t, chat.ID, "keep", alice)
	drop := h.post(t, chat.ID, "drop", alice)

	t.Run("non-member", func(t *testing.T) {
		err := h.messaging.DeleteMessage(ctx, drop.ID, carol)
		assert.ErrorIs(t, err, apperror.ErrUserNotMember)
	})

	t.Run("any member may delete", func(t *testing.T) {
		require.NoError(t, h.messaging.DeleteMessage(ctx, drop.ID, bob))

		got, err := h.messaging.ListMessages(ctx, chat.ID, alice, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"keep"}, texts(got))
	})

	t.Run("missing message is a no-op", func(t *testing.T) {
		assert.NoError(t, h.messaging.DeleteMessage(ctx, drop.ID, bob))
		assert.NoError(t, h.messaging.DeleteMessage(ctx, 424242, carol))
	})

	t.Run("author left", func(t *testing.T) {
		orphan := h.post(t, chat.ID, "orphan", bob)
		require.NoError(t, h.membership.LeaveChat(ctx, chat.ID, bob))

		err := h.messaging.DeleteMessage(ctx, orphan.ID, alice)
		assert.ErrorIs(t, err, apperror.ErrChatNotFound)
	})

	_, err := h.store.GetMessageByID(ctx, keep.ID)
	assert.NoError(t, err)
}
