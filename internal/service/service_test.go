package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/messenger/internal/auth"
	"github.com/sakif/messenger/internal/metrics"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository/memory"
)

// =========================================================================
// TEST HARNESS
// =========================================================================
//
// The services run against the in-memory store rather than a mock: the
// store is fast, honours the full storage contract (including the member
// uniqueness constraint and Atomic rollback), and the same contract suite
// runs against every backend in internal/repository.

type harness struct {
	store      *memory.Store
	tokens     *auth.TokenService
	metrics    *metrics.Metrics
	identity   *IdentityService
	membership *MembershipService
	messaging  *MessagingService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := newUnbootstrappedHarness(t)
	require.NoError(t, h.identity.Bootstrap(context.Background()))
	return h
}

func newUnbootstrappedHarness(t *testing.T) *harness {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-at-least-16", 5*time.Minute, time.Hour)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	m := metrics.New()

	return &harness{
		store:      store,
		tokens:     tokens,
		metrics:    m,
		identity:   NewIdentityService(store, tokens, auth.NewPasswordServiceForTest(), m, logger),
		membership: NewMembershipService(store, m, logger),
		messaging:  NewMessagingService(store, m, logger),
	}
}

const testPassword = "correct horse battery staple"

// register creates a user displayed as "User <id>".
func (h *harness) register(t *testing.T, id string) *model.User {
	t.Helper()

	user, err := h.identity.Register(context.Background(), id, "User "+id, testPassword)
	require.NoError(t, err)
	return user
}

func (h *harness) createChat(t *testing.T, name string, creator *model.User) *model.Chat {
	t.Helper()

	chat, err := h.membership.CreateChat(context.Background(), name, creator)
	require.NoError(t, err)
	return chat
}

func (h *harness) secretOf(t *testing.T, chatID string) string {
	t.Helper()

	s, err := h.store.GetChatSecret(context.Background(), chatID)
	require.NoError(t, err)
	return s.Secret
}

// inboxOf returns the id of user's system chat, the first chat they joined.
func (h *harness) inboxOf(t *testing.T, user *model.User) string {
	t.Helper()

	ids, err := h.store.ListChatIDsByUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	return ids[0]
}

func (h *harness) join(t *testing.T, chat *model.Chat, user *model.User) *model.Member {
	t.Helper()

	m, err := h.membership.JoinChat(context.Background(), chat.ID, h.secretOf(t, chat.ID), user, "")
	require.NoError(t, err)
	return m
}

func (h *harness) post(t *testing.T, chatID, text string, author *model.User) *model.Message {
	t.Helper()

	msg, err := h.messaging.PostMessage(context.Background(), chatID, text, author)
	require.NoError(t, err)
	return msg
}

func texts(messages []model.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Text
	}
	return out
}
