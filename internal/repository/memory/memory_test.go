package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository"
	"github.com/sakif/messenger/internal/repository/repotest"
)

func TestStoreContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Store {
		s := New()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.CreateUser(ctx, &model.User{ID: "alice", DisplayName: "Alice"})
	assert.ErrorIs(t, err, context.Canceled)

	err = s.Atomic(ctx, func(repository.Store) error {
		t.Fatal("fn must not run with a canceled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// Returned values are copies; mutating them must not leak into the store.
func TestReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, &model.User{ID: "alice", DisplayName: "Alice"}))

	u, err := s.GetUserByID(ctx, "alice")
	require.NoError(t, err)
	u.DisplayName = "Mallory"

	again, err := s.GetUserByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.DisplayName)
}

func TestRollbackRestoresMessageSequence(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := &model.Message{MemberID: "m1", Text: "one"}
	require.NoError(t, s.CreateMessage(ctx, first))

	_ = s.Atomic(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.CreateMessage(ctx, &model.Message{MemberID: "m1", Text: "discarded"}))
		return assert.AnError
	})

	second := &model.Message{MemberID: "m1", Text: "two"}
	require.NoError(t, s.CreateMessage(ctx, second))
	assert.Equal(t, first.ID+1, second.ID)
}
