//go:build integration

package repositories

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-service/internal/db"
	"conversation-service/internal/models"
)

// Run with: TEST_DB_DSN=postgres://... go test -tags integration ./internal/repositories/
func openTestDB(t *testing.T) (*ConversationRepo, *MessageRepo) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	database, err := db.Connect(context.Background(), dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewConversationRepo(database), NewMessageRepo(database)
}

func uniquePair() []string {
	return []string{"u-" + uuid.NewString(), "u-" + uuid.NewString()}
}

func TestPostgresCreateConversationIsIdempotent(t *testing.T) {
	conversations, _ := openTestDB(t)
	ctx := context.Background()
	pair := uniquePair()

	first, inserted, err := conversations.CreateConversation(ctx, pair)
	require.NoError(t, err)
	require.True(t, inserted)

	second, inserted, err := conversations.CreateConversation(ctx, []string{pair[1], pair[0]})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)

	found, err := conversations.FindConversation(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestPostgresUpdateConversationSnapshot(t *testing.T) {
	conversations, _ := openTestDB(t)
	ctx := context.Background()
	conv, _, err := conversations.CreateConversation(ctx, uniquePair())
	require.NoError(t, err)

	at := time.Now().UTC().Truncate(time.Millisecond)
	active := false
	updated, err := conversations.UpdateConversation(ctx, conv.ID, models.ConversationPatch{
		LastMessage: &models.LastMessage{Content: "hi", SenderID: conv.Participants[0], CreatedAt: at},
		IsActive:    &active,
		UpdatedAt:   at,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.LastMessage)
	assert.Equal(t, "hi", updated.LastMessage.Content)
	assert.False(t, updated.IsActive)
	assert.True(t, at.Equal(updated.UpdatedAt))

	ok, err := conversations.IsParticipant(ctx, conv.ID, conv.Participants[1])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgresMarkConversationReadIsMonotonic(t *testing.T) {
	conversations, messages := openTestDB(t)
	ctx := context.Background()
	pair := uniquePair()
	conv, _, err := conversations.CreateConversation(ctx, pair)
	require.NoError(t, err)
	reader, other := conv.Participants[0], conv.Participants[1]

	_, err = messages.CreateMessage(ctx, conv.ID, other, "one")
	require.NoError(t, err)
	_, err = messages.CreateMessage(ctx, conv.ID, other, "two")
	require.NoError(t, err)
	own, err := messages.CreateMessage(ctx, conv.ID, reader, "mine")
	require.NoError(t, err)

	firstRead := time.Now().UTC().Truncate(time.Millisecond)
	n, err := messages.MarkConversationRead(ctx, conv.ID, reader, firstRead)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = messages.MarkConversationRead(ctx, conv.ID, reader, firstRead.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := messages.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	for _, msg := range list {
		if msg.ID == own.ID {
			assert.Equal(t, models.StatusSent, msg.Status)
			assert.Empty(t, msg.ReadBy)
			continue
		}
		assert.Equal(t, models.StatusRead, msg.Status)
		require.Len(t, msg.ReadBy, 1)
		assert.True(t, firstRead.Equal(msg.ReadBy[0].ReadAt))
	}

	counts, err := messages.CountUnread(ctx, reader, []string{conv.ID})
	require.NoError(t, err)
	assert.Zero(t, counts[conv.ID])
}
