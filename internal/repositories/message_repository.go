package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"conversation-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID string, senderID string, content string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string, readerID string, readAt time.Time) (int64, error)
	SoftDeleteMessage(ctx context.Context, messageID string, senderID string) (models.Message, error)
	CountUnread(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)
}

const messageColumns = `id, conversation_id, sender_id, content, status, is_deleted, created_at`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message with status sent.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID string, senderID string, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO messages (id, conversation_id, sender_id, content, status)
        VALUES ($1, $2, $3, $4, $5) RETURNING `+messageColumns,
		uuid.NewString(), conversationID, senderID, content, models.StatusSent)
	if err != nil {
		return models.Message{}, err
	}
	msg.ReadBy = []models.ReadReceipt{}
	return msg, nil
}

// ListMessages returns the conversation's messages oldest first, with their receipts.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1
        ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return []models.Message{}, nil
	}

	receipts, err := r.receiptsFor(ctx, lo.Map(msgs, func(m models.Message, _ int) string { return m.ID }))
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].ReadBy = receiptsOrEmpty(receipts[msgs[i].ID])
	}
	return msgs, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	receipts, err := r.receiptsFor(ctx, []string{msg.ID})
	if err != nil {
		return models.Message{}, err
	}
	msg.ReadBy = receiptsOrEmpty(receipts[msg.ID])
	return msg, nil
}

// MarkConversationRead marks every unread message from other senders as read by
// readerID in one statement and returns the number of receipts added.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID string, readerID string, readAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `WITH targets AS (
            SELECT m.id FROM messages m
            WHERE m.conversation_id=$1
            AND m.sender_id<>$2
            AND m.status<>$4
            AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id=m.id AND mr.user_id=$2)
            FOR UPDATE
        ), updated AS (
            UPDATE messages SET status=$4 WHERE id IN (SELECT id FROM targets) RETURNING id
        )
        INSERT INTO message_reads (message_id, user_id, read_at)
        SELECT id, $2, $3 FROM updated
        ON CONFLICT (message_id, user_id) DO NOTHING`, conversationID, readerID, readAt, models.StatusRead)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SoftDeleteMessage replaces the content with the placeholder. Only the sender's row matches.
func (r *MessageRepo) SoftDeleteMessage(ctx context.Context, messageID string, senderID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET content=$3, is_deleted=TRUE
        WHERE id=$1 AND sender_id=$2
        RETURNING `+messageColumns, messageID, senderID, models.DeletedPlaceholder)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	receipts, err := r.receiptsFor(ctx, []string{msg.ID})
	if err != nil {
		return models.Message{}, err
	}
	msg.ReadBy = receiptsOrEmpty(receipts[msg.ID])
	return msg, nil
}

// CountUnread returns, per conversation, the messages from others the user has not read.
func (r *MessageRepo) CountUnread(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		ConversationID string `db:"conversation_id"`
		Count          int    `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `SELECT m.conversation_id, COUNT(*) AS count FROM messages m
        WHERE m.conversation_id = ANY($1::uuid[])
        AND m.sender_id<>$2
        AND m.is_deleted = FALSE
        AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id=m.id AND mr.user_id=$2)
        GROUP BY m.conversation_id`, pq.Array(conversationIDs), userID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.ConversationID] = row.Count
	}
	return counts, nil
}

type receiptRow struct {
	MessageID string    `db:"message_id"`
	UserID    string    `db:"user_id"`
	ReadAt    time.Time `db:"read_at"`
}

func (r *MessageRepo) receiptsFor(ctx context.Context, messageIDs []string) (map[string][]models.ReadReceipt, error) {
	var rows []receiptRow
	err := r.db.SelectContext(ctx, &rows, `SELECT message_id, user_id, read_at FROM message_reads
        WHERE message_id = ANY($1::uuid[])
        ORDER BY read_at ASC`, pq.Array(messageIDs))
	if err != nil {
		return nil, err
	}
	grouped := lo.GroupBy(rows, func(row receiptRow) string { return row.MessageID })
	return lo.MapValues(grouped, func(rows []receiptRow, _ string) []models.ReadReceipt {
		return lo.Map(rows, func(row receiptRow, _ int) models.ReadReceipt {
			return models.ReadReceipt{UserID: row.UserID, ReadAt: row.ReadAt}
		})
	}), nil
}

func receiptsOrEmpty(receipts []models.ReadReceipt) []models.ReadReceipt {
	if receipts == nil {
		return []models.ReadReceipt{}
	}
	return receipts
}
