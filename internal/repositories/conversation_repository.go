package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"conversation-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateConversation(ctx context.Context, participantIDs []string) (models.Conversation, bool, error)
	FindConversation(ctx context.Context, participantIDs []string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	UpdateConversation(ctx context.Context, conversationID string, patch models.ConversationPatch) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error)
}

// NormalizeParticipants returns the sorted, de-duplicated participant set.
// Two conversations with the same unordered pair normalize identically.
func NormalizeParticipants(ids []string) []string {
	out := lo.Uniq(lo.Compact(ids))
	sort.Strings(out)
	return out
}

const conversationColumns = `id, participant_ids, last_message_content, last_message_sender_id, last_message_at, is_active, created_at, updated_at`

type conversationRow struct {
	ID                  string         `db:"id"`
	ParticipantIDs      pq.StringArray `db:"participant_ids"`
	LastMessageContent  sql.NullString `db:"last_message_content"`
	LastMessageSenderID sql.NullString `db:"last_message_sender_id"`
	LastMessageAt       sql.NullTime   `db:"last_message_at"`
	IsActive            bool           `db:"is_active"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r conversationRow) toModel() models.Conversation {
	conv := models.Conversation{
		ID:           r.ID,
		Participants: []string(r.ParticipantIDs),
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastMessageAt.Valid {
		conv.LastMessage = &models.LastMessage{
			Content:   r.LastMessageContent.String,
			SenderID:  r.LastMessageSenderID.String,
			CreatedAt: r.LastMessageAt.Time,
		}
	}
	return conv
}

const insertConversationQuery = `INSERT INTO conversations (id, participant_ids) VALUES ($1, $2)
        ON CONFLICT (participant_ids) DO NOTHING
        RETURNING ` + conversationColumns

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateConversation inserts a conversation for the participant set, or returns
// the existing one when the set is already taken. The boolean is true only
// when this call inserted the row.
func (r *ConversationRepo) CreateConversation(ctx context.Context, participantIDs []string) (models.Conversation, bool, error) {
	participants := NormalizeParticipants(participantIDs)

	var row conversationRow
	err := r.db.GetContext(ctx, &row, insertConversationQuery, uuid.NewString(), pq.StringArray(participants))
	if errors.Is(err, sql.ErrNoRows) {
		conv, err := r.FindConversation(ctx, participants)
		return conv, false, err
	}
	if err != nil {
		return models.Conversation{}, false, err
	}
	return row.toModel(), true, nil
}

// FindConversation looks a conversation up by its participant set.
func (r *ConversationRepo) FindConversation(ctx context.Context, participantIDs []string) (models.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row, `SELECT `+conversationColumns+` FROM conversations WHERE participant_ids=$1`,
		pq.StringArray(NormalizeParticipants(participantIDs)))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	return row.toModel(), nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	return row.toModel(), nil
}

// ListConversationsForUser returns every conversation the user takes part in, most recent first.
func (r *ConversationRepo) ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var rows []conversationRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+conversationColumns+` FROM conversations
        WHERE $1 = ANY(participant_ids)
        ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row conversationRow, _ int) models.Conversation {
		return row.toModel()
	}), nil
}

// UpdateConversation applies a partial update and returns the stored result.
func (r *ConversationRepo) UpdateConversation(ctx context.Context, conversationID string, patch models.ConversationPatch) (models.Conversation, error) {
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query, args := conversationUpdateQuery(conversationID, patch, updatedAt)
	var row conversationRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	return row.toModel(), nil
}

// conversationUpdateQuery builds the UPDATE for the fields set in patch.
// $1 is always the id and $2 the update time.
func conversationUpdateQuery(conversationID string, patch models.ConversationPatch, updatedAt time.Time) (string, []any) {
	sets := []string{"updated_at=$2"}
	args := []any{conversationID, updatedAt}
	if patch.LastMessage != nil {
		args = append(args, patch.LastMessage.Content, patch.LastMessage.SenderID, patch.LastMessage.CreatedAt)
		sets = append(sets,
			fmt.Sprintf("last_message_content=$%d", len(args)-2),
			fmt.Sprintf("last_message_sender_id=$%d", len(args)-1),
			fmt.Sprintf("last_message_at=$%d", len(args)),
		)
	}
	if patch.IsActive != nil {
		args = append(args, *patch.IsActive)
		sets = append(sets, fmt.Sprintf("is_active=$%d", len(args)))
	}
	return `UPDATE conversations SET ` + strings.Join(sets, ", ") + ` WHERE id=$1 RETURNING ` + conversationColumns, args
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1 AND $2 = ANY(participant_ids))`, conversationID, userID)
	return exists, err
}
