package repositories

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"conversation-service/internal/models"
)

// MemoryStore keeps conversations and messages in process memory. It backs
// STORE_DRIVER=memory and the service tests; contents are lost on restart.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	byPair        map[string]string
	messages      map[string]models.Message
	order         map[string][]string
	now           func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]models.Conversation),
		byPair:        make(map[string]string),
		messages:      make(map[string]models.Message),
		order:         make(map[string][]string),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func pairKey(participants []string) string {
	return strings.Join(participants, "\x00")
}

func (s *MemoryStore) CreateConversation(_ context.Context, participantIDs []string) (models.Conversation, bool, error) {
	participants := NormalizeParticipants(participantIDs)
	key := pairKey(participants)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[key]; ok {
		return cloneConversation(s.conversations[id]), false, nil
	}
	now := s.now()
	conv := models.Conversation{
		ID:           uuid.NewString(),
		Participants: participants,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[conv.ID] = conv
	s.byPair[key] = conv.ID
	return cloneConversation(conv), true, nil
}

func (s *MemoryStore) FindConversation(_ context.Context, participantIDs []string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[pairKey(NormalizeParticipants(participantIDs))]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return cloneConversation(s.conversations[id]), nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) ListConversationsForUser(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, cloneConversation(conv))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateConversation(_ context.Context, conversationID string, patch models.ConversationPatch) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	if patch.LastMessage != nil {
		last := *patch.LastMessage
		conv.LastMessage = &last
	}
	if patch.IsActive != nil {
		conv.IsActive = *patch.IsActive
	}
	conv.UpdatedAt = patch.UpdatedAt
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = s.now()
	}
	s.conversations[conversationID] = conv
	return cloneConversation(conv), nil
}

func (s *MemoryStore) IsParticipant(_ context.Context, conversationID string, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	return ok && conv.HasParticipant(userID), nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, conversationID string, senderID string, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return models.Message{}, ErrConversationNotFound
	}
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Status:         models.StatusSent,
		ReadBy:         []models.ReadReceipt{},
		CreatedAt:      s.now(),
	}
	s.messages[msg.ID] = msg
	s.order[conversationID] = append(s.order[conversationID], msg.ID)
	return cloneMessage(msg), nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.Map(s.order[conversationID], func(id string, _ int) models.Message {
		return cloneMessage(s.messages[id])
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

func (s *MemoryStore) MarkConversationRead(_ context.Context, conversationID string, readerID string, readAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for _, id := range s.order[conversationID] {
		msg := s.messages[id]
		if msg.SenderID == readerID || msg.Status == models.StatusRead || msg.ReadByUser(readerID) {
			continue
		}
		msg.Status = models.StatusRead
		msg.ReadBy = append(slices.Clone(msg.ReadBy), models.ReadReceipt{UserID: readerID, ReadAt: readAt})
		s.messages[id] = msg
		updated++
	}
	return updated, nil
}

func (s *MemoryStore) SoftDeleteMessage(_ context.Context, messageID string, senderID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.SenderID != senderID {
		return models.Message{}, ErrMessageNotFound
	}
	msg.Content = models.DeletedPlaceholder
	msg.IsDeleted = true
	s.messages[messageID] = msg
	return cloneMessage(msg), nil
}

func (s *MemoryStore) CountUnread(_ context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(conversationIDs))
	for _, convID := range conversationIDs {
		for _, id := range s.order[convID] {
			msg := s.messages[id]
			if msg.SenderID != userID && !msg.IsDeleted && !msg.ReadByUser(userID) {
				counts[convID]++
			}
		}
	}
	return counts, nil
}

func cloneConversation(c models.Conversation) models.Conversation {
	c.Participants = slices.Clone(c.Participants)
	if c.LastMessage != nil {
		last := *c.LastMessage
		c.LastMessage = &last
	}
	return c
}

func cloneMessage(m models.Message) models.Message {
	m.ReadBy = slices.Clone(m.ReadBy)
	if m.ReadBy == nil {
		m.ReadBy = []models.ReadReceipt{}
	}
	return m
}

var _ ConversationRepository = (*MemoryStore)(nil)
var _ MessageRepository = (*MemoryStore)(nil)
var _ ConversationRepository = (*ConversationRepo)(nil)
var _ MessageRepository = (*MessageRepo)(nil)
