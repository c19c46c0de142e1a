package storage

import (
	"context"
	"sync"
	"time"

	"coach-backend/internal/model"
)

type MemoryStore struct {
	conversations map[string]*model.Conversation
	mu            sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
	}
}

func (m *MemoryStore) Init() error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := validateConversation(conv); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return ErrConversationExists
	}
	m.conversations[conv.ID] = conv.Clone()
	return nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[id]
	if !exists {
		return nil, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (m *MemoryStore) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]model.ConversationSummary, 0, len(m.conversations))
	for _, conv := range m.conversations {
		if userID != "" && conv.UserID != userID {
			continue
		}
		list = append(list, conv.Summary())
	}
	sortSummaries(list)
	return list, nil
}

func (m *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[id]; !exists {
		return ErrConversationNotFound
	}
	delete(m.conversations, id)
	return nil
}

func (m *MemoryStore) RenameConversation(ctx context.Context, id, title string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, exists := m.conversations[id]
	if !exists {
		return ErrConversationNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, id string, msg *model.Message) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, exists := m.conversations[id]
	if !exists {
		return ErrConversationNotFound
	}
	conv.Messages = append(conv.Messages, copyMessage(msg))
	conv.UpdatedAt = time.Now()
	return nil
}

func copyMessage(msg *model.Message) model.Message {
	out := *msg
	if msg.Images != nil {
		out.Images = append([]string(nil), msg.Images...)
	}
	return out
}
