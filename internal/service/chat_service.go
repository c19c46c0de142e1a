package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coach-backend/internal/model"
	"coach-backend/internal/storage"

	"github.com/google/uuid"
)

// ChatService 会话的增删改查，所有会话归属同一个配置好的用户
type ChatService struct {
	store  storage.ConversationStore
	userID string
}

func NewChatService(store storage.ConversationStore, userID string) *ChatService {
	if userID == "" {
		userID = "user-1"
	}
	return &ChatService{store: store, userID: userID}
}

func (s *ChatService) NewConversationID() string {
	return uuid.New().String()
}

// CreateConversation id 为空时生成新的 id，title 为空时使用默认标题
func (s *ChatService) CreateConversation(ctx context.Context, id, title string, lang model.Language) (*model.Conversation, error) {
	if id == "" {
		id = s.NewConversationID()
	}
	if strings.TrimSpace(title) == "" {
		title = model.DefaultTitle(lang)
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:        id,
		UserID:    s.userID,
		Title:     title,
		Messages:  make([]model.Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *ChatService) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return conv, nil
}

func (s *ChatService) ListConversations(ctx context.Context) ([]model.ConversationSummary, error) {
	list, err := s.store.ListConversations(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return list, nil
}

func (s *ChatService) DeleteConversation(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

func (s *ChatService) RenameConversation(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", model.ErrInvalidRequest)
	}
	if err := s.store.RenameConversation(ctx, id, title); err != nil {
		return fmt.Errorf("failed to rename conversation %s: %w", id, err)
	}
	return nil
}

// AppendMessage 补齐 id 和时间戳后追加
func (s *ChatService) AppendMessage(ctx context.Context, id string, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	if err := s.store.AppendMessage(ctx, id, msg); err != nil {
		return fmt.Errorf("failed to append message to %s: %w", id, err)
	}
	return nil
}
