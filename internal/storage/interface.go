package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"coach-backend/internal/config"
	"coach-backend/internal/model"
)

// ConversationStore 会话存储，返回的会话都是副本
type ConversationStore interface {
	// 会话管理
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error
	RenameConversation(ctx context.Context, id, title string) error

	// 消息只追加
	AppendMessage(ctx context.Context, id string, msg *model.Message) error

	// 存储管理
	Init() error
	Close() error
}

// New 按配置选择存储实现
func New(cfg config.StorageConfig) (ConversationStore, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "disk":
		return NewDiskStore(cfg.DataDir, cfg.CacheSize), nil
	case "badger":
		return NewBadgerStore(filepath.Join(cfg.DataDir, "badger")), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", ErrStorageInit, cfg.Type)
	}
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return nil
}

// sortSummaries 按更新时间倒序
func sortSummaries(list []model.ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}

func validateConversation(conv *model.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidData)
	}
	if strings.ContainsAny(conv.ID, `/\`) || strings.Contains(conv.ID, "..") {
		return fmt.Errorf("%w: invalid conversation id %q", ErrInvalidData, conv.ID)
	}
	return nil
}
