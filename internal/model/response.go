package model

import (
	"errors"
	"time"
)

var ErrInvalidRequest = errors.New("invalid request")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID         string   `json:"id"`
	Role       Role     `json:"role"`
	Content    string   `json:"content"`
	Images     []string `json:"imageUrls,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Evaluation string   `json:"evaluation,omitempty"`
	// 毫秒时间戳
	Timestamp int64 `json:"timestamp"`
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		ID:           c.ID,
		Title:        c.Title,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}

// Clone 深拷贝，存储层返回副本避免调用方改到内部状态
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		if msg.Images != nil {
			msg.Images = append([]string(nil), msg.Images...)
		}
		out.Messages[i] = msg
	}
	return &out
}

// DefaultTitle 新会话的默认标题
func DefaultTitle(lang Language) string {
	if lang.Normalize() == LanguageEN {
		return "New chat"
	}
	return "新对话"
}
