package model

import (
	"fmt"
	"strings"
)

// MaxImages 单次请求允许携带的图片数量上限
const MaxImages = 4

type Language string

const (
	LanguageZH Language = "zh"
	LanguageEN Language = "en"
)

// Normalize 未知或空的语言按中文处理
func (l Language) Normalize() Language {
	switch Language(strings.ToLower(string(l))) {
	case LanguageEN:
		return LanguageEN
	default:
		return LanguageZH
	}
}

// PipelineRequest 一次流式对话请求
type PipelineRequest struct {
	Message        string   `json:"message"`
	Images         []string `json:"images" binding:"max=4,dive,required"`
	Language       Language `json:"language"`
	UseSearch      bool     `json:"useSearch"`
	EnableThinking bool     `json:"enableThinking"`
	EnableTestMode bool     `json:"enableTestMode"`
	ConversationID string   `json:"conversationId"`
}

// Validate 文本和图片至少有一个，图片不超过 MaxImages
func (r *PipelineRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" && len(r.Images) == 0 {
		return fmt.Errorf("%w: message or images required", ErrInvalidRequest)
	}
	if len(r.Images) > MaxImages {
		return fmt.Errorf("%w: at most %d images", ErrInvalidRequest, MaxImages)
	}
	return nil
}

type Action string

const (
	ActionList   Action = "list"
	ActionGet    Action = "get"
	ActionDelete Action = "delete"
	ActionRename Action = "rename"
	ActionChat   Action = "chat"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionList, ActionGet, ActionDelete, ActionRename, ActionChat:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, s)
	}
}

// ActionRequest 单入口 /api/chat 的请求体，action 决定其余字段的含义
type ActionRequest struct {
	Action string `json:"action" binding:"required"`
	Title  string `json:"title"`
	PipelineRequest
}

type RenameRequest struct {
	Title string `json:"title" binding:"required"`
}
