package model

import (
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// SystemMessage 构造 system 消息
func SystemMessage(text string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleSystem,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: text},
		},
	}
}

// UserMessage 构造多段 user 消息：一段文本，后接图片
// text 为空时调用方负责替换成默认提示，上游不接受空的 content 数组
func UserMessage(text string, images []string) openai.ChatCompletionMessage {
	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: text,
		})
	}
	for _, image := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    image,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	}
}

// StreamDelta 从一条上游 SSE payload 中取出的增量
type StreamDelta struct {
	Content   string
	Reasoning string
}

// ParseStreamPayload 解析 choices[0].delta；JSON 不合法时返回 false
func ParseStreamPayload(payload []byte) (StreamDelta, bool) {
	var resp openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return StreamDelta{}, false
	}
	if len(resp.Choices) == 0 {
		return StreamDelta{}, true
	}
	delta := resp.Choices[0].Delta
	return StreamDelta{
		Content:   delta.Content,
		Reasoning: delta.ReasoningContent,
	}, true
}
