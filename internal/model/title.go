package model

import (
	"context"
	"strings"

	"coach-backend/pkg/logger"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const titleMaxRunes = 30

var titlePrompts = map[Language]string{
	LanguageZH: "根据下面的对话为它起一个不超过15个字的标题。只输出标题本身，不要引号和标点。",
	LanguageEN: "Write a title of at most 8 words for the conversation below. Output only the title, without quotes or trailing punctuation.",
}

// TitleGenerator 为新会话生成标题，模型不可用时退化为截断用户消息
type TitleGenerator struct {
	chatModel einoModel.BaseChatModel
}

func NewTitleGenerator(chatModel einoModel.BaseChatModel) *TitleGenerator {
	return &TitleGenerator{chatModel: chatModel}
}

func (g *TitleGenerator) Generate(ctx context.Context, question, answer string, lang Language) string {
	fallback := TruncateRunes(strings.TrimSpace(question), titleMaxRunes)
	if fallback == "" {
		fallback = DefaultTitle(lang)
	}
	if g == nil || g.chatModel == nil {
		return fallback
	}

	lang = lang.Normalize()
	messages := []*schema.Message{
		schema.SystemMessage(titlePrompts[lang]),
		schema.UserMessage("Q: " + question + "\nA: " + TruncateRunes(answer, 500)),
	}

	resp, err := g.chatModel.Generate(ctx, messages)
	if err != nil {
		logger.Warnf("Title generation failed, using fallback: %v", err)
		return fallback
	}

	title := cleanTitle(resp.Content)
	if title == "" {
		return fallback
	}
	return TruncateRunes(title, titleMaxRunes)
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, " \"'“”‘’《》「」。.")
}

// TruncateRunes 按 Unicode 字符截断，超长时追加省略号
func TruncateRunes(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
