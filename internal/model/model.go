package model

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"coach-backend/internal/config"
	"coach-backend/pkg/logger"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
)

// NewTitleModel 按 provider 创建标题生成模型，provider 为空时返回 nil
func NewTitleModel(ctx context.Context, cfg config.TitleConfig) (einoModel.BaseChatModel, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "ark", "doubao":
		return createArkModel(ctx, cfg)
	case "qwen":
		return createQwenModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported title model provider: %s", cfg.Provider)
	}
}

func createArkModel(ctx context.Context, cfg config.TitleConfig) (einoModel.BaseChatModel, error) {
	logger.Infof("Using Ark title model: %s", cfg.Model)

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		CustomHeader: map[string]string{
			"X-Ark-Thinking-Mode": "disable",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create ark model: %w", err)
	}
	return chatModel, nil
}

func createQwenModel(ctx context.Context, cfg config.TitleConfig) (einoModel.BaseChatModel, error) {
	logger.Infof("Using Qwen title model: %s, BaseURL: %s", cfg.Model, cfg.BaseURL)

	maxTokens := cfg.MaxTokens
	temperature := cfg.Temperature
	topP := cfg.TopP

	chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
		Timeout:     cfg.Timeout,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create qwen model: %w", err)
	}
	return chatModel, nil
}

// DebugTransport 记录发往上游的请求，敏感请求头打码
type DebugTransport struct {
	base http.RoundTripper
}

func NewDebugTransport(base http.RoundTripper) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base}
}

const maxLoggedBody = 2048

var sensitiveJSONField = regexp.MustCompile(`("(?i:api_key|apiKey|password|secret|token)"\s*:\s*)"[^"]*"`)

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		t.logRequest(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		logger.Errorf("[upstream debug] request failed: %v", err)
	}
	return resp, err
}

func (t *DebugTransport) logRequest(req *http.Request) {
	entry := logger.WithFields(logger.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	headers := make([]string, 0, len(req.Header))
	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			headers = append(headers, name+": [REDACTED]")
		} else {
			headers = append(headers, name+": "+strings.Join(values, ", "))
		}
	}
	entry = entry.WithField("headers", strings.Join(headers, "; "))

	if req.Body != nil {
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			entry.Errorf("[upstream debug] failed to read request body: %v", err)
			return
		}
		// 恢复请求体，以免影响实际请求
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		entry = entry.WithField("body_size", len(bodyBytes))
		entry = entry.WithField("body", redactBody(bodyBytes))
	}

	entry.Info("[upstream debug] request")
}

func redactBody(body []byte) string {
	s := sensitiveJSONField.ReplaceAllString(string(body), `$1"[REDACTED]"`)
	if len(s) > maxLoggedBody {
		s = s[:maxLoggedBody] + "...(truncated)"
	}
	return s
}

func isSensitiveHeader(name string) bool {
	for _, sensitive := range []string{"authorization", "x-api-key", "x-auth-token", "cookie"} {
		if strings.EqualFold(name, sensitive) {
			return true
		}
	}
	return false
}
