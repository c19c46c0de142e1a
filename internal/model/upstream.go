package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"coach-backend/internal/config"
	"coach-backend/internal/utils"

	openai "github.com/sashabaranov/go-openai"
)

var (
	ErrUpstreamOpen        = errors.New("upstream open failed")
	ErrUpstreamIdleTimeout = errors.New("upstream idle timeout")
)

// UpstreamError 上游返回了非 2xx 状态码
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstreamOpen
}

// CompletionRequest chat/completions 流式请求体
type CompletionRequest struct {
	Model          string                         `json:"model"`
	Messages       []openai.ChatCompletionMessage `json:"messages"`
	Stream         bool                           `json:"stream"`
	EnableThinking *bool                          `json:"enable_thinking,omitempty"`
	ThinkingBudget int                            `json:"thinking_budget,omitempty"`
}

// StreamClient 打开一个上游 SSE 流，返回的 body 由调用方负责关闭
type StreamClient interface {
	OpenStream(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error)
}

type HTTPStreamClient struct {
	cfg         config.ProviderConfig
	client      *http.Client
	idleTimeout time.Duration
}

func NewHTTPStreamClient(cfg config.ProviderConfig, idleTimeout time.Duration) *HTTPStreamClient {
	client := utils.NewHTTPClient(cfg.Timeout)
	if cfg.DebugRequest {
		client.Transport = NewDebugTransport(client.Transport)
	}
	return &HTTPStreamClient{
		cfg:         cfg,
		client:      client,
		idleTimeout: idleTimeout,
	}
}

func (c *HTTPStreamClient) Model() string {
	return c.cfg.Model
}

func (c *HTTPStreamClient) endpoint() string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

func (c *HTTPStreamClient) OpenStream(ctx context.Context, req *CompletionRequest) (io.ReadCloser, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	req.Stream = true

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(data))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamOpen, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamOpen, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		cancel()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return newIdleTimeoutBody(resp.Body, cancel, c.idleTimeout), nil
}

// idleTimeoutBody 单次 Read 等待超过 timeout 时取消上游请求
type idleTimeoutBody struct {
	body     io.ReadCloser
	cancel   context.CancelFunc
	timeout  time.Duration
	timer    *time.Timer
	timedOut atomic.Bool
}

func newIdleTimeoutBody(body io.ReadCloser, cancel context.CancelFunc, timeout time.Duration) *idleTimeoutBody {
	b := &idleTimeoutBody{
		body:    body,
		cancel:  cancel,
		timeout: timeout,
	}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, b.expire)
		b.timer.Stop()
	}
	return b
}

func (b *idleTimeoutBody) expire() {
	b.timedOut.Store(true)
	b.cancel()
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	if b.timer != nil {
		b.timer.Reset(b.timeout)
	}
	n, err := b.body.Read(p)
	// Stop 返回 false 说明计时器已经触发，上游请求已被取消，后续读取不可能成功
	expired := b.timer != nil && !b.timer.Stop()
	if expired && err == nil {
		return n, fmt.Errorf("%w after %s", ErrUpstreamIdleTimeout, b.timeout)
	}
	if err != nil && err != io.EOF && (expired || b.timedOut.Load()) {
		err = fmt.Errorf("%w after %s: %v", ErrUpstreamIdleTimeout, b.timeout, err)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.cancel()
	return b.body.Close()
}
