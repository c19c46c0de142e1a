package model

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coach-backend/internal/config"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStreamClient_OpenStream(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
	}))
	defer server.Close()

	client := NewHTTPStreamClient(config.ProviderConfig{
		APIKey:  "secret",
		BaseURL: server.URL + "/api/v3/",
		Model:   "primary-model",
	}, time.Second)

	enabled := true
	body, err := client.OpenStream(context.Background(), &CompletionRequest{
		Messages:       []openai.ChatCompletionMessage{SystemMessage("persona"), UserMessage("hello", []string{"https://img/1.png"})},
		EnableThinking: &enabled,
		ThinkingBudget: 512,
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content":"hi"`)

	assert.Equal(t, "primary-model", captured["model"])
	assert.Equal(t, true, captured["stream"])
	assert.Equal(t, true, captured["enable_thinking"])
	assert.Equal(t, float64(512), captured["thinking_budget"])

	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 2)
	user := messages[1].(map[string]interface{})
	parts := user["content"].([]interface{})
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]interface{})["type"])
	assert.Equal(t, "image_url", parts[1].(map[string]interface{})["type"])
}

func TestHTTPStreamClient_OmitsThinkingFieldsWhenDisabled(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
	}))
	defer server.Close()

	client := NewHTTPStreamClient(config.ProviderConfig{BaseURL: server.URL, Model: "m"}, 0)
	body, err := client.OpenStream(context.Background(), &CompletionRequest{
		Messages: []openai.ChatCompletionMessage{UserMessage("hello", nil)},
	})
	require.NoError(t, err)
	body.Close()

	assert.NotContains(t, captured, "enable_thinking")
	assert.NotContains(t, captured, "thinking_budget")
}

func TestHTTPStreamClient_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "rate limited")
	}))
	defer server.Close()

	client := NewHTTPStreamClient(config.ProviderConfig{BaseURL: server.URL + "/chat/completions"}, 0)
	_, err := client.OpenStream(context.Background(), &CompletionRequest{})
	require.Error(t, err)

	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, http.StatusTooManyRequests, upstreamErr.StatusCode)
	assert.Equal(t, "rate limited", upstreamErr.Body)
	assert.ErrorIs(t, err, ErrUpstreamOpen)
}

func TestHTTPStreamClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewHTTPStreamClient(config.ProviderConfig{BaseURL: url}, 0)
	_, err := client.OpenStream(context.Background(), &CompletionRequest{})
	assert.ErrorIs(t, err, ErrUpstreamOpen)
}

func TestHTTPStreamClient_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewHTTPStreamClient(config.ProviderConfig{BaseURL: server.URL}, 50*time.Millisecond)
	body, err := client.OpenStream(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	defer body.Close()

	_, err = io.ReadAll(body)
	assert.ErrorIs(t, err, ErrUpstreamIdleTimeout)
}

type slowReader struct {
	delay time.Duration
	data  string
}

func (r *slowReader) Read(p []byte) (int, error) {
	time.Sleep(r.delay)
	return copy(p, r.data), nil
}

func TestIdleTimeoutBody_ExpiredDuringRead(t *testing.T) {
	cancelled := make(chan struct{})
	body := newIdleTimeoutBody(io.NopCloser(&slowReader{delay: 100 * time.Millisecond, data: "data: {}\n\n"}),
		func() { close(cancelled) }, 10*time.Millisecond)

	// 计时器在这次读取途中触发，本次拿到的字节照常返回，同时报告超时
	buf := make([]byte, 64)
	n, err := body.Read(buf)
	assert.Equal(t, "data: {}\n\n", string(buf[:n]))
	assert.ErrorIs(t, err, ErrUpstreamIdleTimeout)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("upstream request was not cancelled")
	}
}

func TestParseStreamPayload(t *testing.T) {
	delta, ok := ParseStreamPayload([]byte(`{"choices":[{"delta":{"content":"a","reasoning_content":"r"}}]}`))
	require.True(t, ok)
	assert.Equal(t, StreamDelta{Content: "a", Reasoning: "r"}, delta)

	_, ok = ParseStreamPayload([]byte(`{"choices":[{"delta":`))
	assert.False(t, ok)

	delta, ok = ParseStreamPayload([]byte(`{"choices":[]}`))
	assert.True(t, ok)
	assert.Equal(t, StreamDelta{}, delta)
}

func TestRedactBody(t *testing.T) {
	out := redactBody([]byte(`{"api_key":"tvly-123","query":"x"}`))
	assert.Equal(t, `{"api_key":"[REDACTED]","query":"x"}`, out)
	assert.True(t, isSensitiveHeader("Authorization"))
	assert.False(t, isSensitiveHeader("Content-Type"))
}
