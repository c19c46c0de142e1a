package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"coach-backend/internal/config"
	"coach-backend/internal/model"
	"coach-backend/internal/service"
	"coach-backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const primaryStream = "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n" +
	"data: [DONE]\n\n"

type stubStreamClient struct {
	body    string
	err     error
	readErr error
}

func (s *stubStreamClient) OpenStream(ctx context.Context, req *model.CompletionRequest) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.readErr != nil {
		return io.NopCloser(iotest.ErrReader(s.readErr)), nil
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

type handlerFixture struct {
	router   *gin.Engine
	chats    *service.ChatService
	pipeline *service.Pipeline
	primary  *stubStreamClient
}

func newHandlerFixture() *handlerFixture {
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		chats:   service.NewChatService(storage.NewMemoryStore(), "user-1"),
		primary: &stubStreamClient{body: primaryStream},
	}
	f.pipeline = service.NewPipeline(service.PipelineDeps{
		Config:  config.PipelineConfig{},
		Primary: f.primary,
		Chats:   f.chats,
	})

	h := NewChatHandler(f.chats, f.pipeline)
	f.router = gin.New()
	api := f.router.Group("/api")
	api.POST("/chat", h.Dispatch)
	api.POST("/chat/stream", h.StreamChat)
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/:id", h.GetConversation)
	api.DELETE("/conversations/:id", h.DeleteConversation)
	api.PUT("/conversations/:id", h.RenameConversation)
	return f
}

func (f *handlerFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestStreamChat(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/api/chat/stream", gin.H{"message": "hi"})
	f.pipeline.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, primaryStream, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(service.ConversationHeader))
}

func TestStreamChat_Unavailable(t *testing.T) {
	f := newHandlerFixture()
	f.primary.err = &model.UpstreamError{StatusCode: 502, Body: "bad gateway"}

	rec := f.do(http.MethodPost, "/api/chat/stream", gin.H{"message": "hi"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"服务暂时不可用，请稍后重试。"}`, rec.Body.String())
}

func TestStreamChat_FailsBeforeOutput(t *testing.T) {
	f := newHandlerFixture()
	f.primary.readErr = errors.New("connection reset")

	rec := f.do(http.MethodPost, "/api/chat/stream", gin.H{"message": "hi"})
	f.pipeline.Wait()

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"服务暂时不可用，请稍后重试。"}`, rec.Body.String())
	assert.Empty(t, rec.Header().Get(service.ConversationHeader))
}

func TestStreamChat_Validation(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/api/chat/stream", gin.H{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/chat/stream", gin.H{
		"message": "too many",
		"images":  []string{"1", "2", "3", "4", "5"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispatch_ChatThenConversationActions(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/api/chat", gin.H{"action": "chat", "message": "hi"})
	f.pipeline.Wait()
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get(service.ConversationHeader)
	require.NotEmpty(t, id)

	rec = f.do(http.MethodPost, "/api/chat", gin.H{"action": "list"})
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Conversations []model.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Conversations, 1)
	assert.Equal(t, id, listResp.Conversations[0].ID)
	assert.Equal(t, 2, listResp.Conversations[0].MessageCount)

	rec = f.do(http.MethodPost, "/api/chat", gin.H{"action": "rename", "conversationId": id, "title": "问候"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/chat", gin.H{"action": "get", "conversationId": id})
	require.Equal(t, http.StatusOK, rec.Code)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "问候", conv.Title)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hello world", conv.Messages[1].Content)

	rec = f.do(http.MethodPost, "/api/chat", gin.H{"action": "delete", "conversationId": id})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/chat", gin.H{"action": "get", "conversationId": id})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatch_BadActions(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(http.MethodPost, "/api/chat", gin.H{"action": "explode"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/chat", gin.H{"message": "no action"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/chat", gin.H{"action": "get"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRESTConversationRoutes(t *testing.T) {
	f := newHandlerFixture()
	conv, err := f.chats.CreateConversation(context.Background(), "", "", model.LanguageZH)
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/api/conversations", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), conv.ID)

	rec = f.do(http.MethodPut, "/api/conversations/"+conv.ID, gin.H{"title": "新标题"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPut, "/api/conversations/"+conv.ID, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "新标题")

	rec = f.do(http.MethodDelete, "/api/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, "/api/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
