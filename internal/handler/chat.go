package handler

import (
	"errors"
	"net/http"

	"coach-backend/internal/model"
	"coach-backend/internal/relay"
	"coach-backend/internal/service"
	"coach-backend/internal/storage"
	"coach-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const unavailableMessage = "服务暂时不可用，请稍后重试。"

type ChatHandler struct {
	chats    *service.ChatService
	pipeline *service.Pipeline
}

func NewChatHandler(chats *service.ChatService, pipeline *service.Pipeline) *ChatHandler {
	return &ChatHandler{
		chats:    chats,
		pipeline: pipeline,
	}
}

// Dispatch 单入口，按 action 分发到各自的处理函数
func (h *ChatHandler) Dispatch(c *gin.Context) {
	var req model.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action, err := model.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch action {
	case model.ActionList:
		h.list(c)
	case model.ActionGet:
		h.get(c, req.ConversationID)
	case model.ActionDelete:
		h.delete(c, req.ConversationID)
	case model.ActionRename:
		h.rename(c, req.ConversationID, req.Title)
	case model.ActionChat:
		h.stream(c, &req.PipelineRequest)
	}
}

func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.PipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.stream(c, &req)
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	h.list(c)
}

func (h *ChatHandler) GetConversation(c *gin.Context) {
	h.get(c, c.Param("id"))
}

func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	h.delete(c, c.Param("id"))
}

func (h *ChatHandler) RenameConversation(c *gin.Context) {
	var req model.RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.rename(c, c.Param("id"), req.Title)
}

func (h *ChatHandler) stream(c *gin.Context, req *model.PipelineRequest) {
	err := h.pipeline.Run(c.Request.Context(), req, c.Writer)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": unavailableMessage})
	case errors.Is(err, relay.ErrClientGone):
		logger.Infof("Client disconnected: %v", err)
	default:
		logger.Errorf("Stream ended with error: %v", err)
	}
}

func (h *ChatHandler) list(c *gin.Context) {
	list, err := h.chats.ListConversations(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *ChatHandler) get(c *gin.Context, id string) {
	if !requireID(c, id) {
		return
	}
	conv, err := h.chats.GetConversation(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ChatHandler) delete(c *gin.Context, id string) {
	if !requireID(c, id) {
		return
	}
	if err := h.chats.DeleteConversation(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ChatHandler) rename(c *gin.Context, id, title string) {
	if !requireID(c, id) {
		return
	}
	if err := h.chats.RenameConversation(c.Request.Context(), id, title); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func requireID(c *gin.Context, id string) bool {
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrInvalidRequest), errors.Is(err, storage.ErrInvalidData):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Errorf("Conversation store error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
