package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"talentchat/internal/service"
)

// ChatHandler expone envio, historial, inbox y borrado de conversaciones.
type ChatHandler struct {
	logger    *zap.Logger
	messages  *service.MessageService
	directory *service.DirectoryService
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(logger *zap.Logger, messages *service.MessageService, directory *service.DirectoryService) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		logger:    logger,
		messages:  messages,
		directory: directory,
	}
}

// PostMessage maneja POST /messages.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	identity, ok := authIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		RoomID    string `json:"room_id"`
		Recipient string `json:"recipient"`
		Sender    string `json:"sender"`
		Body      string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Sender == "" {
		req.Sender = identity
	}

	msg, err := h.messages.Send(c.Request.Context(), identity, service.SendInput{
		RoomID:    req.RoomID,
		Recipient: req.Recipient,
		Sender:    req.Sender,
		Body:      req.Body,
	})
	if err != nil {
		writeServiceError(c, h.logger, "send message", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// GetHistory maneja GET /rooms/:room_id/messages.
func (h *ChatHandler) GetHistory(c *gin.Context) {
	identity, ok := authIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	roomID := c.Param("room_id")
	msgs, err := h.messages.History(c.Request.Context(), identity, roomID)
	if err != nil {
		writeServiceError(c, h.logger, "load history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "messages": msgs, "count": len(msgs)})
}

// ListRooms maneja GET /rooms.
func (h *ChatHandler) ListRooms(c *gin.Context) {
	identity, ok := authIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	rooms, err := h.directory.RoomsForUser(c.Request.Context(), identity)
	if err != nil {
		writeServiceError(c, h.logger, "list rooms", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "count": len(rooms)})
}

// DeleteRoom maneja DELETE /rooms/:room_id.
func (h *ChatHandler) DeleteRoom(c *gin.Context) {
	identity, ok := authIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	roomID := c.Param("room_id")
	deleted, err := h.messages.DeleteRoom(c.Request.Context(), identity, roomID)
	if err != nil {
		writeServiceError(c, h.logger, "delete room", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "deleted_messages": deleted})
}
