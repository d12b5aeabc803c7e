package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dongzzi101/chat-sevice/internal/chat"
	"github.com/dongzzi101/chat-sevice/pkg/jwt"
	"github.com/dongzzi101/chat-sevice/pkg/middleware"
	"github.com/dongzzi101/chat-sevice/pkg/response"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type HistoryHandler struct {
	svc    *chat.Service
	tokens *jwt.Manager
}

func NewHistoryHandler(svc *chat.Service, tokens *jwt.Manager) *HistoryHandler {
	return &HistoryHandler{svc: svc, tokens: tokens}
}

func (h *HistoryHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	if h.tokens != nil {
		api.Use(middleware.RequireAuth(h.tokens))
	}
	{
		api.GET("/messages/:chatRoomId", h.GetMessages)
	}
}

// GetMessages pages a room's history backwards: newest first, with an
// optional before cursor holding the message id of the previous page's
// oldest entry.
func (h *HistoryHandler) GetMessages(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("chatRoomId"), 10, 64)
	if err != nil || roomID <= 0 {
		response.BadRequest(c, "chatRoomId must be a positive integer")
		return
	}

	var beforeID int64
	if cursor := c.Query("before"); cursor != "" {
		beforeID, err = strconv.ParseInt(cursor, 10, 64)
		if err != nil || beforeID <= 0 {
			response.BadRequest(c, "before must be a positive integer")
			return
		}
	}

	limit := defaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > maxLimit {
			limit = maxLimit
		}
	}

	userID, ok := middleware.CurrentUser(c)
	if !ok {
		// No auth layer configured; trust the caller-supplied id.
		userID, err = strconv.ParseInt(c.Query("userId"), 10, 64)
		if err != nil || userID <= 0 {
			response.BadRequest(c, "userId must be a positive integer")
			return
		}
	}

	messages, err := h.svc.History(c.Request.Context(), userID, roomID, beforeID, limit)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrRoomNotFound):
			response.NotFound(c, "chat room not found")
		case errors.Is(err, chat.ErrNotParticipant):
			response.Forbidden(c, "not a participant of this room")
		default:
			response.InternalError(c, "failed to load messages")
		}
		return
	}

	response.Success(c, gin.H{
		"chatRoomId": roomID,
		"messages":   messages,
	})
}
