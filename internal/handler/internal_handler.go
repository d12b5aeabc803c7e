// Package handler exposes the node's HTTP surface: the node-to-node
// delivery endpoints under /internal and the client-facing history API.
package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/dongzzi101/chat-sevice/internal/domain"
	"github.com/dongzzi101/chat-sevice/internal/session"
	"github.com/dongzzi101/chat-sevice/pkg/log"
	"github.com/dongzzi101/chat-sevice/pkg/response"
)

// InternalHandler receives forwarded messages from peer nodes and pushes
// them onto local sockets. A receiver who disconnected after the sending
// node resolved the directory is logged and dropped, not an error: the
// forward was correct when it was made.
type InternalHandler struct {
	registry *session.Registry
}

func NewInternalHandler(registry *session.Registry) *InternalHandler {
	return &InternalHandler{registry: registry}
}

func (h *InternalHandler) RegisterRoutes(r *gin.Engine) {
	internal := r.Group("/internal")
	{
		internal.POST("/message", h.ReceiveMessage)
		internal.POST("/message/batch", h.ReceiveBatch)
	}
}

func (h *InternalHandler) ReceiveMessage(c *gin.Context) {
	var payload domain.PushPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.BadRequest(c, "invalid payload")
		return
	}
	if payload.ReceiverID == 0 {
		response.BadRequest(c, "receiverId is required")
		return
	}

	ctx := c.Request.Context()
	if err := h.registry.SendLocal(ctx, payload.ReceiverID, payload); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			log.Ctx(ctx).Debug().
				Int64(log.FieldUserID, payload.ReceiverID).
				Int64(log.FieldMessageID, payload.MessageID).
				Msg("forwarded receiver no longer connected, dropping")
		} else {
			log.Ctx(ctx).Warn().
				Int64(log.FieldUserID, payload.ReceiverID).
				Int64(log.FieldMessageID, payload.MessageID).
				Err(err).Msg("local push of forwarded message failed")
		}
	}

	response.Success(c, gin.H{"delivered": true})
}

func (h *InternalHandler) ReceiveBatch(c *gin.Context) {
	var payload domain.BatchPushPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.BadRequest(c, "invalid payload")
		return
	}
	if len(payload.ReceiverIDs) == 0 {
		response.BadRequest(c, "receiverIds is required")
		return
	}

	ctx := c.Request.Context()
	push := domain.PushPayload{
		MessageID:  payload.MessageID,
		SenderID:   payload.SenderID,
		Content:    payload.Content,
		ChatRoomID: payload.ChatRoomID,
		SentAt:     payload.SentAt,
	}

	delivered := 0
	for _, receiverID := range payload.ReceiverIDs {
		if err := h.registry.SendLocal(ctx, receiverID, push); err != nil {
			if !errors.Is(err, session.ErrNotConnected) {
				log.Ctx(ctx).Warn().
					Int64(log.FieldUserID, receiverID).
					Int64(log.FieldMessageID, payload.MessageID).
					Err(err).Msg("local push of forwarded message failed")
			}
			continue
		}
		delivered++
	}

	response.Success(c, gin.H{"delivered": delivered})
}
