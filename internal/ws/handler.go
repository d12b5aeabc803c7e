package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dongzzi101/chat-sevice/internal/chat"
	"github.com/dongzzi101/chat-sevice/internal/config"
	"github.com/dongzzi101/chat-sevice/internal/domain"
	"github.com/dongzzi101/chat-sevice/internal/session"
	"github.com/dongzzi101/chat-sevice/pkg/jwt"
	"github.com/dongzzi101/chat-sevice/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handler struct {
	registry *session.Registry
	svc      *chat.Service
	tokens   *jwt.Manager
	wsCfg    config.WebSocketConfig
}

// NewHandler builds the websocket endpoint. tokens may be nil, in which
// case the userId query parameter is trusted as-is (local development).
func NewHandler(registry *session.Registry, svc *chat.Service, tokens *jwt.Manager, wsCfg config.WebSocketConfig) *Handler {
	return &Handler{
		registry: registry,
		svc:      svc,
		tokens:   tokens,
		wsCfg:    wsCfg,
	}
}

// Handle upgrades GET /ws. The connection binds to a room via the
// chatRoomId query parameter or, failing that, the first frame's
// chatRoomId field; frames before a room is known are rejected.
func (h *Handler) Handle(c *gin.Context) {
	userID, err := h.authenticate(c)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	boundRoom, _ := strconv.ParseInt(c.Query("chatRoomId"), 10, 64)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Ctx(c.Request.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(userID, conn, h.wsCfg)
	ctx := c.Request.Context()

	h.registry.Register(ctx, userID, client)
	go client.PingLoop()

	// ReadPump invokes the handler from the single read goroutine, so the
	// bound room needs no lock.
	client.ReadPump(func(message []byte) {
		h.handleFrame(client, &boundRoom, message)
	})

	h.registry.UnregisterConn(ctx, userID, client)
}

func (h *Handler) authenticate(c *gin.Context) (int64, error) {
	if h.tokens != nil {
		token := c.Query("token")
		if token == "" {
			return 0, errors.New("missing token")
		}
		claims, err := h.tokens.Verify(token)
		if err != nil {
			return 0, err
		}
		return claims.UserID()
	}
	return strconv.ParseInt(c.Query("userId"), 10, 64)
}

func (h *Handler) handleFrame(client *Client, boundRoom *int64, message []byte) {
	ctx := log.WithLogger(context.Background(), log.L().With().
		Int64(log.FieldUserID, client.UserID).Logger())

	var frame domain.InboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		h.sendError(client, "invalid message format")
		return
	}
	switch {
	case frame.ChatRoomID == 0 && *boundRoom == 0:
		h.sendError(client, "chatRoomId is required")
		return
	case frame.ChatRoomID == 0:
		frame.ChatRoomID = *boundRoom
	case *boundRoom == 0:
		// The first frame that names a room binds the connection to it.
		*boundRoom = frame.ChatRoomID
	}

	if _, err := h.svc.Send(ctx, client.UserID, frame); err != nil {
		switch {
		case errors.Is(err, chat.ErrRoomNotFound):
			h.sendError(client, "chat room not found")
		case errors.Is(err, chat.ErrNotParticipant):
			h.sendError(client, "not a participant of this room")
		case errors.Is(err, chat.ErrEmptyContent):
			h.sendError(client, "message content is empty")
		default:
			log.Ctx(ctx).Error().Int64(log.FieldRoomID, frame.ChatRoomID).Err(err).
				Msg("send failed")
			h.sendError(client, "failed to send message")
		}
	}
}

func (h *Handler) sendError(client *Client, msg string) {
	data, err := json.Marshal(domain.ErrorFrame{Error: msg})
	if err != nil {
		return
	}
	client.WriteLocked(data)
}
