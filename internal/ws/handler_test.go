package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongzzi101/chat-sevice/internal/chat"
	"github.com/dongzzi101/chat-sevice/internal/config"
	"github.com/dongzzi101/chat-sevice/internal/domain"
	"github.com/dongzzi101/chat-sevice/internal/session"
	"github.com/dongzzi101/chat-sevice/internal/shard"
)

type stubRooms struct{}

func (stubRooms) Exists(ctx context.Context, roomID int64) (bool, error) {
	return roomID == 5, nil
}

func (stubRooms) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	return true, nil
}

func (stubRooms) ActiveParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	return []int64{1, 2}, nil
}

func (stubRooms) UpdateLastMessage(ctx context.Context, roomID, messageID int64) error {
	return nil
}

type stubMessages struct{}

func (stubMessages) Append(ctx context.Context, msg domain.Message) error { return nil }

func (stubMessages) ListBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]domain.Message, error) {
	return nil, nil
}

type stubIDs struct{ next atomic.Int64 }

func (s *stubIDs) Next() (int64, error) { return s.next.Add(1), nil }

type stubPublisher struct{}

func (stubPublisher) Publish(ctx context.Context, event *domain.Event) error { return nil }

type stubDirect struct{}

func (stubDirect) Deliver(ctx context.Context, receiverID int64, msg domain.Message) {}

type stubDetector struct{}

func (stubDetector) IsHot(ctx context.Context, roomID int64) bool            { return false }
func (stubDetector) ShouldSkipUpdate(ctx context.Context, roomID int64) bool { return false }

type stubFlusher struct{}

func (stubFlusher) Schedule(ctx context.Context, roomID, messageID int64) error { return nil }
func (stubFlusher) FlushIfPending(ctx context.Context, roomID int64) error      { return nil }

// newWSServer stands up the full websocket endpoint backed by stub stores.
// The registry echoes each accepted message back to the sender, so reading
// the socket tells a test whether a frame was accepted or rejected.
func newWSServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	registry := session.NewRegistry(session.NewDirectoryStore(client, "node-a:8080"))
	svc := chat.NewService(
		stubRooms{}, stubMessages{}, &stubIDs{}, shard.NewRouter(1),
		registry, stubDirect{}, stubPublisher{}, stubDetector{}, stubFlusher{},
	)

	wsCfg := config.WebSocketConfig{
		PingInterval:   time.Minute,
		PongWait:       time.Minute,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", NewHandler(registry, svc, nil, wsCfg).Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, query string) string {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	return url
}

func dialHandler(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(newWSServer(t), query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestHandleBindsRoomFromFirstFrame(t *testing.T) {
	conn := dialHandler(t, "userId=1")

	require.NoError(t, conn.WriteJSON(domain.InboundFrame{Content: "hello", ChatRoomID: 5}))
	echo := readFrame(t, conn)
	assert.Equal(t, float64(5), echo["chatRoomId"])

	// The second frame omits the room and still lands in the bound one.
	require.NoError(t, conn.WriteJSON(domain.InboundFrame{Content: "second"}))
	echo = readFrame(t, conn)
	assert.NotContains(t, echo, "error")
	assert.Equal(t, float64(5), echo["chatRoomId"])
	assert.Equal(t, "second", echo["content"])
}

func TestHandleBindsRoomFromQuery(t *testing.T) {
	conn := dialHandler(t, "userId=1&chatRoomId=5")

	require.NoError(t, conn.WriteJSON(domain.InboundFrame{Content: "hello"}))
	echo := readFrame(t, conn)
	assert.Equal(t, float64(5), echo["chatRoomId"])
}

func TestHandleRejectsFrameBeforeRoomIsKnown(t *testing.T) {
	conn := dialHandler(t, "userId=1")

	require.NoError(t, conn.WriteJSON(domain.InboundFrame{Content: "lost"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "chatRoomId is required", frame["error"])

	// A later frame naming a room binds it and goes through.
	require.NoError(t, conn.WriteJSON(domain.InboundFrame{Content: "found", ChatRoomID: 5}))
	echo := readFrame(t, conn)
	assert.Equal(t, float64(5), echo["chatRoomId"])
}

func TestHandleRejectsMissingUser(t *testing.T) {
	srv := newWSServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
