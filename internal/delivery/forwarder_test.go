package delivery

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongzzi101/chat-sevice/internal/domain"
)

func TestForwardDeliversPayload(t *testing.T) {
	var (
		mu     sync.Mutex
		path   string
		body   []byte
		calls  int
		server *httptest.Server
	)
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := NewForwarder(3, 10*time.Millisecond, time.Second)
	payload := domain.PushPayload{ReceiverID: 2, MessageID: 10, SenderID: 1, Content: "hi", ChatRoomID: 5}
	f.Forward(strings.TrimPrefix(server.URL, "http://"), payload)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "/internal/message", path)

	var got domain.PushPayload
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, payload.ReceiverID, got.ReceiverID)
	assert.Equal(t, payload.MessageID, got.MessageID)
	assert.Equal(t, payload.Content, got.Content)
}

func TestForwardBatchUsesBatchPath(t *testing.T) {
	var gotPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
	}))
	defer server.Close()

	f := NewForwarder(3, 10*time.Millisecond, time.Second)
	f.ForwardBatch(strings.TrimPrefix(server.URL, "http://"),
		domain.BatchPushPayload{ReceiverIDs: []int64{2, 3}, MessageID: 10})

	assert.Equal(t, "/internal/message/batch", gotPath.Load())
}

func TestForwardRetriesThenDrops(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewForwarder(3, 5*time.Millisecond, time.Second)
	f.Forward(strings.TrimPrefix(server.URL, "http://"), domain.PushPayload{MessageID: 1})

	// Attempts run at +5ms and +10ms after the inline one; wait clear of both.
	require.Eventually(t, func() bool {
		return calls.Load() == 3
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "no attempts past the retry cap")
}

func TestForwardRecoversMidRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := NewForwarder(3, 5*time.Millisecond, time.Second)
	f.Forward(strings.TrimPrefix(server.URL, "http://"), domain.PushPayload{MessageID: 1})

	require.Eventually(t, func() bool {
		return calls.Load() == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load(), "success must stop the retry chain")
}
