package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongzzi101/chat-sevice/internal/domain"
	"github.com/dongzzi101/chat-sevice/internal/session"
)

type fakeParticipants struct {
	members map[int64][]int64
	err     error
}

func (f *fakeParticipants) ActiveParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.members[roomID], nil
}

type fakeDirectory struct {
	self    string
	records map[int64]string
	err     error
}

func (f *fakeDirectory) LookupAll(ctx context.Context, userIDs []int64) (map[int64]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]string)
	for _, id := range userIDs {
		if addr, ok := f.records[id]; ok {
			out[id] = addr
		}
	}
	return out, nil
}

func (f *fakeDirectory) Self() string { return f.self }

type fakeLocal struct {
	mu      sync.Mutex
	sent    map[int64]any
	missing map[int64]bool
}

func (f *fakeLocal) SendLocal(ctx context.Context, userID int64, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[userID] {
		return session.ErrNotConnected
	}
	if f.sent == nil {
		f.sent = make(map[int64]any)
	}
	f.sent[userID] = payload
	return nil
}

type batchCall struct {
	addr      string
	receivers []int64
	msg       domain.Message
}

type fakeBatchDeliverer struct {
	mu    sync.Mutex
	calls []batchCall
}

func (f *fakeBatchDeliverer) DeliverBatch(ctx context.Context, nodeAddr string, receiverIDs []int64, msg domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, batchCall{addr: nodeAddr, receivers: receiverIDs, msg: msg})
}

func testEvent() domain.Event {
	return domain.Event{
		MessageID:  100,
		SenderID:   1,
		Content:    "hello",
		ChatRoomID: 5,
		CreatedAt:  time.Now().UTC(),
	}
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHandleFansOutAcrossNodes(t *testing.T) {
	// Room 5: sender 1 plus users 2..5. User 2 is local, 3 and 4 share a
	// remote node, 5 is offline.
	participants := &fakeParticipants{members: map[int64][]int64{
		5: {1, 2, 3, 4, 5},
	}}
	directory := &fakeDirectory{
		self: "node-a",
		records: map[int64]string{
			1: "node-a",
			2: "node-a",
			3: "node-b",
			4: "node-b",
		},
	}
	local := &fakeLocal{}
	deliverer := &fakeBatchDeliverer{}
	h := NewHandler(participants, directory, local, deliverer)

	require.NoError(t, h.Handle(context.Background(), marshal(t, testEvent())))

	assert.Contains(t, local.sent, int64(2))
	assert.NotContains(t, local.sent, int64(1), "sender must not receive their own fanout")

	require.Len(t, deliverer.calls, 1)
	call := deliverer.calls[0]
	assert.Equal(t, "node-b", call.addr)
	sort.Slice(call.receivers, func(i, j int) bool { return call.receivers[i] < call.receivers[j] })
	assert.Equal(t, []int64{3, 4}, call.receivers)
	assert.Equal(t, int64(100), call.msg.ID)
}

func TestHandleLocalOnly(t *testing.T) {
	participants := &fakeParticipants{members: map[int64][]int64{5: {1, 2}}}
	directory := &fakeDirectory{self: "node-a", records: map[int64]string{2: "node-a"}}
	local := &fakeLocal{}
	deliverer := &fakeBatchDeliverer{}
	h := NewHandler(participants, directory, local, deliverer)

	require.NoError(t, h.Handle(context.Background(), marshal(t, testEvent())))

	payload, ok := local.sent[2].(domain.PushPayload)
	require.True(t, ok)
	assert.Equal(t, int64(100), payload.MessageID)
	assert.Equal(t, "hello", payload.Content)
	assert.Empty(t, deliverer.calls)
}

func TestHandleLocalSessionGone(t *testing.T) {
	participants := &fakeParticipants{members: map[int64][]int64{5: {1, 2}}}
	directory := &fakeDirectory{self: "node-a", records: map[int64]string{2: "node-a"}}
	local := &fakeLocal{missing: map[int64]bool{2: true}}
	h := NewHandler(participants, directory, local, &fakeBatchDeliverer{})

	// A receiver who dropped between directory resolve and push is skipped.
	require.NoError(t, h.Handle(context.Background(), marshal(t, testEvent())))
	assert.Empty(t, local.sent)
}

func TestHandleMalformedEventSkipped(t *testing.T) {
	participants := &fakeParticipants{members: map[int64][]int64{}}
	deliverer := &fakeBatchDeliverer{}
	h := NewHandler(participants, &fakeDirectory{self: "node-a"}, &fakeLocal{}, deliverer)

	require.NoError(t, h.Handle(context.Background(), []byte("{not json")))
	assert.Empty(t, deliverer.calls)
}

func TestHandleParticipantLookupFailureIsRetryable(t *testing.T) {
	participants := &fakeParticipants{err: errors.New("cassandra down")}
	deliverer := &fakeBatchDeliverer{}
	local := &fakeLocal{}
	h := NewHandler(participants, &fakeDirectory{self: "node-a"}, local, deliverer)

	// A store failure surfaces as an error so the offset is not committed
	// and the event is delivered again. Nothing must go out half-done.
	err := h.Handle(context.Background(), marshal(t, testEvent()))
	require.Error(t, err)
	assert.Empty(t, local.sent)
	assert.Empty(t, deliverer.calls)

	// Once the store recovers, replaying the same bytes delivers normally.
	participants.err = nil
	participants.members = map[int64][]int64{testEvent().ChatRoomID: {1, 2}}
	require.NoError(t, h.Handle(context.Background(), marshal(t, testEvent())))
}

func TestHandleDirectoryLookupFailureIsRetryable(t *testing.T) {
	event := testEvent()
	participants := &fakeParticipants{members: map[int64][]int64{event.ChatRoomID: {1, 2}}}
	deliverer := &fakeBatchDeliverer{}
	local := &fakeLocal{}
	h := NewHandler(participants, &fakeDirectory{self: "node-a", err: errors.New("redis down")}, local, deliverer)

	err := h.Handle(context.Background(), marshal(t, event))
	require.Error(t, err)
	assert.Empty(t, local.sent)
	assert.Empty(t, deliverer.calls)
}

func TestHandleEachNodeDeliversItsOwnLocals(t *testing.T) {
	// The same event reaches every node's consumer. Node A must push only
	// to B, node B only to C; the sender A gets nothing from either.
	participants := &fakeParticipants{members: map[int64][]int64{5: {1, 2, 3}}}
	records := map[int64]string{1: "node-a", 2: "node-a", 3: "node-b"}

	localA := &fakeLocal{}
	handlerA := NewHandler(participants,
		&fakeDirectory{self: "node-a", records: records}, localA, &fakeBatchDeliverer{})

	localB := &fakeLocal{}
	handlerB := NewHandler(participants,
		&fakeDirectory{self: "node-b", records: records}, localB, &fakeBatchDeliverer{})

	event := marshal(t, testEvent())
	require.NoError(t, handlerA.Handle(context.Background(), event))
	require.NoError(t, handlerB.Handle(context.Background(), event))

	assert.Contains(t, localA.sent, int64(2))
	assert.NotContains(t, localA.sent, int64(3))
	assert.NotContains(t, localA.sent, int64(1))

	assert.Contains(t, localB.sent, int64(3))
	assert.NotContains(t, localB.sent, int64(2))
	assert.NotContains(t, localB.sent, int64(1))
}

func TestHandleReplayIsIdempotentDownstream(t *testing.T) {
	// Replaying the same event after an unclean shutdown delivers the same
	// payload again; recipients dedupe on message id. The handler itself
	// must behave identically on both passes.
	participants := &fakeParticipants{members: map[int64][]int64{5: {1, 2}}}
	directory := &fakeDirectory{self: "node-a", records: map[int64]string{2: "node-a"}}
	local := &fakeLocal{}
	h := NewHandler(participants, directory, local, &fakeBatchDeliverer{})

	event := marshal(t, testEvent())
	require.NoError(t, h.Handle(context.Background(), event))
	first := local.sent[2]
	require.NoError(t, h.Handle(context.Background(), event))

	assert.Equal(t, first, local.sent[2])
}
