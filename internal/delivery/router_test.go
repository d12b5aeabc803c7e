package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongzzi101/chat-sevice/internal/domain"
	"github.com/dongzzi101/chat-sevice/internal/session"
)

type fakeDirectory struct {
	self    string
	records map[int64]string
	err     error
}

func (f *fakeDirectory) Lookup(ctx context.Context, userID int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	addr, ok := f.records[userID]
	if !ok {
		return "", session.ErrOffline
	}
	return addr, nil
}

func (f *fakeDirectory) Self() string { return f.self }

type fakeLocal struct {
	sent map[int64]any
	err  error
}

func (f *fakeLocal) SendLocal(ctx context.Context, userID int64, payload any) error {
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = make(map[int64]any)
	}
	f.sent[userID] = payload
	return nil
}

type forwardCall struct {
	addr    string
	payload any
}

type fakeForwarder struct {
	forwards []forwardCall
	batches  []forwardCall
}

func (f *fakeForwarder) Forward(nodeAddr string, payload any) {
	f.forwards = append(f.forwards, forwardCall{addr: nodeAddr, payload: payload})
}

func (f *fakeForwarder) ForwardBatch(nodeAddr string, payload any) {
	f.batches = append(f.batches, forwardCall{addr: nodeAddr, payload: payload})
}

func testMessage() domain.Message {
	return domain.Message{
		ID:        100,
		RoomID:    5,
		SenderID:  1,
		Body:      "hello",
		CreatedAt: time.Now().UTC(),
	}
}

func TestDeliverLocal(t *testing.T) {
	dir := &fakeDirectory{self: "node-a", records: map[int64]string{2: "node-a"}}
	local := &fakeLocal{}
	fw := &fakeForwarder{}
	r := NewRouter(dir, local, fw)

	r.Deliver(context.Background(), 2, testMessage())

	require.Contains(t, local.sent, int64(2))
	payload, ok := local.sent[2].(domain.PushPayload)
	require.True(t, ok)
	assert.Equal(t, int64(2), payload.ReceiverID)
	assert.Equal(t, int64(100), payload.MessageID)
	assert.Empty(t, fw.forwards)
}

func TestDeliverForwardsToPeer(t *testing.T) {
	dir := &fakeDirectory{self: "node-a", records: map[int64]string{2: "node-b"}}
	local := &fakeLocal{}
	fw := &fakeForwarder{}
	r := NewRouter(dir, local, fw)

	r.Deliver(context.Background(), 2, testMessage())

	assert.Empty(t, local.sent)
	require.Len(t, fw.forwards, 1)
	assert.Equal(t, "node-b", fw.forwards[0].addr)

	payload, ok := fw.forwards[0].payload.(domain.PushPayload)
	require.True(t, ok)
	assert.Equal(t, int64(2), payload.ReceiverID)
	assert.Equal(t, "hello", payload.Content)
}

func TestDeliverOfflineIsNoop(t *testing.T) {
	dir := &fakeDirectory{self: "node-a", records: map[int64]string{}}
	local := &fakeLocal{}
	fw := &fakeForwarder{}
	r := NewRouter(dir, local, fw)

	r.Deliver(context.Background(), 42, testMessage())

	assert.Empty(t, local.sent)
	assert.Empty(t, fw.forwards)
}

func TestDeliverDirectoryErrorDegradesToOffline(t *testing.T) {
	dir := &fakeDirectory{self: "node-a", err: errors.New("redis down")}
	local := &fakeLocal{}
	fw := &fakeForwarder{}
	r := NewRouter(dir, local, fw)

	r.Deliver(context.Background(), 2, testMessage())

	assert.Empty(t, local.sent)
	assert.Empty(t, fw.forwards)
}

func TestDeliverBatch(t *testing.T) {
	dir := &fakeDirectory{self: "node-a"}
	fw := &fakeForwarder{}
	r := NewRouter(dir, &fakeLocal{}, fw)

	r.DeliverBatch(context.Background(), "node-b", []int64{2, 3, 4}, testMessage())

	require.Len(t, fw.batches, 1)
	assert.Equal(t, "node-b", fw.batches[0].addr)

	payload, ok := fw.batches[0].payload.(domain.BatchPushPayload)
	require.True(t, ok)
	assert.Equal(t, []int64{2, 3, 4}, payload.ReceiverIDs)
	assert.Equal(t, int64(100), payload.MessageID)
}

func TestDeliverBatchEmptyReceivers(t *testing.T) {
	fw := &fakeForwarder{}
	r := NewRouter(&fakeDirectory{self: "node-a"}, &fakeLocal{}, fw)

	r.DeliverBatch(context.Background(), "node-b", nil, testMessage())

	assert.Empty(t, fw.batches)
}
