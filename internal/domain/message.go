package domain

import "time"

// Message is a persisted chat message. Immutable once created; everything
// outside the store passes it by value.
type Message struct {
	ID        int64     `json:"messageId"`
	RoomID    int64     `json:"chatRoomId"`
	SenderID  int64     `json:"senderId"`
	Body      string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// PushPayload is the frame written to a live connection and the body of
// node-to-node forwards (POST /internal/message).
type PushPayload struct {
	ReceiverID int64     `json:"receiverId,omitempty"`
	MessageID  int64     `json:"messageId"`
	SenderID   int64     `json:"senderId"`
	Content    string    `json:"content"`
	ChatRoomID int64     `json:"chatRoomId"`
	SentAt     time.Time `json:"sentAt"`
}

// BatchPushPayload is the body of POST /internal/message/batch: one call
// per target node instead of one per user.
type BatchPushPayload struct {
	ReceiverIDs []int64   `json:"receiverIds"`
	MessageID   int64     `json:"messageId"`
	SenderID    int64     `json:"senderId"`
	Content     string    `json:"content"`
	ChatRoomID  int64     `json:"chatRoomId"`
	SentAt      time.Time `json:"sentAt"`
}

// Event is the fan-out log record, partitioned by ChatRoomID so a single
// consumer observes one room's messages in send order.
type Event struct {
	MessageID  int64     `json:"messageId"`
	SenderID   int64     `json:"senderId"`
	Content    string    `json:"content"`
	ChatRoomID int64     `json:"chatRoomId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// InboundFrame is what a client sends over the websocket. A connection
// opened without a chatRoomId query parameter must carry one in its first
// frame. ReceiverID is set only for the 1:1 direct path.
type InboundFrame struct {
	Content    string `json:"content"`
	ChatRoomID int64  `json:"chatRoomId,omitempty"`
	ReceiverID int64  `json:"receiverId,omitempty"`
}

// ErrorFrame is pushed to a client when its frame cannot be processed.
type ErrorFrame struct {
	Error string `json:"error"`
}

// Push converts a message into the wire payload shape.
func (m Message) Push() PushPayload {
	return PushPayload{
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		Content:    m.Body,
		ChatRoomID: m.RoomID,
		SentAt:     m.CreatedAt,
	}
}

// FanoutEvent converts a message into its fan-out log record.
func (m Message) FanoutEvent() Event {
	return Event{
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		Content:    m.Body,
		ChatRoomID: m.RoomID,
		CreatedAt:  m.CreatedAt,
	}
}

// Push converts a consumed event back into the wire payload shape.
func (e Event) Push() PushPayload {
	return PushPayload{
		MessageID:  e.MessageID,
		SenderID:   e.SenderID,
		Content:    e.Content,
		ChatRoomID: e.ChatRoomID,
		SentAt:     e.CreatedAt,
	}
}
