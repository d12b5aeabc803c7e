package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dongzzi101/chat-sevice/internal/domain"
)

// MessageStore persists messages keyed (room_id, message_id), clustered
// by message_id for range scans.
type MessageStore interface {
	Append(ctx context.Context, msg domain.Message) error
	// ListBefore returns up to limit messages of a room with id < beforeID,
	// newest first. beforeID <= 0 means "from the newest".
	ListBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]domain.Message, error)
}

type cassandraMessageStore struct {
	shards *ShardSet
}

// NewMessageStore builds the Cassandra-backed message store. Every call
// resolves its session through the shard key in the context.
func NewMessageStore(shards *ShardSet) MessageStore {
	return &cassandraMessageStore{shards: shards}
}

func (s *cassandraMessageStore) Append(ctx context.Context, msg domain.Message) error {
	session, err := s.shards.Session(ctx)
	if err != nil {
		return err
	}

	const q = `INSERT INTO messages (room_id, message_id, sender_id, content, created_at)
	           VALUES (?, ?, ?, ?, ?)`
	if err := session.Query(q, msg.RoomID, msg.ID, msg.SenderID, msg.Body, msg.CreatedAt).
		WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *cassandraMessageStore) ListBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]domain.Message, error) {
	session, err := s.shards.Session(ctx)
	if err != nil {
		return nil, err
	}

	var query string
	var args []interface{}
	if beforeID > 0 {
		query = `SELECT message_id, sender_id, content, created_at
		         FROM messages WHERE room_id = ? AND message_id < ?
		         ORDER BY message_id DESC LIMIT ?`
		args = []interface{}{roomID, beforeID, limit}
	} else {
		query = `SELECT message_id, sender_id, content, created_at
		         FROM messages WHERE room_id = ?
		         ORDER BY message_id DESC LIMIT ?`
		args = []interface{}{roomID, limit}
	}

	iter := session.Query(query, args...).WithContext(ctx).Iter()

	var messages []domain.Message
	var msg domain.Message
	var createdAt time.Time
	for iter.Scan(&msg.ID, &msg.SenderID, &msg.Body, &createdAt) {
		msg.RoomID = roomID
		msg.CreatedAt = createdAt
		messages = append(messages, msg)
		msg = domain.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}
