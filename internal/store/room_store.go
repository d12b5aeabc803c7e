package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
)

// ErrRoomNotFound reports a lookup against an unknown room.
var ErrRoomNotFound = errors.New("store: room not found")

// RoomStore answers room membership questions and owns the per-room
// "last message" pointer used for room-list previews. Membership and
// room creation themselves belong to the room service; this store only
// reads them and advances the pointer.
type RoomStore interface {
	Exists(ctx context.Context, roomID int64) (bool, error)
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)
	ActiveParticipants(ctx context.Context, roomID int64) ([]int64, error)
	// UpdateLastMessage advances the pointer to messageID. It is a no-op
	// unless messageID exceeds the stored value, so out-of-order calls
	// never regress the pointer.
	UpdateLastMessage(ctx context.Context, roomID, messageID int64) error
}

type cassandraRoomStore struct {
	shards *ShardSet
}

// NewRoomStore builds the room metadata store on the main keyspace.
func NewRoomStore(shards *ShardSet) RoomStore {
	return &cassandraRoomStore{shards: shards}
}

func (s *cassandraRoomStore) Exists(ctx context.Context, roomID int64) (bool, error) {
	var id int64
	err := s.shards.Main().
		Query(`SELECT room_id FROM rooms WHERE room_id = ?`, roomID).
		WithContext(ctx).Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up room: %w", err)
	}
	return true, nil
}

func (s *cassandraRoomStore) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	var id int64
	err := s.shards.Main().
		Query(`SELECT user_id FROM room_participants WHERE room_id = ? AND user_id = ?`, roomID, userID).
		WithContext(ctx).Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up participant: %w", err)
	}
	return true, nil
}

func (s *cassandraRoomStore) ActiveParticipants(ctx context.Context, roomID int64) ([]int64, error) {
	iter := s.shards.Main().
		Query(`SELECT user_id FROM room_participants WHERE room_id = ?`, roomID).
		WithContext(ctx).Iter()

	var users []int64
	var id int64
	for iter.Scan(&id) {
		users = append(users, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return users, nil
}

func (s *cassandraRoomStore) UpdateLastMessage(ctx context.Context, roomID, messageID int64) error {
	// Conditional write keeps the pointer monotonic under concurrent and
	// out-of-order flushes.
	applied, err := s.shards.Main().
		Query(`UPDATE rooms SET last_message_id = ? WHERE room_id = ? IF last_message_id < ?`,
			messageID, roomID, messageID).
		WithContext(ctx).ScanCAS(new(int64))
	if err != nil {
		return fmt.Errorf("failed to update last message pointer: %w", err)
	}
	if applied {
		return nil
	}

	// Not applied: either a newer id already won (done) or the pointer is
	// still unset and the comparison against null failed.
	applied, err = s.shards.Main().
		Query(`UPDATE rooms SET last_message_id = ? WHERE room_id = ? IF last_message_id = null`,
			messageID, roomID).
		WithContext(ctx).ScanCAS(new(int64))
	if err != nil {
		return fmt.Errorf("failed to initialise last message pointer: %w", err)
	}
	_ = applied // a concurrent winner is fine; max wins either way
	return nil
}
