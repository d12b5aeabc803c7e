package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ErrOffline reports that a user has no directory record anywhere.
var ErrOffline = errors.New("session: user offline")

// DirectoryStore keeps user:{id} -> node address records in Redis.
// Records carry no expiry; they are written on connect and deleted on
// disconnect. A stale record (crashed node) shows up as a forward
// failure downstream, which delivery treats as a drop.
type DirectoryStore struct {
	client           *redis.Client
	advertiseAddress string
}

func NewDirectoryStore(client *redis.Client, advertiseAddress string) *DirectoryStore {
	return &DirectoryStore{
		client:           client,
		advertiseAddress: advertiseAddress,
	}
}

func userKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// Put records that this node holds the user's connection.
func (d *DirectoryStore) Put(ctx context.Context, userID int64) error {
	if err := d.client.Set(ctx, userKey(userID), d.advertiseAddress, 0).Err(); err != nil {
		return fmt.Errorf("failed to write directory record: %w", err)
	}
	return nil
}

// Delete removes the user's record.
func (d *DirectoryStore) Delete(ctx context.Context, userID int64) error {
	if err := d.client.Del(ctx, userKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete directory record: %w", err)
	}
	return nil
}

// Lookup returns the address of the node holding the user's connection,
// or ErrOffline.
func (d *DirectoryStore) Lookup(ctx context.Context, userID int64) (string, error) {
	addr, err := d.client.Get(ctx, userKey(userID)).Result()
	if err == redis.Nil {
		return "", ErrOffline
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up directory record: %w", err)
	}
	return addr, nil
}

// LookupAll resolves many users in one MGET. Users without a record are
// absent from the result.
func (d *DirectoryStore) LookupAll(ctx context.Context, userIDs []int64) (map[int64]string, error) {
	if len(userIDs) == 0 {
		return map[int64]string{}, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = userKey(id)
	}

	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory records: %w", err)
	}

	out := make(map[int64]string, len(userIDs))
	for i, v := range values {
		addr, ok := v.(string)
		if !ok || addr == "" {
			continue
		}
		out[userIDs[i]] = addr
	}
	return out, nil
}

// Self returns this node's advertise address.
func (d *DirectoryStore) Self() string {
	return d.advertiseAddress
}
