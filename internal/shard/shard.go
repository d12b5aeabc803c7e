// Package shard routes message-store operations to a physical partition.
// The shard key is derived once per logical request from the room id and
// travels in the request context, so a send and its follow-up reads
// against the same room always hit the same partition.
package shard

import "context"

type ctxKey struct{}

// Router resolves room ids to shard indexes.
type Router struct {
	shards int
}

// NewRouter creates a Router over a fixed number of physical shards.
func NewRouter(shards int) *Router {
	if shards < 1 {
		shards = 1
	}
	return &Router{shards: shards}
}

// Shards returns the number of physical shards.
func (r *Router) Shards() int {
	return r.shards
}

// Resolve maps a room id to its shard index.
func (r *Router) Resolve(roomID int64) int {
	if roomID < 0 {
		roomID = -roomID
	}
	return int(roomID % int64(r.shards))
}

// WithRoom returns a context carrying the shard key for roomID. The key
// is scoped to the returned context and does not leak across requests.
func (r *Router) WithRoom(ctx context.Context, roomID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, r.Resolve(roomID))
}

// Do runs fn with the shard key for roomID in scope.
func (r *Router) Do(ctx context.Context, roomID int64, fn func(ctx context.Context) error) error {
	return fn(r.WithRoom(ctx, roomID))
}

// FromContext extracts the shard key placed by WithRoom.
func FromContext(ctx context.Context) (int, bool) {
	k, ok := ctx.Value(ctxKey{}).(int)
	return k, ok
}
