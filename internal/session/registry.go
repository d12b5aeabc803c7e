// Package session tracks live connections: a process-local map of user id
// to connection handle, mirrored by a directory record in Redis recording
// which node holds each user. The directory is the only cross-node source
// of truth for "who is where".
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dongzzi101/chat-sevice/pkg/log"
)

// ErrNotConnected reports that a user has no open connection on this node.
var ErrNotConnected = errors.New("session: user not connected here")

// Conn is the live connection handle. Writes to the underlying websocket
// are not safe for concurrent use; WriteLocked serializes them under the
// connection's own lock.
type Conn interface {
	WriteLocked(data []byte) error
	Close() error
}

type entry struct {
	conn Conn
}

// Registry owns the local session table and keeps the directory record in
// step with it.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[int64]*entry
	directory *DirectoryStore
}

func NewRegistry(directory *DirectoryStore) *Registry {
	return &Registry{
		sessions:  make(map[int64]*entry),
		directory: directory,
	}
}

// Register stores the local handle and writes the directory record. A
// directory write failure does not fail registration: the user stays
// reachable locally even while cross-node visibility is lost. A handle
// replaced by a reconnect is closed.
func (r *Registry) Register(ctx context.Context, userID int64, conn Conn) {
	r.mu.Lock()
	var stale Conn
	if old, ok := r.sessions[userID]; ok && old.conn != conn {
		stale = old.conn
	}
	r.sessions[userID] = &entry{conn: conn}
	total := len(r.sessions)
	r.mu.Unlock()

	if stale != nil {
		stale.Close()
	}

	if err := r.directory.Put(ctx, userID); err != nil {
		l := log.L()
		l.Error().Int64(log.FieldUserID, userID).Err(err).
			Msg("failed to write directory record, session registered locally only")
	}

	l := log.L()
	l.Info().Int64(log.FieldUserID, userID).Int("total_sessions", total).Msg("user connected")
}

// Unregister removes the local handle and deletes the directory record
// (best-effort). The local map is cleared first so a concurrent refresh
// cannot resurrect the record.
func (r *Registry) Unregister(ctx context.Context, userID int64) {
	r.mu.Lock()
	delete(r.sessions, userID)
	total := len(r.sessions)
	r.mu.Unlock()

	if err := r.directory.Delete(ctx, userID); err != nil {
		l := log.L()
		l.Warn().Int64(log.FieldUserID, userID).Err(err).Msg("failed to delete directory record")
	}

	l := log.L()
	l.Info().Int64(log.FieldUserID, userID).Int("total_sessions", total).Msg("user disconnected")
}

// UnregisterConn unregisters only if conn is still the user's current
// handle, so a dying connection cannot evict the session of a reconnect
// that already replaced it. The identity check and the delete happen
// under one lock; a reconnect cannot slip in between them.
func (r *Registry) UnregisterConn(ctx context.Context, userID int64, conn Conn) {
	r.mu.Lock()
	e, ok := r.sessions[userID]
	if !ok || e.conn != conn {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, userID)
	total := len(r.sessions)
	r.mu.Unlock()

	if err := r.directory.Delete(ctx, userID); err != nil {
		l := log.L()
		l.Warn().Int64(log.FieldUserID, userID).Err(err).Msg("failed to delete directory record")
	}

	l := log.L()
	l.Info().Int64(log.FieldUserID, userID).Int("total_sessions", total).Msg("user disconnected")
}

// SendLocal marshals payload and writes it to the user's connection,
// serialized per user. Returns ErrNotConnected when the user has no
// session on this node.
func (r *Registry) SendLocal(ctx context.Context, userID int64, payload any) error {
	r.mu.RLock()
	e, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.conn.WriteLocked(data)
}

// IsOnline is a pure local presence check used for diagnostics.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

// Count returns the number of local sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
