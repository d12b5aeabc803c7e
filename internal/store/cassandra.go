package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/dongzzi101/chat-sevice/internal/config"
	"github.com/dongzzi101/chat-sevice/internal/shard"
)

// ErrNoShardKey is returned when a message-store operation runs outside
// shard.WithRoom. Every path that touches messages must carry the key.
var ErrNoShardKey = errors.New("store: no shard key in context")

// ShardSet holds one Cassandra session per physical message shard.
// Session selection happens per operation through the resolved shard key
// in the ambient context. Room metadata lives on shard 0.
type ShardSet struct {
	sessions []*gocql.Session
}

// NewShardSet connects to every configured shard cluster.
func NewShardSet(cfg config.CassandraConfig) (*ShardSet, error) {
	if len(cfg.Shards) == 0 {
		return nil, errors.New("store: at least one cassandra shard is required")
	}

	sessions := make([]*gocql.Session, 0, len(cfg.Shards))
	for i, sc := range cfg.Shards {
		cluster := gocql.NewCluster(sc.Hosts...)
		cluster.Keyspace = sc.Keyspace
		cluster.ConnectTimeout = cfg.ConnectTimeout
		cluster.Timeout = cfg.Timeout
		cluster.Consistency = parseConsistency(cfg.Consistency)

		session, err := cluster.CreateSession()
		if err != nil {
			for _, s := range sessions {
				s.Close()
			}
			return nil, fmt.Errorf("failed to create cassandra session for shard %d: %w", i, err)
		}
		sessions = append(sessions, session)
	}

	return &ShardSet{sessions: sessions}, nil
}

// Len returns the number of shards; it must match the shard router's.
func (s *ShardSet) Len() int {
	return len(s.sessions)
}

// Session returns the session selected by the shard key in ctx.
func (s *ShardSet) Session(ctx context.Context) (*gocql.Session, error) {
	key, ok := shard.FromContext(ctx)
	if !ok {
		return nil, ErrNoShardKey
	}
	if key < 0 || key >= len(s.sessions) {
		return nil, fmt.Errorf("store: shard key %d out of range [0,%d)", key, len(s.sessions))
	}
	return s.sessions[key], nil
}

// Main returns the shard 0 session that holds room metadata.
func (s *ShardSet) Main() *gocql.Session {
	return s.sessions[0]
}

func (s *ShardSet) Close() {
	for _, session := range s.sessions {
		session.Close()
	}
}

func parseConsistency(name string) gocql.Consistency {
	switch name {
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	default:
		return gocql.LocalQuorum
	}
}
