// Package session stores conversational history in redis lists. Each
// session is one list of serialized turns with a sliding TTL: any read or
// write pushes the expiry forward, so a session dies only from inactivity.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/ragmux/internal/types"
)

// retentionFactor bounds the stored list length relative to the history
// depth actually used in prompts. The headroom lets operators raise
// history_turns without losing recent context.
const retentionFactor = 4

// Store persists session turns.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New creates a session store on an existing redis client. A nil client
// disables sessions: IDs are still minted so responses stay shaped the
// same, but history is always empty.
func New(client goredis.UniversalClient, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// NewSessionID mints an opaque session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

func sessionKey(id string) string {
	return "session:" + id
}

// Append records one completed exchange and refreshes the TTL.
// Failures are logged and swallowed: losing a history entry must not fail
// the query that produced it.
func (s *Store) Append(ctx context.Context, id string, turn types.Turn, historyTurns int, ttl time.Duration) {
	if s.client == nil || id == "" {
		return
	}

	data, err := json.Marshal(turn)
	if err != nil {
		s.logger.Warn("session turn encode failed", "session", id, "error", err)
		return
	}

	key := sessionKey(id)
	keep := int64(historyTurns * retentionFactor)
	if keep < 1 {
		keep = 1
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -keep, -1)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("session append failed", "session", id, "error", err)
	}
}

// History returns the most recent n turns in chronological order.
// A missing session or a backend failure yields an empty history.
func (s *Store) History(ctx context.Context, id string, n int, ttl time.Duration) []types.Turn {
	if s.client == nil || id == "" || n <= 0 {
		return nil
	}

	key := sessionKey(id)
	entries, err := s.client.LRange(ctx, key, int64(-n), -1).Result()
	if err != nil {
		s.logger.Warn("session history read failed", "session", id, "error", err)
		return nil
	}
	if len(entries) == 0 {
		return nil
	}

	// Sliding TTL: reading a session keeps it alive.
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		s.logger.Warn("session ttl refresh failed", "session", id, "error", err)
	}

	turns := make([]types.Turn, 0, len(entries))
	for _, entry := range entries {
		var turn types.Turn
		if err := json.Unmarshal([]byte(entry), &turn); err != nil {
			s.logger.Warn("session turn undecodable, skipping", "session", id, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns
}

// Delete removes a session outright.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.client == nil || id == "" {
		return nil
	}
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
