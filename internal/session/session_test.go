package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/ragmux/internal/types"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, slog.New(slog.NewTextHandler(io.Discard, nil))), s
}

func TestAppendAndHistory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	id := NewSessionID()

	store.Append(ctx, id, types.NewTurn("q1", "a1"), 3, time.Minute)
	store.Append(ctx, id, types.NewTurn("q2", "a2"), 3, time.Minute)
	store.Append(ctx, id, types.NewTurn("q3", "a3"), 3, time.Minute)

	turns := store.History(ctx, id, 2, time.Minute)
	require.Len(t, turns, 2)
	assert.Equal(t, "q2", turns[0].Question)
	assert.Equal(t, "q3", turns[1].Question)

	t.Run("timestamps are RFC3339 UTC", func(t *testing.T) {
		ts, err := time.Parse(time.RFC3339, turns[0].Timestamp)
		require.NoError(t, err)
		assert.Equal(t, time.UTC, ts.Location())
	})
}

func TestHistoryUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Empty(t, store.History(context.Background(), "missing", 3, time.Minute))
}

func TestListTrimmedToRetentionBound(t *testing.T) {
	store, s := newTestStore(t)
	ctx := context.Background()
	id := NewSessionID()

	const historyTurns = 3
	for i := 0; i < 50; i++ {
		store.Append(ctx, id, types.NewTurn(fmt.Sprintf("q%d", i), "a"), historyTurns, time.Minute)
	}

	entries, err := s.List(sessionKey(id))
	require.NoError(t, err)
	assert.Len(t, entries, historyTurns*retentionFactor)

	// The newest turns survive the trim.
	turns := store.History(ctx, id, historyTurns, time.Minute)
	require.Len(t, turns, historyTurns)
	assert.Equal(t, "q49", turns[historyTurns-1].Question)
}

func TestSlidingTTL(t *testing.T) {
	store, s := newTestStore(t)
	ctx := context.Background()
	id := NewSessionID()

	store.Append(ctx, id, types.NewTurn("q", "a"), 3, time.Minute)

	// Reads push the expiry forward; without them the session would have
	// died after one minute.
	for i := 0; i < 3; i++ {
		s.FastForward(45 * time.Second)
		require.NotEmpty(t, store.History(ctx, id, 3, time.Minute))
	}

	s.FastForward(2 * time.Minute)
	assert.Empty(t, store.History(ctx, id, 3, time.Minute))
}

func TestCorruptEntrySkipped(t *testing.T) {
	store, s := newTestStore(t)
	ctx := context.Background()
	id := NewSessionID()

	store.Append(ctx, id, types.NewTurn("q1", "a1"), 3, time.Minute)
	_, err := s.RPush(sessionKey(id), "not json")
	require.NoError(t, err)
	store.Append(ctx, id, types.NewTurn("q2", "a2"), 3, time.Minute)

	turns := store.History(ctx, id, 10, time.Minute)
	require.Len(t, turns, 2)
	assert.Equal(t, "q1", turns[0].Question)
	assert.Equal(t, "q2", turns[1].Question)
}

func TestRedisDownDegrades(t *testing.T) {
	store, s := newTestStore(t)
	ctx := context.Background()
	id := NewSessionID()

	s.Close()

	store.Append(ctx, id, types.NewTurn("q", "a"), 3, time.Minute) // must not panic
	assert.Empty(t, store.History(ctx, id, 3, time.Minute))
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	id := NewSessionID()

	store.Append(ctx, id, types.NewTurn("q", "a"), 3, time.Minute)
	require.NoError(t, store.Delete(ctx, id))
	assert.Empty(t, store.History(ctx, id, 3, time.Minute))
}

func TestDisabledStore(t *testing.T) {
	store := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	store.Append(ctx, "id", types.NewTurn("q", "a"), 3, time.Minute)
	assert.Empty(t, store.History(ctx, "id", 3, time.Minute))
	assert.NoError(t, store.Delete(ctx, "id"))
}
