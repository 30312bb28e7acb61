package store

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "rt", zerolog.Nop())
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreSetGet(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	require.NoError(t, s.Set(ctx, "games/main", map[string]any{
		"status":               "lobby",
		"currentQuestionIndex": 0,
	}))
	assert.True(t, mr.Exists("rt:doc:games"))

	got, err := s.Get(ctx, "games/main/status")
	require.NoError(t, err)
	assert.Equal(t, "lobby", got)

	got, err = s.Get(ctx, "games/absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreUpdateAppliesAllPaths(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	require.NoError(t, s.Set(ctx, "games/main", map[string]any{
		"status":         "question_active",
		"previousStatus": "lobby",
		"players": map[string]any{
			"p1": map[string]any{"name": "alice", "score": 0},
		},
	}))

	require.NoError(t, s.Update(ctx, "games/main", map[string]any{
		"status":           "reveal_answer",
		"players/p1/score": 100,
		"previousStatus":   nil,
	}))

	got, err := s.Get(ctx, "games/main")
	require.NoError(t, err)
	tree := got.(map[string]any)
	assert.Equal(t, "reveal_answer", tree["status"])
	_, hasPrev := tree["previousStatus"]
	assert.False(t, hasPrev)

	score, err := s.Get(ctx, "games/main/players/p1/score")
	require.NoError(t, err)
	assert.Equal(t, float64(100), score)
}

func TestRedisStoreRemoveDeletesDocument(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	require.NoError(t, s.Set(ctx, "games/main", map[string]any{"status": "lobby"}))
	require.NoError(t, s.Remove(ctx, "games/main"))
	assert.False(t, mr.Exists("rt:doc:games"))
}

func TestRedisStoreSubscribeDeliversSnapshots(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	values := make(chan any, 8)
	unsub, err := s.Subscribe(ctx, "games/main", func(v any) { values <- v }, func(error) {})
	require.NoError(t, err)
	defer unsub()

	select {
	case v := <-values:
		assert.Nil(t, v) // nothing written yet
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}

	require.NoError(t, s.Set(ctx, "games/main", map[string]any{"status": "lobby"}))
	select {
	case v := <-values:
		snap := v.(map[string]any)
		assert.Equal(t, "lobby", snap["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after write")
	}
}

func TestRedisStoreTouchSetsTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	require.NoError(t, s.Touch(ctx, "presence/abc", map[string]any{"online": true}, time.Minute))
	require.True(t, mr.Exists("rt:eph:presence/abc"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("rt:eph:presence/abc"))
}
