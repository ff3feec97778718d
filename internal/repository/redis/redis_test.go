package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/events"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientFrom(rdb), mr
}

func TestBoardCache(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	cache := NewBoardCache(client, time.Minute)

	sessionID := uuid.New()
	board := &domain.SessionBoard{
		Session: domain.Session{ID: sessionID, Title: "Retro", Status: domain.SessionInProgress},
		Topics:  []domain.Topic{{ID: uuid.New(), SessionID: sessionID, Title: "CI is slow", VoteCount: 2}},
	}

	t.Run("miss returns nil", func(t *testing.T) {
		got, generation, err := cache.Get(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Zero(t, generation)
	})

	t.Run("set then get", func(t *testing.T) {
		_, generation, err := cache.Get(ctx, sessionID)
		require.NoError(t, err)
		require.NoError(t, cache.Set(ctx, board, generation))

		got, _, err := cache.Get(ctx, sessionID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Retro", got.Session.Title)
		require.Len(t, got.Topics, 1)
		assert.Equal(t, 2, got.Topics[0].VoteCount)
		assert.Equal(t, time.Minute, mr.TTL(boardKey(sessionID)))
	})

	t.Run("invalidate drops entry and bumps generation", func(t *testing.T) {
		_, before, err := cache.Get(ctx, sessionID)
		require.NoError(t, err)
		require.NoError(t, cache.Set(ctx, board, before))
		require.NoError(t, cache.Invalidate(ctx, sessionID))

		got, after, err := cache.Get(ctx, sessionID)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, before+1, after)
		assert.Equal(t, generationTTL, mr.TTL(generationKey(sessionID)))
	})

	t.Run("board loaded before an invalidation is not written", func(t *testing.T) {
		id := uuid.New()
		_, generation, err := cache.Get(ctx, id)
		require.NoError(t, err)

		// a change lands between loading the board and caching it
		require.NoError(t, cache.Invalidate(ctx, id))

		stale := &domain.SessionBoard{Session: domain.Session{ID: id, Title: "stale"}}
		require.NoError(t, cache.Set(ctx, stale, generation))

		got, current, err := cache.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.False(t, mr.Exists(boardKey(id)))

		fresh := &domain.SessionBoard{Session: domain.Session{ID: id, Title: "fresh"}}
		require.NoError(t, cache.Set(ctx, fresh, current))
		got, _, err = cache.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "fresh", got.Session.Title)
	})

	t.Run("corrupt entry is an error", func(t *testing.T) {
		require.NoError(t, mr.Set(boardKey(sessionID), "{"))
		_, _, err := cache.Get(ctx, sessionID)
		assert.Error(t, err)
	})

	t.Run("flush all", func(t *testing.T) {
		require.NoError(t, mr.Set(boardKey(sessionID), "{}"))
		other := *board
		other.Session.ID = uuid.New()
		require.NoError(t, cache.Set(ctx, &other, 0))
		require.NoError(t, mr.Set("unrelated", "x"))

		deleted, err := cache.FlushAll(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, deleted)
		assert.True(t, mr.Exists("unrelated"))
		assert.True(t, mr.Exists(generationKey(sessionID)))
	})
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	limiter := NewRateLimiter(client, 2, 1)
	now := time.Date(2026, 5, 1, 9, 30, 15, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		allowed, remaining, reset, err := limiter.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 2-i, remaining)
		assert.Equal(t, time.Date(2026, 5, 1, 9, 31, 0, 0, time.UTC), reset)
	}

	allowed, remaining, _, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)

	allowed, _, _, err = limiter.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, allowed, "keys are independent")

	key := "ratelimit:user-1:" + "1777627800"
	assert.Equal(t, time.Minute, mr.TTL(key))

	require.NoError(t, limiter.Reset(ctx, "user-1"))
	allowed, _, _, err = limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	now = now.Add(time.Minute)
	allowed, remaining, _, err = limiter.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, remaining, "new window starts fresh")
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (b *recordingBus) Broadcast(ctx context.Context, sessionID uuid.UUID, evt events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return b.err
}

func (b *recordingBus) received() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event(nil), b.events...)
}

func TestEventBus(t *testing.T) {
	client, mr := newTestClient(t)
	local := &recordingBus{}
	bus := NewEventBus(client, "leancoffee:events", local)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("leancoffee:events")["leancoffee:events"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	sessionID := uuid.New()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	first := events.NewVoteCast(sessionID, uuid.New(), uuid.New(), 1, at)
	second := events.NewVoteCast(sessionID, *first.TopicID, uuid.New(), 2, at.Add(time.Second))

	require.NoError(t, bus.Broadcast(context.Background(), sessionID, first))
	require.NoError(t, bus.Broadcast(context.Background(), sessionID, second))

	require.Eventually(t, func() bool { return len(local.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := local.received()
	assert.Equal(t, events.VoteCast, got[0].Type)
	assert.Equal(t, 1, *got[0].VoteCount)
	assert.Equal(t, 2, *got[1].VoteCount)
	assert.Equal(t, sessionID, got[1].SessionID)
	assert.True(t, at.Equal(got[0].Timestamp))

	mr.Publish("leancoffee:events", "not json")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
	assert.Len(t, local.received(), 2)
}

func TestEventBus_PublishFailureFallsBackToLocal(t *testing.T) {
	client, mr := newTestClient(t)
	local := &recordingBus{}
	bus := NewEventBus(client, "leancoffee:events", local)
	mr.Close()

	evt := events.NewSessionStatusChanged(uuid.New(), domain.SessionInProgress, time.Now())
	err := bus.Broadcast(context.Background(), evt.SessionID, evt)

	require.Error(t, err)
	assert.Len(t, local.received(), 1)

	local.err = errors.New("hub closed")
	err = bus.Broadcast(context.Background(), evt.SessionID, evt)
	assert.ErrorContains(t, err, "hub closed")
}
