package session

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.Lock()
	defer c.Unlock()
	c.now = c.now.Add(d)
}

func testStoreRoundTrip(ctx context.Context, t *testing.T, s Store) {
	token, err := s.Establish(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, token, 43)

	id, found, err := s.Lookup(ctx, token)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "user-1", id)

	other, err := s.Establish(ctx, "user-1")
	require.NoError(t, err)
	require.NotEqual(t, token, other, "tokens must never repeat")

	require.NoError(t, s.Clear(ctx, token))
	_, found, err = s.Lookup(ctx, token)
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, s.Clear(ctx, token), "clearing twice is fine")

	_, found, err = s.Lookup(ctx, "never-issued")
	require.NoError(t, err)
	require.False(t, found)

	id, found, err = s.Lookup(ctx, other)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "user-1", id)
}

func TestMemStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &fakeClock{now: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := newMemStore(ctx, time.Hour, clock.Now, nil)
	require.NoError(t, err)
	defer s.Close()

	testStoreRoundTrip(ctx, t, s)

	token, err := s.Establish(ctx, "user-2")
	require.NoError(t, err)
	clock.Advance(59 * time.Minute)
	_, found, err := s.Lookup(ctx, token)
	require.NoError(t, err)
	require.True(t, found)
	clock.Advance(time.Minute)
	_, found, err = s.Lookup(ctx, token)
	require.NoError(t, err)
	require.False(t, found, "session should expire after its ttl")
}

func TestMemStoreRandomFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := newMemStore(ctx, time.Hour, time.Now, bytes.NewReader(nil))
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Establish(ctx, "user-1")
	require.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()
	s := Redis(client, time.Hour)

	testStoreRoundTrip(ctx, t, s)

	token, err := s.Establish(ctx, "user-2")
	require.NoError(t, err)
	require.True(t, mr.Exists(redisKeyPrefix+token))
	require.Equal(t, time.Hour, mr.TTL(redisKeyPrefix+token))

	mr.FastForward(time.Hour)
	_, found, err := s.Lookup(ctx, token)
	require.NoError(t, err)
	require.False(t, found, "session should expire after its ttl")
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := Redis(client, time.Hour)
	mr.Close()

	_, _, err = s.Lookup(context.Background(), "token")
	require.Error(t, err)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := DialRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	client.Close()

	_, err = DialRedis(context.Background(), "not a url")
	require.Error(t, err)
}
