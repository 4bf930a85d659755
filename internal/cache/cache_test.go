package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	r, err := NewRedis("redis://"+mr.Addr(), "")
	if err != nil {
		mr.Close()
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Close()
		mr.Close()
	})
	return r, mr
}

type pools struct {
	Addresses []string `json:"addresses"`
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	var got pools
	ok, err := s.GetJSON(ctx, "curve:ethereum", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	want := pools{Addresses: []string{"0xa", "0xb"}}
	require.NoError(t, s.SetJSON(ctx, "curve:ethereum", want, time.Hour))
	ok, err = s.GetJSON(ctx, "curve:ethereum", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	assert.False(t, s.AlreadySent(ctx, "alert:run:1"))
	s.Record(ctx, "alert:run:1", 0)
	assert.True(t, s.AlreadySent(ctx, "alert:run:1"))
	s.Clear(ctx, "alert:run:1")
	assert.False(t, s.AlreadySent(ctx, "alert:run:1"))
}

func TestRedisStore(t *testing.T) {
	r, _ := setupTestRedis(t)
	exerciseStore(t, r)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestRedisTTL(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()

	r.Record(ctx, "alert:ttl", time.Minute)
	assert.True(t, r.AlreadySent(ctx, "alert:ttl"))
	mr.FastForward(2 * time.Minute)
	assert.False(t, r.AlreadySent(ctx, "alert:ttl"))

	assert.False(t, mr.Exists("tvl:alert:ttl"))
}

func TestRedisBadURL(t *testing.T) {
	_, err := NewRedis("not-a-url", "")
	assert.Error(t, err)
}

func TestMemoryTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.SetJSON(ctx, "k", pools{Addresses: []string{"0x1"}}, time.Minute))
	m.Record(ctx, "sent", 30*time.Second)

	now = now.Add(45 * time.Second)
	assert.False(t, m.AlreadySent(ctx, "sent"))
	var got pools
	ok, err := m.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, err = m.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
