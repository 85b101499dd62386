package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	img := []byte{1, 2, 3}

	k := Key("m1", img, 300)
	assert.True(t, strings.HasPrefix(k, "ocr:"))
	assert.Equal(t, k, Key("m1", img, 300), "deterministic")
	assert.NotEqual(t, k, Key("m1", img, 299), "token limit is part of the key")
	assert.NotEqual(t, k, Key("m2", img, 300), "model is part of the key")
	assert.NotEqual(t, k, Key("m1", []byte{1, 2, 4}, 300))
}

func TestLocal_SetGet(t *testing.T) {
	l := NewLocal(10, time.Minute)
	_, ok := l.Get("missing")
	assert.False(t, ok)

	e := Entry{Text: "ＡＢ", RawText: "AB", Tokens: []int32{2, 7, 8}, State: "DONE"}
	l.Set("k", e)
	got, ok := l.Get("k")
	require.True(t, ok)
	assert.Equal(t, e, got)
	assert.Equal(t, 1, l.Len())
}

func TestLocal_Capacity(t *testing.T) {
	l := NewLocal(2, 0)
	l.Set("a", Entry{Text: "a"})
	l.Set("b", Entry{Text: "b"})
	l.Set("c", Entry{Text: "c"})

	assert.Equal(t, 2, l.Len())
	_, ok := l.Get("a")
	assert.False(t, ok, "least recently used entry is evicted")
}

func TestLocal_Expiry(t *testing.T) {
	l := NewLocal(0, 10*time.Millisecond)
	l.Set("k", Entry{Text: "x"})
	time.Sleep(30 * time.Millisecond)
	_, ok := l.Get("k")
	assert.False(t, ok)
}

func TestCache_LocalOnly(t *testing.T) {
	c, err := New(context.Background(), Config{Capacity: 4, TTL: time.Minute}, nil)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", Entry{Text: "hi", State: "DONE"})
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "hi", got.Text)
}

func TestCache_RedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, Config{RedisAddr: "127.0.0.1:1"}, nil)
	assert.ErrorContains(t, err, "failed to connect to Redis")
}

func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("OCR_SERVICE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis test: OCR_SERVICE_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	r, err := NewRedis(ctx, addr, "", 0, time.Minute)
	require.NoError(t, err)
	defer r.Close()

	key := Key("test", []byte(t.Name()), 300)
	_, ok, err := r.Get(ctx, key+":missing")
	require.NoError(t, err)
	assert.False(t, ok)

	e := Entry{Text: "ＡＢ", RawText: "AB", Tokens: []int32{2, 7, 8}, State: "DONE"}
	require.NoError(t, r.Set(ctx, key, e))
	got, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e, got)

	// A fresh local tier is filled from Redis.
	c := NewWithTiers(NewLocal(4, time.Minute), r, nil)
	got, ok = c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, e, got)
	_, ok = c.local.Get(key)
	assert.True(t, ok)
}
