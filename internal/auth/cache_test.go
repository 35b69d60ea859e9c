package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, next Verifier) (*CachingVerifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachingVerifier(next, client, 5*time.Minute, nil), mr
}

func TestCachingVerifierServesRepeatFromRedis(t *testing.T) {
	stub := &stubVerifier{principal: Principal{ID: "u1", Email: "a@x.com", ExpiresAt: time.Now().Add(time.Hour)}}
	cache, mr := newCache(t, stub)

	first, err := cache.Verify(context.Background(), "tok")
	require.NoError(t, err)
	second, err := cache.Verify(context.Background(), "tok")
	require.NoError(t, err)

	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, first.ID, second.ID)

	key := principalKey("tok")
	assert.True(t, mr.Exists(key))
	assert.NotContains(t, key, "tok")
	ttl := mr.TTL(key)
	assert.LessOrEqual(t, ttl, 5*time.Minute)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestCachingVerifierTTLBoundedByExpiry(t *testing.T) {
	stub := &stubVerifier{principal: Principal{ID: "u1", Email: "a@x.com", ExpiresAt: time.Now().Add(30 * time.Second)}}
	cache, mr := newCache(t, stub)

	_, err := cache.Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.LessOrEqual(t, mr.TTL(principalKey("tok")), 30*time.Second)
}

func TestCachingVerifierDoesNotCacheFailures(t *testing.T) {
	stub := &stubVerifier{err: errors.New("rejected")}
	cache, mr := newCache(t, stub)

	_, err := cache.Verify(context.Background(), "tok")
	assert.Error(t, err)
	_, err = cache.Verify(context.Background(), "tok")
	assert.Error(t, err)
	assert.Equal(t, 2, stub.calls)
	assert.False(t, mr.Exists(principalKey("tok")))
}

func TestCachingVerifierIgnoresExpiredEntry(t *testing.T) {
	stub := &stubVerifier{principal: Principal{ID: "u1", Email: "a@x.com"}}
	cache, mr := newCache(t, stub)
	require.NoError(t, mr.Set(principalKey("tok"), `{"id":"u1","email":"a@x.com","expires_at":"2001-01-01T00:00:00Z"}`))

	_, err := cache.Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestCachingVerifierFallsThroughWhenRedisDown(t *testing.T) {
	stub := &stubVerifier{principal: Principal{ID: "u1", Email: "a@x.com"}}
	cache, mr := newCache(t, stub)
	mr.Close()

	p, err := cache.Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, 1, stub.calls)
}
