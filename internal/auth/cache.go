package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const principalKeyPrefix = "auth:principal:"

// CachingVerifier remembers successful verifications in Redis so repeated
// requests with the same token skip the identity provider. Only successes
// are cached and any cache fault falls through to the wrapped verifier.
type CachingVerifier struct {
	next   Verifier
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCachingVerifier wraps next with a Redis cache.
func NewCachingVerifier(next Verifier, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachingVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingVerifier{next: next, client: client, ttl: ttl, logger: logger, now: time.Now}
}

// Verify implements Verifier.
func (c *CachingVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	if c.client == nil || c.ttl <= 0 {
		return c.next.Verify(ctx, token)
	}
	key := principalKey(token)
	if principal, ok := c.lookup(ctx, key); ok {
		return principal, nil
	}
	principal, err := c.next.Verify(ctx, token)
	if err != nil {
		return Principal{}, err
	}
	c.store(ctx, key, principal)
	return principal, nil
}

func (c *CachingVerifier) lookup(ctx context.Context, key string) (Principal, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("principal cache read", slog.Any("error", err))
		}
		return Principal{}, false
	}
	var principal Principal
	if err := json.Unmarshal(payload, &principal); err != nil {
		c.logger.Warn("principal cache decode", slog.Any("error", err))
		return Principal{}, false
	}
	if principal.ID == "" || principal.Email == "" {
		return Principal{}, false
	}
	if !principal.ExpiresAt.IsZero() && !c.now().Before(principal.ExpiresAt) {
		return Principal{}, false
	}
	return principal, true
}

func (c *CachingVerifier) store(ctx context.Context, key string, principal Principal) {
	ttl := c.ttl
	if !principal.ExpiresAt.IsZero() {
		remaining := principal.ExpiresAt.Sub(c.now())
		if remaining <= 0 {
			return
		}
		if remaining < ttl {
			ttl = remaining
		}
	}
	payload, err := json.Marshal(principal)
	if err != nil {
		c.logger.Warn("principal cache encode", slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		c.logger.Warn("principal cache write", slog.Any("error", err))
	}
}

func principalKey(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return principalKeyPrefix + hex.EncodeToString(sum[:])
}
