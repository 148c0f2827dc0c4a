package locks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard claims keys with SET NX PX so claims are shared across
// processes that point at the same Redis.
type RedisGuard struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisGuard connects to url (redis://...) and verifies the connection.
func NewRedisGuard(url string, logger *slog.Logger) (*RedisGuard, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisGuardWithClient(client, logger), nil
}

// NewRedisGuardWithClient wraps an existing client.
func NewRedisGuardWithClient(client *redis.Client, logger *slog.Logger) *RedisGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGuard{client: client, prefix: "autoflow:claim:", logger: logger}
}

func (g *RedisGuard) Claim(ctx context.Context, key, owner string, ttl time.Duration) (Release, bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	k := g.prefix + key
	ok, err := g.client.SetNX(ctx, k, owner, ttl).Result()
	if err != nil {
		return noop, false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		return noop, false, nil
	}
	return onceRelease(func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, g.client, []string{k}, owner).Err(); err != nil {
			g.logger.Warn("release redis claim failed", "key", key, "error", err)
		}
	}), true, nil
}

// Close closes the underlying client.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
