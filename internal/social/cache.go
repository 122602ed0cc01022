package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyPrefixProfile namespaces cached profiles.
const KeyPrefixProfile = "orbit:profile:"

// ProfileKey builds the cache key of a handle; handles are case-insensitive.
func ProfileKey(handle string) string {
	return KeyPrefixProfile + strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// ProfileCache stores profiles by handle. A miss is (Profile{}, false, nil).
type ProfileCache interface {
	GetProfile(ctx context.Context, handle string) (Profile, bool, error)
	SetProfile(ctx context.Context, handle string, profile Profile) error
}

// RedisProfileCache keeps profiles as JSON strings with a TTL.
type RedisProfileCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisProfileCache wraps a redis client.
func NewRedisProfileCache(client redis.Cmdable, ttl time.Duration) *RedisProfileCache {
	return &RedisProfileCache{client: client, ttl: ttl}
}

// GetProfile returns the cached profile of a handle.
func (c *RedisProfileCache) GetProfile(ctx context.Context, handle string) (Profile, bool, error) {
	payload, err := c.client.Get(ctx, ProfileKey(handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Profile{}, false, nil
		}
		return Profile{}, false, fmt.Errorf("failed to get cached profile: %w", err)
	}
	var profile Profile
	if err := json.Unmarshal(payload, &profile); err != nil {
		return Profile{}, false, fmt.Errorf("failed to decode cached profile: %w", err)
	}
	return profile, true, nil
}

// SetProfile caches a profile for the configured TTL.
func (c *RedisProfileCache) SetProfile(ctx context.Context, handle string, profile Profile) error {
	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := c.client.Set(ctx, ProfileKey(handle), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache profile: %w", err)
	}
	return nil
}

// CachingFetcher serves profiles from a cache and falls through to the wrapped fetcher.
// Cache failures are logged and never fail a lookup. Post lookups are not cached.
type CachingFetcher struct {
	next   Fetcher
	cache  ProfileCache
	logger *zap.Logger
}

// NewCachingFetcher wraps next with cache.
func NewCachingFetcher(next Fetcher, cache ProfileCache, logger *zap.Logger) *CachingFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingFetcher{next: next, cache: cache, logger: logger}
}

func (f *CachingFetcher) FetchProfile(ctx context.Context, handle string) (Profile, error) {
	cached, ok, err := f.cache.GetProfile(ctx, handle)
	if err != nil {
		f.logger.Warn("profile cache read failed", zap.String("handle", handle), zap.Error(err))
	}
	if ok {
		return cached, nil
	}
	profile, err := f.next.FetchProfile(ctx, handle)
	if err != nil {
		return Profile{}, err
	}
	if err := f.cache.SetProfile(ctx, handle, profile); err != nil {
		f.logger.Warn("profile cache write failed", zap.String("handle", handle), zap.Error(err))
	}
	return profile, nil
}

func (f *CachingFetcher) FetchPostImageURLs(ctx context.Context, postID string) ([]string, error) {
	return f.next.FetchPostImageURLs(ctx, postID)
}

// RedisOptions configures the redis connection used by the profile cache.
type RedisOptions struct {
	Address     string
	Password    string
	DB          int
	PingTimeout time.Duration
}

// ConnectRedis opens a client and verifies it with a single ping.
func ConnectRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", opts.Address, err)
	}
	if logger != nil {
		logger.Info("connected to redis", zap.String("addr", opts.Address))
	}
	return client, nil
}
