package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genboard/engine/internal/config"
)

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

// RedisURLCache stores signed URLs in redis with a TTL derived from each
// entry's expiry, so expiration is enforced server-side as well as on read.
type RedisURLCache struct {
	client *redis.Client
	log    zerolog.Logger
	now    func() time.Time
}

func NewRedisURLCache(client *redis.Client, log zerolog.Logger) *RedisURLCache {
	return &RedisURLCache{
		client: client,
		log:    log,
		now:    time.Now,
	}
}

func urlKey(assetID string) string {
	return "signedUrl:" + assetID
}

// redisEntry adds a numeric expiry alongside SignedURL's fields so the write
// script can compare freshness server-side.
type redisEntry struct {
	SignedURL
	ExpiresAtMs int64 `json:"expiresAtMs"`
}

func encodeEntry(url SignedURL) ([]byte, error) {
	return json.Marshal(redisEntry{SignedURL: url, ExpiresAtMs: url.ExpiresAt.UnixMilli()})
}

// putIfFresher writes the entry unless the stored one expires later, in one
// atomic step, so concurrent writers cannot downgrade a fresher URL.
// KEYS[1] key, ARGV[1] payload, ARGV[2] new expiry unix-ms, ARGV[3] ttl ms.
var putIfFresher = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, decoded = pcall(cjson.decode, cur)
  if ok and decoded.expiresAtMs and tonumber(decoded.expiresAtMs) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

func (c *RedisURLCache) Get(ctx context.Context, assetID string) (SignedURL, bool) {
	raw, err := c.client.Get(ctx, urlKey(assetID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("asset_id", assetID).Msg("url cache read failed")
		}
		return SignedURL{}, false
	}

	var entry SignedURL
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.log.Warn().Err(err).Str("asset_id", assetID).Msg("url cache entry corrupt")
		return SignedURL{}, false
	}
	if entry.expired(c.now()) {
		return SignedURL{}, false
	}
	return entry, true
}

func (c *RedisURLCache) Put(ctx context.Context, assetID string, url SignedURL) {
	ttl := url.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return
	}

	raw, err := encodeEntry(url)
	if err != nil {
		c.log.Warn().Err(err).Str("asset_id", assetID).Msg("url cache marshal failed")
		return
	}
	err = putIfFresher.Run(ctx, c.client, []string{urlKey(assetID)},
		raw, url.ExpiresAt.UnixMilli(), ttl.Milliseconds()).Err()
	if err != nil {
		c.log.Warn().Err(err).Str("asset_id", assetID).Msg("url cache write failed")
	}
}

func (c *RedisURLCache) Invalidate(ctx context.Context, assetID string) {
	if err := c.client.Del(ctx, urlKey(assetID)).Err(); err != nil {
		c.log.Warn().Err(err).Str("asset_id", assetID).Msg("url cache invalidate failed")
	}
}
