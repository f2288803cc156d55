package redis

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/microlearn/gamification-engine/internal/domain/leaderboard"
	"github.com/microlearn/gamification-engine/pkg/logger"
)

// ProfileCache is a read-through leaderboard.UserDirectory. Profiles found in
// Redis are served from there and only the rest are looked up upstream.
type ProfileCache struct {
	cache    *Cache
	upstream leaderboard.UserDirectory
	ttl      time.Duration
	log      *logger.Logger
}

// NewProfileCache wraps upstream. A non-positive ttl means TTLProfileCache.
func NewProfileCache(cache *Cache, upstream leaderboard.UserDirectory, ttl time.Duration, log *logger.Logger) *ProfileCache {
	if ttl <= 0 {
		ttl = TTLProfileCache
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ProfileCache{
		cache:    cache,
		upstream: upstream,
		ttl:      ttl,
		log:      log.With(logger.Component("profile_cache")),
	}
}

// LookupProfiles implements leaderboard.UserDirectory. Redis errors degrade
// to an upstream lookup; upstream errors are returned as is.
func (c *ProfileCache) LookupProfiles(ctx context.Context, userIDs []string) (map[string]leaderboard.Profile, error) {
	out := make(map[string]leaderboard.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = ProfileKey(id)
	}

	cached, err := c.cache.MGet(ctx, keys...)
	if err != nil {
		c.log.Warn("profile cache read failed", logger.Err(err))
		cached = nil
	}

	missing := make([]string, 0, len(userIDs))
	for i, id := range userIDs {
		raw, ok := cached[keys[i]]
		if !ok {
			missing = append(missing, id)
			continue
		}
		var p leaderboard.Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			missing = append(missing, id)
			continue
		}
		out[id] = p
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.upstream.LookupProfiles(ctx, missing)
	if err != nil {
		return nil, err
	}

	fill := make(map[string]interface{}, len(fetched))
	for id, p := range fetched {
		out[id] = p
		fill[ProfileKey(id)] = p
	}
	if err := c.cache.MSet(ctx, fill, c.ttl); err != nil {
		c.log.Warn("profile cache write failed", logger.Err(err))
	}
	return out, nil
}
