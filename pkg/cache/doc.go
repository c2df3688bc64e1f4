// Package cache stores raw aggregator pages in Redis.
//
// Each entry keeps the response body together with its validators (ETag,
// Last-Modified) and an expiry taken from Cache-Control max-age or Expires.
// Fresh entries are served without a request; expired-but-validatable entries
// let the client send a conditional request and reuse the body on 304.
//
//	manager := cache.NewManager(redisClient)
//	key := cache.Key{Path: "/finder/games", Page: 2, PageSize: 24}
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch upstream, then manager.Set(ctx, key, entry)
//	}
//
// Metrics:
//
//   - latest_games_cache_hits_total
//   - latest_games_cache_misses_total
//   - latest_games_cache_stored_bytes
//   - latest_games_cache_not_modified_total
//   - latest_games_cache_errors_total{operation}
package cache
