// Package cache coordinates GraphQL response caching over a shared key/value store.
//
// The coordinator implements a three-state slot protocol per cache key:
//
//   - absent: no entry; the first requester atomically writes a loading marker
//     (SET NX, 120s safety TTL) and computes
//   - loading: a computation is in flight; other requesters poll once per second
//     for up to 30 seconds, then fall back to computing
//   - ready: a serialized response; served without computing
//
// Stored values carry a one-byte state tag ('L' loading, 'R' ready + JSON).
// The loading marker is an advisory lock: it expires on its own if the
// computer dies, and waiters degrade to recomputation rather than fail.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	filter := &eligibility.Filter{
//		Rules: []eligibility.Rule{eligibility.Exact("GetUser", time.Minute)},
//	}
//	coordinator := cache.NewCoordinator(cache.NewRedisStore(redisClient), cache.DefaultConfig(filter))
//
//	decision, err := coordinator.Intercept(ctx, descriptor)
//	if err != nil {
//		return err // store unavailable or corrupt entry
//	}
//	if decision.ShortCircuit() {
//		return decision.Response, nil
//	}
//
//	resp := compute(ctx, descriptor)
//	if err := coordinator.WriteBack(ctx, descriptor, resp); err != nil {
//		return err
//	}
//
// # Keys
//
// Keys have the form gql:<operation>:<locale>:<fingerprint>:<variables> where
// fingerprint is a truncated SHA-256 of the query with spaces, newlines and
// carriage returns removed (or the stripped length with FingerprintLength) and
// variables is base64 of the canonical JSON of the variables map.
//
// # TTL Selection
//
// Write-back TTL is the first matching rule's TTL, then TTLPolicy.Default,
// then 24 hours.
//
// # Metrics
//
//   - gqlcache_lookups_total{outcome} - Interception outcomes
//   - gqlcache_poll_wait_seconds - Time spent waiting on loading slots
//   - gqlcache_writes_total{result} - Write-back decisions
//   - gqlcache_store_errors_total{operation} - Store errors
//   - gqlcache_stored_bytes_total - Bytes written back
package cache
