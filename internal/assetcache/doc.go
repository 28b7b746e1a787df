// Package assetcache coordinates the memory tier, the disk tier and the
// network fetcher behind a single Get operation.
//
// Lookups fall through memory → disk → network. Concurrent misses for the
// same key attach to one in-flight fetch, and a successful fetch is written
// through to disk and memory before any waiter is resolved. Failures are
// handed to every waiter and never cached, so the next Get retries the
// network. Invalidate removes both tiers and guarantees that a fetch already
// in flight for the key will not repopulate them.
//
// The package never logs; callers decide what to surface from the typed
// results.
package assetcache
