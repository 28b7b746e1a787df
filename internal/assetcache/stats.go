package assetcache

import (
	"context"
	"fmt"

	"github.com/postercache/postercache/internal/cache"
	"github.com/postercache/postercache/internal/keycodec"
	"github.com/postercache/postercache/internal/memcache"
)

// Stats is a snapshot of orchestrator counters plus the memory tier.
type Stats struct {
	MemoryHits      int64          `json:"memory_hits"`
	DiskHits        int64          `json:"disk_hits"`
	NetworkFetches  int64          `json:"network_fetches"`
	JoinedWaiters   int64          `json:"joined_waiters"`
	FetchFailures   int64          `json:"fetch_failures"`
	DiskReadErrors  int64          `json:"disk_read_errors"`
	DiskWriteErrors int64          `json:"disk_write_errors"`
	CorruptBlobs    int64          `json:"corrupt_blobs"`
	Invalidations   int64          `json:"invalidations"`
	InFlight        int            `json:"in_flight"`
	Memory          memcache.Stats `json:"memory"`
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	inFlight := len(c.inflight)
	c.mu.Unlock()

	return Stats{
		MemoryHits:      c.counters.memoryHits.Load(),
		DiskHits:        c.counters.diskHits.Load(),
		NetworkFetches:  c.counters.networkFetches.Load(),
		JoinedWaiters:   c.counters.joinedWaiters.Load(),
		FetchFailures:   c.counters.fetchFailures.Load(),
		DiskReadErrors:  c.counters.diskReadErrors.Load(),
		DiskWriteErrors: c.counters.diskWriteErrors.Load(),
		CorruptBlobs:    c.counters.corruptBlobs.Load(),
		Invalidations:   c.counters.invalidations.Load(),
		InFlight:        inFlight,
		Memory:          c.memory.Stats(),
	}
}

// DiskUsage reports how many blobs the disk tier holds and their total size.
func (c *Cache) DiskUsage(ctx context.Context) (cache.Usage, error) {
	return c.disk.Usage(ctx)
}

// DiskEntry describes the blob stored for key, or cache.ErrNotFound.
func (c *Cache) DiskEntry(ctx context.Context, key keycodec.Key) (cache.Entry, error) {
	if !keycodec.Valid(key) {
		return cache.Entry{}, fmt.Errorf("%w: %q", cache.ErrInvalidKey, key)
	}
	return c.disk.Stat(ctx, key)
}
