package assetcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postercache/postercache/internal/asset"
	"github.com/postercache/postercache/internal/cache"
	"github.com/postercache/postercache/internal/keycodec"
	"github.com/postercache/postercache/internal/keylock"
	"github.com/postercache/postercache/internal/memcache"
)

// Fetcher retrieves and decodes a remote asset. fetch.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, key keycodec.Key, source string) (*asset.Asset, error)
}

// Tier names the layer that satisfied a lookup.
type Tier int

const (
	TierNone Tier = iota
	TierMemory
	TierDisk
	TierNetwork
)

func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	case TierNetwork:
		return "network"
	default:
		return "none"
	}
}

// Result is what a lookup resolves to. Exactly one of Asset and Err is set.
type Result struct {
	Asset *asset.Asset
	Tier  Tier
	Err   error
}

// Options wires the tiers together. Memory, Disk and Fetcher are required.
type Options struct {
	Memory  *memcache.Cache
	Disk    cache.Store
	Fetcher Fetcher

	// FetchTimeout bounds a shared fetch, including retries. Zero leaves
	// the bound to the fetcher's transport.
	FetchTimeout time.Duration
	// PrefetchParallelism caps concurrent lookups issued by Prefetch.
	PrefetchParallelism int
	// MaxPixels bounds the decoded size of disk blobs. Larger blobs count
	// as corrupt. Zero means asset.DefaultMaxPixels.
	MaxPixels int64
}

// Cache is the asset cache orchestrator. It owns no asset state of its own
// beyond the in-flight table.
type Cache struct {
	memory  *memcache.Cache
	disk    cache.Store
	fetcher Fetcher

	fetchTimeout        time.Duration
	prefetchParallelism int
	maxPixels           int64

	// keys serialises the check-miss → join-or-start sequence with
	// population and invalidation of the same key.
	keys keylock.Map

	mu       sync.Mutex
	inflight map[keycodec.Key]*call
	// running counts fetch goroutines, including detached ones. idle is
	// closed when running drops back to zero.
	running int
	idle    chan struct{}

	counters counters
}

// call is an in-flight fetch shared by every waiter for one key.
type call struct {
	done  chan struct{}
	asset *asset.Asset
	err   error

	// guarded by Cache.mu
	waiters     int
	invalidated bool
}

type counters struct {
	memoryHits      atomic.Int64
	diskHits        atomic.Int64
	networkFetches  atomic.Int64
	joinedWaiters   atomic.Int64
	fetchFailures   atomic.Int64
	diskReadErrors  atomic.Int64
	diskWriteErrors atomic.Int64
	corruptBlobs    atomic.Int64
	invalidations   atomic.Int64
}

// New validates opts and returns a ready Cache.
func New(opts Options) (*Cache, error) {
	if opts.Memory == nil {
		return nil, errors.New("memory cache is required")
	}
	if opts.Disk == nil {
		return nil, errors.New("disk store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	parallelism := opts.PrefetchParallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Cache{
		memory:              opts.Memory,
		disk:                opts.Disk,
		fetcher:             opts.Fetcher,
		fetchTimeout:        opts.FetchTimeout,
		prefetchParallelism: parallelism,
		maxPixels:           opts.MaxPixels,
		inflight:            make(map[keycodec.Key]*call),
	}, nil
}

// Get returns the asset for key, fetching it from source on a full miss.
func (c *Cache) Get(ctx context.Context, key keycodec.Key, source string) (*asset.Asset, error) {
	res := c.Load(ctx, key, source)
	return res.Asset, res.Err
}

// Load is Get that also reports which tier served the asset.
func (c *Cache) Load(ctx context.Context, key keycodec.Key, source string) Result {
	if !keycodec.Valid(key) {
		return Result{Err: fmt.Errorf("%w: %q", cache.ErrInvalidKey, key)}
	}
	if a, ok := c.memory.Get(key); ok {
		c.counters.memoryHits.Add(1)
		return Result{Asset: a, Tier: TierMemory}
	}
	return c.loadSlow(ctx, key, source)
}

// loadSlow runs after a memory miss. Everything up to joining or starting
// the fetch happens under the key lock. Population writes disk before memory
// under the same lock, so a fetch that completed after our memory miss shows
// up here as a disk hit.
func (c *Cache) loadSlow(ctx context.Context, key keycodec.Key, source string) Result {
	unlock := c.keys.Lock(key)

	if a := c.readDisk(ctx, key); a != nil {
		c.memory.Put(key, a)
		unlock()
		c.counters.diskHits.Add(1)
		return Result{Asset: a, Tier: TierDisk}
	}

	cl, leader := c.joinOrStart(key)
	if leader {
		go c.run(key, source, cl)
	}
	unlock()

	return c.wait(ctx, cl)
}

// readDisk returns nil on any miss. Blobs that no longer decode are deleted
// so the caller falls back to the network.
func (c *Cache) readDisk(ctx context.Context, key keycodec.Key) *asset.Asset {
	data, err := c.disk.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.counters.diskReadErrors.Add(1)
		}
		return nil
	}
	a, err := asset.DecodeWithLimit(key, data, c.maxPixels)
	if err != nil {
		c.counters.corruptBlobs.Add(1)
		if delErr := c.disk.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			c.counters.diskWriteErrors.Add(1)
		}
		return nil
	}
	return a
}

func (c *Cache) joinOrStart(key keycodec.Key) (*call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.inflight[key]; ok {
		cl.waiters++
		c.counters.joinedWaiters.Add(1)
		return cl, false
	}
	cl := &call{done: make(chan struct{}), waiters: 1}
	c.inflight[key] = cl
	if c.running == 0 {
		c.idle = make(chan struct{})
	}
	c.running++
	return cl, true
}

// run performs the shared fetch. It is detached from every caller's context:
// a caller that stops waiting must not abort the fetch for the others.
func (c *Cache) run(key keycodec.Key, source string, cl *call) {
	defer c.untrack()

	ctx := context.Background()
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	c.counters.networkFetches.Add(1)
	a, err := c.fetch(ctx, key, source)
	if err != nil {
		c.counters.fetchFailures.Add(1)
	}

	unlock := c.keys.Lock(key)
	defer unlock()

	c.mu.Lock()
	invalidated := cl.invalidated
	c.mu.Unlock()

	if err == nil && !invalidated {
		if werr := c.disk.Write(context.Background(), key, a.Data); werr != nil {
			c.counters.diskWriteErrors.Add(1)
		}
		c.memory.Put(key, a)
	}

	c.mu.Lock()
	if c.inflight[key] == cl {
		delete(c.inflight, key)
	}
	cl.asset, cl.err = a, err
	c.mu.Unlock()
	close(cl.done)
}

func (c *Cache) untrack() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running--
	if c.running == 0 {
		close(c.idle)
	}
}

// fetch shields waiters from a panicking fetcher: they must always resolve.
func (c *Cache) fetch(ctx context.Context, key keycodec.Key, source string) (a *asset.Asset, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = nil, fmt.Errorf("fetch %s panicked: %v", key, r)
		}
	}()
	a, err = c.fetcher.Fetch(ctx, key, source)
	if err == nil && a == nil {
		err = fmt.Errorf("fetch %s returned no asset", key)
	}
	if err != nil {
		a = nil
	}
	return a, err
}

func (c *Cache) wait(ctx context.Context, cl *call) Result {
	select {
	case <-cl.done:
		if cl.err != nil {
			return Result{Tier: TierNetwork, Err: cl.err}
		}
		return Result{Asset: cl.asset, Tier: TierNetwork}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// Invalidate removes key from both tiers. A fetch already in flight is
// detached: its waiters still receive its result, but it will not repopulate
// either tier, and later lookups start a fresh fetch. That fresh fetch does
// not wait for the detached one, so two upstream requests for key may briefly
// overlap.
func (c *Cache) Invalidate(ctx context.Context, key keycodec.Key) error {
	if !keycodec.Valid(key) {
		return fmt.Errorf("%w: %q", cache.ErrInvalidKey, key)
	}
	unlock := c.keys.Lock(key)
	defer unlock()

	c.mu.Lock()
	if cl, ok := c.inflight[key]; ok {
		cl.invalidated = true
		delete(c.inflight, key)
	}
	c.mu.Unlock()

	c.memory.Remove(key)
	c.counters.invalidations.Add(1)
	if err := c.disk.Delete(ctx, key); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// TrimMemory forwards an external memory-pressure signal to the memory tier.
func (c *Cache) TrimMemory(target int64) {
	c.memory.Trim(target)
}

// Wait blocks until every background fetch has finished and populated the
// tiers, or ctx is done.
// Lookups may keep starting fetches while Wait blocks; it returns once the
// count of running fetches reaches zero.
func (c *Cache) Wait(ctx context.Context) error {
	c.mu.Lock()
	if c.running == 0 {
		c.mu.Unlock()
		return nil
	}
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inflightWaiters reports how many callers are attached to key's fetch.
func (c *Cache) inflightWaiters(key keycodec.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.inflight[key]; ok {
		return cl.waiters
	}
	return 0
}
