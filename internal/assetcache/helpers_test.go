package assetcache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/postercache/postercache/internal/asset"
	"github.com/postercache/postercache/internal/cache"
	"github.com/postercache/postercache/internal/keycodec"
	"github.com/postercache/postercache/internal/memcache"
)

// eventLog records the order in which tiers are consulted.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeResponse struct {
	data []byte
	err  error
}

// fakeFetcher serves queued responses per source; the last response repeats.
type fakeFetcher struct {
	mu        sync.Mutex
	calls     map[keycodec.Key]int
	responses map[string][]fakeResponse
	gate      chan struct{}
	panics    bool
	events    *eventLog
}

func newFakeFetcher(events *eventLog) *fakeFetcher {
	return &fakeFetcher{
		calls:     make(map[keycodec.Key]int),
		responses: make(map[string][]fakeResponse),
		events:    events,
	}
}

func (f *fakeFetcher) respond(source string, responses ...fakeResponse) {
	f.mu.Lock()
	f.responses[source] = append(f.responses[source], responses...)
	f.mu.Unlock()
}

func (f *fakeFetcher) Fetch(ctx context.Context, key keycodec.Key, source string) (*asset.Asset, error) {
	f.mu.Lock()
	f.calls[key]++
	gate := f.gate
	panics := f.panics
	f.mu.Unlock()
	if f.events != nil {
		f.events.add("fetch")
	}
	if panics {
		panic("upstream exploded")
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	queue := f.responses[source]
	var resp fakeResponse
	switch {
	case len(queue) == 0:
		resp = fakeResponse{err: errors.New("no response configured")}
	case len(queue) == 1:
		resp = queue[0]
	default:
		resp = queue[0]
		f.responses[source] = queue[1:]
	}
	f.mu.Unlock()

	if resp.err != nil {
		return nil, resp.err
	}
	return asset.Decode(key, resp.data)
}

func (f *fakeFetcher) callCount(key keycodec.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// recordingStore wraps a real store and logs reads and writes.
type recordingStore struct {
	cache.Store
	events     *eventLog
	failWrites bool
}

func (s *recordingStore) Read(ctx context.Context, key keycodec.Key) ([]byte, error) {
	s.events.add("disk.read")
	return s.Store.Read(ctx, key)
}

func (s *recordingStore) Write(ctx context.Context, key keycodec.Key, data []byte) error {
	s.events.add("disk.write")
	if s.failWrites {
		return errors.New("disk full")
	}
	return s.Store.Write(ctx, key, data)
}

type harness struct {
	cache   *Cache
	memory  *memcache.Cache
	disk    *recordingStore
	fetcher *fakeFetcher
	events  *eventLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	events := &eventLog{}
	h := &harness{
		memory:  memcache.New(memcache.Options{MaxBytes: 1 << 20}),
		disk:    &recordingStore{Store: store, events: events},
		fetcher: newFakeFetcher(events),
		events:  events,
	}
	h.cache, err = New(Options{Memory: h.memory, Disk: h.disk, Fetcher: h.fetcher})
	if err != nil {
		t.Fatalf("cache error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.cache.Wait(ctx)
	})
	return h
}

func (h *harness) diskBytes(t *testing.T, key keycodec.Key) []byte {
	t.Helper()
	data, err := h.disk.Store.Read(context.Background(), key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("disk read error: %v", err)
	}
	return data
}

func (h *harness) inMemory(key keycodec.Key) bool {
	_, ok := h.memory.Get(key)
	return ok
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// pngBytes returns a small PNG whose pixels depend on seed, so different
// seeds give different payloads.
func pngBytes(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: seed, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
