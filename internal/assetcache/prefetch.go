package assetcache

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/postercache/postercache/internal/keycodec"
)

// Request names one asset to warm.
type Request struct {
	Key    keycodec.Key `json:"key"`
	Source string       `json:"src"`
}

// PrefetchReport summarises a Prefetch run.
type PrefetchReport struct {
	Requested int `json:"requested"`
	Cached    int `json:"cached"`
	Fetched   int `json:"fetched"`
	Failed    int `json:"failed"`
}

// Prefetch warms every request with bounded parallelism. Individual failures
// are counted, not returned; the error is non-nil only when ctx ends first.
func (c *Cache) Prefetch(ctx context.Context, reqs []Request) (PrefetchReport, error) {
	var cached, fetched, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(c.prefetchParallelism)
	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := c.Load(ctx, req.Key, req.Source)
			switch {
			case res.Err != nil:
				failed.Add(1)
			case res.Tier == TierNetwork:
				fetched.Add(1)
			default:
				cached.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := PrefetchReport{
		Requested: len(reqs),
		Cached:    int(cached.Load()),
		Fetched:   int(fetched.Load()),
		Failed:    int(failed.Load()),
	}
	return report, ctx.Err()
}
