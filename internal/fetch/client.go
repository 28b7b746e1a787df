// Package fetch downloads remote images over HTTP GET and classifies every
// failure into a typed *Error (transport, HTTP status, decode). It never
// returns partially populated results: on error the asset is nil.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/postercache/postercache/internal/asset"
	"github.com/postercache/postercache/internal/keycodec"
)

const (
	defaultMaxAssetSize   = 20 << 20
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxConcurrent  = 8
)

// Options configures a Client. Zero values fall back to sane defaults;
// MaxRetries = 0 disables retries.
type Options struct {
	HTTPClient     *http.Client
	UserAgent      string
	MaxRetries     int
	InitialBackoff time.Duration
	MaxAssetSize   int64
	// MaxPixels rejects images whose header declares more pixels, as
	// KindDecode. Zero means asset.DefaultMaxPixels.
	MaxPixels      int64
	MaxConcurrent  int
}

// Client performs image fetches. It is safe for concurrent use.
type Client struct {
	http           *http.Client
	userAgent      string
	maxRetries     int
	initialBackoff time.Duration
	maxAssetSize   int64
	maxPixels      int64
	slots          *semaphore.Weighted
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	maxSize := opts.MaxAssetSize
	if maxSize <= 0 {
		maxSize = defaultMaxAssetSize
	}
	concurrent := opts.MaxConcurrent
	if concurrent <= 0 {
		concurrent = defaultMaxConcurrent
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		http:           httpClient,
		userAgent:      opts.UserAgent,
		maxRetries:     retries,
		initialBackoff: initial,
		maxAssetSize:   maxSize,
		maxPixels:      opts.MaxPixels,
		slots:          semaphore.NewWeighted(int64(concurrent)),
	}
}

// Fetch downloads rawURL and decodes it into an Asset stored under key.
// Transport failures and 5xx/429 responses are retried with exponential
// backoff; everything else fails on the first attempt. The returned error is
// always a *Error.
func (c *Client) Fetch(ctx context.Context, key keycodec.Key, rawURL string) (*asset.Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: rawURL, Err: err}
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, &Error{Kind: KindTransport, URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", req.URL.Scheme)}
	}
	req.Header.Set("Accept", "image/*")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var result *asset.Asset
	operation := func() error {
		a, err := c.attempt(ctx, key, req)
		if err != nil {
			if err.retryable() {
				return err
			}
			return backoff.Permanent(err)
		}
		result = a
		return nil
	}

	err = backoff.Retry(operation, backoff.WithContext(c.policy(), ctx))
	if err == nil {
		return result, nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return nil, fe
	}
	return nil, &Error{Kind: KindTransport, URL: rawURL, Err: err}
}

func (c *Client) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = 16 * c.initialBackoff
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(c.maxRetries))
}

// attempt performs one GET. req carries no body, so it is safe to reuse
// across retries.
func (c *Client) attempt(ctx context.Context, key keycodec.Key, req *http.Request) (*asset.Asset, *Error) {
	rawURL := req.URL.String()
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return nil, &Error{Kind: KindTransport, URL: rawURL, Err: err}
	}
	defer c.slots.Release(1)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &Error{Kind: KindHTTP, Status: resp.StatusCode, URL: rawURL}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxAssetSize+1))
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: rawURL, Err: err}
	}
	if int64(len(data)) > c.maxAssetSize {
		return nil, &Error{Kind: KindDecode, URL: rawURL, Err: fmt.Errorf("payload exceeds %d bytes", c.maxAssetSize)}
	}

	decoded, err := asset.DecodeWithLimit(key, data, c.maxPixels)
	if err != nil {
		return nil, &Error{Kind: KindDecode, URL: rawURL, Err: err}
	}
	return decoded, nil
}
