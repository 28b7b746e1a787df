package server

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/postercache/postercache/internal/assetcache"
	"github.com/postercache/postercache/internal/cache"
	"github.com/postercache/postercache/internal/fetch"
	"github.com/postercache/postercache/internal/memcache"
)

// upstreamStub serves a fixed PNG under /t/p/ and counts hits per path.
type upstreamStub struct {
	*httptest.Server
	poster []byte
	hits   atomic.Int32
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{poster: encodePNG(t)}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.hits.Add(1)
		switch r.URL.Path {
		case "/t/p/w500/poster.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(stub.poster)
		case "/broken.png":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>nope</html>"))
		case "/unavailable.png":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(stub.Close)
	return stub
}

type testApp struct {
	*fiber.App
	assets   *assetcache.Cache
	upstream *upstreamStub
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	upstream := newUpstreamStub(t)
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	assets, err := assetcache.New(assetcache.Options{
		Memory: memcache.New(memcache.Options{MaxBytes: 1 << 20}),
		Disk:   store,
		Fetcher: fetch.NewClient(fetch.Options{
			HTTPClient:     upstream.Client(),
			InitialBackoff: time.Millisecond,
		}),
	})
	if err != nil {
		t.Fatalf("asset cache error: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{
		Logger:           logger,
		Assets:           assets,
		KeyStripSegments: 2,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return &testApp{App: app, assets: assets, upstream: upstream}
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 3))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
