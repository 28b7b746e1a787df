package fetch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchDecodesImage(t *testing.T) {
	payload := testPNG(t)
	var userAgent atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	client := NewClient(Options{UserAgent: "postercache-test"})
	a, err := client.Fetch(context.Background(), "poster", upstream.URL+"/x.png")
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if a.Key != "poster" || a.Format != "png" || !bytes.Equal(a.Data, payload) {
		t.Fatalf("unexpected asset: key=%s format=%s size=%d", a.Key, a.Format, len(a.Data))
	}
	if got := userAgent.Load(); got != "postercache-test" {
		t.Fatalf("expected user agent header, got %v", got)
	}
}

func TestFetchClassifiesHTTPErrorsWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	client := NewClient(Options{MaxRetries: 3, InitialBackoff: time.Millisecond})
	a, err := client.Fetch(context.Background(), "k", upstream.URL)
	if a != nil {
		t.Fatalf("failed fetch must not return an asset")
	}
	if KindOf(err) != KindHTTP || StatusOf(err) != http.StatusNotFound {
		t.Fatalf("expected HTTP 404 error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d hits", hits.Load())
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	payload := testPNG(t)
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	client := NewClient(Options{MaxRetries: 2, InitialBackoff: time.Millisecond})
	if _, err := client.Fetch(context.Background(), "k", upstream.URL); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 upstream hits, got %d", hits.Load())
	}
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	client := NewClient(Options{MaxRetries: 1, InitialBackoff: time.Millisecond})
	_, err := client.Fetch(context.Background(), "k", upstream.URL)
	if StatusOf(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after retries, got %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected initial attempt plus one retry, got %d", hits.Load())
	}
}

func TestFetchDecodeErrors(t *testing.T) {
	testCases := []struct {
		name   string
		body   []byte
		max    int64
		pixels int64
	}{
		{"html", []byte("<html>nope</html>"), 0, 0},
		{"empty", nil, 0, 0},
		{"oversized", testPNG(t), 8, 0},
		{"too many pixels", testPNG(t), 0, 15},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				_, _ = w.Write(tc.body)
			}))
			defer upstream.Close()

			client := NewClient(Options{
				MaxRetries:     2,
				InitialBackoff: time.Millisecond,
				MaxAssetSize:   tc.max,
				MaxPixels:      tc.pixels,
			})
			_, err := client.Fetch(context.Background(), "k", upstream.URL)
			if KindOf(err) != KindDecode {
				t.Fatalf("expected decode error, got %v", err)
			}
			if hits.Load() != 1 {
				t.Fatalf("decode errors must not be retried, got %d hits", hits.Load())
			}
		})
	}
}

func TestFetchTransportErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closedURL := upstream.URL
	upstream.Close()

	client := NewClient(Options{MaxRetries: 1, InitialBackoff: time.Millisecond})
	_, err := client.Fetch(context.Background(), "k", closedURL)
	if KindOf(err) != KindTransport {
		t.Fatalf("expected transport error for closed server, got %v", err)
	}

	for _, raw := range []string{"ftp://example.com/x.png", "http://[::1"} {
		if _, err := client.Fetch(context.Background(), "k", raw); KindOf(err) != KindTransport {
			t.Fatalf("expected transport error for %q, got %v", raw, err)
		}
	}
}

func TestFetchTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	client := NewClient(Options{HTTPClient: &http.Client{Timeout: 50 * time.Millisecond}})
	_, err := client.Fetch(context.Background(), "k", upstream.URL)
	if KindOf(err) != KindTransport {
		t.Fatalf("expected timeout to surface as transport error, got %v", err)
	}
}

func TestFetchHonoursContextCancellation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(Options{MaxRetries: 5, InitialBackoff: time.Second})
	_, err := client.Fetch(ctx, "k", upstream.URL)
	if KindOf(err) != KindTransport || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled transport error, got %v", err)
	}
}

func TestKindString(t *testing.T) {
	if KindTransport.String() != "transport" || KindHTTP.String() != "http" || KindDecode.String() != "decode" {
		t.Fatalf("unexpected kind names")
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Fatalf("plain errors have no kind")
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
