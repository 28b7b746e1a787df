package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a fetch failed.
type Kind int

const (
	// KindTransport covers DNS, dial, TLS, timeout and body read failures.
	KindTransport Kind = iota + 1
	// KindHTTP means the upstream answered with a non-2xx status.
	KindHTTP
	// KindDecode means bytes arrived but are not a usable image.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHTTP:
		return "http"
	case KindDecode:
		return "decode"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is the only error type Fetch returns.
type Error struct {
	Kind   Kind
	Status int
	URL    string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("fetch %s: upstream status %d", e.URL, e.Status)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s error: %v", e.URL, e.Kind, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s error", e.URL, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// retryable reports whether another attempt may succeed.
func (e *Error) retryable() bool {
	switch e.Kind {
	case KindTransport:
		return true
	case KindHTTP:
		return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
	default:
		return false
	}
}

// KindOf returns the Kind carried by err, or 0 when err is not a fetch error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// StatusOf returns the upstream status for KindHTTP errors, 0 otherwise.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == KindHTTP {
		return fe.Status
	}
	return 0
}
