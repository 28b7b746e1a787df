// Package asset holds the decoded image representation shared by every cache
// tier. An Asset keeps the original encoded bytes, which is what the disk tier
// persists and what callers serve, alongside the format and dimensions learned
// while decoding.
package asset

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Registered decoders for the formats poster CDNs serve.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/postercache/postercache/internal/keycodec"
)

// DefaultMaxPixels bounds the decoded size of an image. 16Mi pixels is far
// above any poster size and caps a decode at 64 MiB of RGBA.
const DefaultMaxPixels = 16 << 20

var (
	// ErrEmpty is returned when decoding a zero-length payload.
	ErrEmpty = errors.New("empty asset payload")
	// ErrTooLarge is returned when the image header declares more pixels
	// than the decoder accepts.
	ErrTooLarge = errors.New("image exceeds pixel limit")
)

// Asset is an immutable decoded image. Callers must not modify Data.
type Asset struct {
	Key    keycodec.Key
	Data   []byte
	Format string
	Width  int
	Height int
}

// Cost is the number of bytes the asset accounts for in the memory tier.
func (a *Asset) Cost() int64 {
	if a == nil {
		return 0
	}
	return int64(len(a.Data))
}

// ContentType returns the MIME type matching the decoded format.
func (a *Asset) ContentType() string {
	if a == nil || a.Format == "" {
		return "application/octet-stream"
	}
	return "image/" + a.Format
}

// Decode is DecodeWithLimit with DefaultMaxPixels.
func Decode(key keycodec.Key, data []byte) (*Asset, error) {
	return DecodeWithLimit(key, data, DefaultMaxPixels)
}

// DecodeWithLimit fully decodes data so that truncated or corrupted payloads
// are rejected before they reach any cache tier. The header is read first and
// images with more than maxPixels pixels fail with ErrTooLarge without being
// decoded. maxPixels <= 0 means DefaultMaxPixels.
func DecodeWithLimit(key keycodec.Key, data []byte, maxPixels int64) (*Asset, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, fmt.Errorf("decode %s: %dx%d exceeds %d pixels: %w", key, cfg.Width, cfg.Height, maxPixels, ErrTooLarge)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	bounds := img.Bounds()
	return &Asset{
		Key:    key,
		Data:   data,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
