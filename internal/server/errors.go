package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/postercache/postercache/internal/cache"
	"github.com/postercache/postercache/internal/fetch"
)

// statusFor maps a lookup failure to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, cache.ErrInvalidKey):
		return fiber.StatusBadRequest, "invalid_key"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "upstream_unreachable"
	case errors.Is(err, context.Canceled):
		return fiber.StatusServiceUnavailable, "request_cancelled"
	}

	switch fetch.KindOf(err) {
	case fetch.KindHTTP:
		if fetch.StatusOf(err) == fiber.StatusNotFound {
			return fiber.StatusNotFound, "upstream_not_found"
		}
		return fiber.StatusBadGateway, "upstream_status"
	case fetch.KindTransport:
		return fiber.StatusGatewayTimeout, "upstream_unreachable"
	case fetch.KindDecode:
		return fiber.StatusBadGateway, "undecodable_asset"
	}
	return fiber.StatusInternalServerError, "internal_error"
}
