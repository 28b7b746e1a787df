package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/postercache/postercache/internal/assetcache"
)

// AppOptions controls how the Fiber application serves the asset cache.
type AppOptions struct {
	Logger *logrus.Logger
	Assets *assetcache.Cache
	// KeyStripSegments is how many leading path segments GET /assets?src=
	// drops before deriving a key from the source URL.
	KeyStripSegments int
}

const contextKeyRequestID = "_postercache_request_id"

// NewApp builds a Fiber application with request id middleware, panic
// recovery and the /assets routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Assets == nil {
		return nil, errors.New("asset cache is required")
	}
	if opts.KeyStripSegments < 0 {
		return nil, errors.New("key strip segments must not be negative")
	}

	// Keys and sources outlive the request in the cache maps and in the
	// background fetch, so params must not alias fasthttp buffers.
	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		Immutable:     true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	h := &assetHandler{
		assets:        opts.Assets,
		logger:        opts.Logger,
		stripSegments: opts.KeyStripSegments,
	}
	app.Get("/assets", h.getBySource)
	app.Get("/assets/:key", h.get)
	app.Delete("/assets/:key", h.invalidate)

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID 并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// WriteError renders the JSON error body shared by every route.
func WriteError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
