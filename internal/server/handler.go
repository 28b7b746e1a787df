package server

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/postercache/postercache/internal/assetcache"
	"github.com/postercache/postercache/internal/keycodec"
	"github.com/postercache/postercache/internal/logging"
)

type assetHandler struct {
	assets        *assetcache.Cache
	logger        *logrus.Logger
	stripSegments int
}

// get serves GET /assets/:key?src=<url>.
func (h *assetHandler) get(c fiber.Ctx) error {
	key := keycodec.Key(c.Params("key"))
	source := strings.TrimSpace(c.Query("src"))
	if source == "" {
		return h.reject(c, key, fiber.StatusBadRequest, "missing_source")
	}
	return h.serve(c, key, source)
}

// getBySource serves GET /assets?src=<url>, deriving the key from the URL.
func (h *assetHandler) getBySource(c fiber.Ctx) error {
	source := strings.TrimSpace(c.Query("src"))
	if source == "" {
		return h.reject(c, "", fiber.StatusBadRequest, "missing_source")
	}
	key, err := keycodec.FromURL(source, h.stripSegments)
	if err != nil {
		return h.reject(c, "", fiber.StatusBadRequest, "invalid_source")
	}
	c.Set("X-Asset-Key", key.String())
	return h.serve(c, key, source)
}

func (h *assetHandler) serve(c fiber.Ctx, key keycodec.Key, source string) error {
	started := time.Now()

	res := h.assets.Load(c.Context(), key, source)
	if res.Err != nil {
		status, code := statusFor(res.Err)
		h.logResult(c, key, res.Tier, status, started, res.Err)
		return WriteError(c, status, code)
	}

	c.Set(fiber.HeaderContentType, res.Asset.ContentType())
	c.Set("X-Asset-Tier", res.Tier.String())
	h.logResult(c, key, res.Tier, fiber.StatusOK, started, nil)
	return c.Status(fiber.StatusOK).Send(res.Asset.Data)
}

// invalidate serves DELETE /assets/:key.
func (h *assetHandler) invalidate(c fiber.Ctx) error {
	started := time.Now()
	key := keycodec.Key(c.Params("key"))

	if err := h.assets.Invalidate(c.Context(), key); err != nil {
		status, code := statusFor(err)
		h.logResult(c, key, assetcache.TierNone, status, started, err)
		return WriteError(c, status, code)
	}
	h.logResult(c, key, assetcache.TierNone, fiber.StatusNoContent, started, nil)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *assetHandler) reject(c fiber.Ctx, key keycodec.Key, status int, code string) error {
	fields := logging.RequestFields(RequestID(c), key.String(), assetcache.TierNone.String(), status, 0)
	fields["action"] = "asset_request"
	fields["error"] = code
	h.logger.WithFields(fields).Warn("asset_rejected")
	return WriteError(c, status, code)
}

func (h *assetHandler) logResult(c fiber.Ctx, key keycodec.Key, tier assetcache.Tier, status int, started time.Time, err error) {
	fields := logging.RequestFields(RequestID(c), key.String(), tier.String(), status, time.Since(started))
	fields["action"] = "asset_request"
	fields["method"] = c.Method()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("asset_failed")
		return
	}
	h.logger.WithFields(fields).Info("asset_complete")
}
