package routes

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/postercache/postercache/internal/assetcache"
	"github.com/postercache/postercache/internal/cache"
	"github.com/postercache/postercache/internal/keycodec"
	"github.com/postercache/postercache/internal/server"
)

// maxPrefetchItems 限制单次预取请求的条目数，避免一次请求占满抓取并发。
const maxPrefetchItems = 500

// DiagnosticsOptions 汇总诊断接口依赖。
type DiagnosticsOptions struct {
	Logger           *logrus.Logger
	Assets           *assetcache.Cache
	KeyStripSegments int
}

// RegisterDiagnosticRoutes 暴露 /-/stats、/-/entries/:key、/-/memory/trim 与
// /-/prefetch，供运维查看命中统计与磁盘条目、模拟内存压力以及批量预热海报。
func RegisterDiagnosticRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil || opts.Assets == nil {
		return
	}

	app.Get("/-/stats", func(c fiber.Ctx) error {
		usage, err := opts.Assets.DiskUsage(c.Context())
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.WithError(err).WithField("action", "disk_usage").Warn("disk_usage_failed")
			}
			return server.WriteError(c, fiber.StatusInternalServerError, "disk_usage_failed")
		}
		return c.JSON(statsPayload{Cache: opts.Assets.Stats(), Disk: usage})
	})

	app.Get("/-/entries/:key", func(c fiber.Ctx) error {
		entry, err := opts.Assets.DiskEntry(c.Context(), keycodec.Key(c.Params("key")))
		switch {
		case errors.Is(err, cache.ErrInvalidKey):
			return server.WriteError(c, fiber.StatusBadRequest, "invalid_key")
		case errors.Is(err, cache.ErrNotFound):
			return server.WriteError(c, fiber.StatusNotFound, "not_cached")
		case err != nil:
			return server.WriteError(c, fiber.StatusInternalServerError, "disk_stat_failed")
		}
		return c.JSON(entryPayload{
			Key:       entry.Key.String(),
			SizeBytes: entry.SizeBytes,
			ModTime:   entry.ModTime,
		})
	})

	app.Post("/-/memory/trim", func(c fiber.Ctx) error {
		target := int64(0)
		if raw := strings.TrimSpace(c.Query("bytes")); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				return server.WriteError(c, fiber.StatusBadRequest, "invalid_bytes")
			}
			target = parsed
		}
		opts.Assets.TrimMemory(target)
		stats := opts.Assets.Stats()
		if opts.Logger != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "memory_trim",
				"target":     target,
				"bytes":      stats.Memory.Bytes,
				"request_id": server.RequestID(c),
			}).Info("memory_trimmed")
		}
		return c.JSON(stats.Memory)
	})

	app.Post("/-/prefetch", func(c fiber.Ctx) error {
		var payload prefetchPayload
		if err := json.Unmarshal(c.Body(), &payload); err != nil {
			return server.WriteError(c, fiber.StatusBadRequest, "invalid_body")
		}
		if len(payload.Items) == 0 {
			return server.WriteError(c, fiber.StatusBadRequest, "empty_prefetch")
		}
		if len(payload.Items) > maxPrefetchItems {
			return server.WriteError(c, fiber.StatusBadRequest, "too_many_items")
		}

		reqs := make([]assetcache.Request, 0, len(payload.Items))
		for _, item := range payload.Items {
			source := strings.TrimSpace(item.Source)
			if source == "" {
				return server.WriteError(c, fiber.StatusBadRequest, "missing_source")
			}
			key := keycodec.Key(strings.TrimSpace(string(item.Key)))
			if key == "" {
				derived, err := keycodec.FromURL(source, opts.KeyStripSegments)
				if err != nil {
					return server.WriteError(c, fiber.StatusBadRequest, "invalid_source")
				}
				key = derived
			}
			reqs = append(reqs, assetcache.Request{Key: key, Source: source})
		}

		report, err := opts.Assets.Prefetch(c.Context(), reqs)
		if opts.Logger != nil {
			fields := logrus.Fields{
				"action":     "prefetch",
				"requested":  report.Requested,
				"cached":     report.Cached,
				"fetched":    report.Fetched,
				"failed":     report.Failed,
				"request_id": server.RequestID(c),
			}
			if err != nil {
				fields["error"] = err.Error()
			}
			opts.Logger.WithFields(fields).Info("prefetch_complete")
		}
		if err != nil {
			return server.WriteError(c, fiber.StatusServiceUnavailable, "request_cancelled")
		}
		return c.Status(fiber.StatusOK).JSON(report)
	})
}

type statsPayload struct {
	Cache assetcache.Stats `json:"cache"`
	Disk  cache.Usage      `json:"disk"`
}

// entryPayload 不暴露磁盘绝对路径。
type entryPayload struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

type prefetchPayload struct {
	Items []assetcache.Request `json:"items"`
}
