package config

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError(globalField("ListenPort"), "必须在 1-65535")
	}
	if strings.TrimSpace(g.LogLevel) != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError(globalField("LogLevel"), "仅支持 trace/debug/info/warn/error/fatal/panic")
		}
	}
	if g.LogMaxSize < 0 {
		return newFieldError(globalField("LogMaxSize"), "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError(globalField("LogMaxBackups"), "不能为负数")
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError(globalField("StoragePath"), "不能为空")
	}
	if g.MaxMemoryCache <= 0 {
		return newFieldError(globalField("MaxMemoryCacheSize"), "必须大于 0")
	}
	if g.MaxMemoryEntries < 0 {
		return newFieldError(globalField("MaxMemoryEntries"), "不能为负数")
	}
	if g.MaxAssetSize <= 0 {
		return newFieldError(globalField("MaxAssetSize"), "必须大于 0")
	}
	if g.MaxAssetSize > g.MaxMemoryCache {
		return newFieldError(globalField("MaxAssetSize"), "不能超过 MaxMemoryCacheSize")
	}
	if g.MaxPixels <= 0 {
		return newFieldError(globalField("MaxPixels"), "必须大于 0")
	}
	if g.MaxConcurrentFetches <= 0 {
		return newFieldError(globalField("MaxConcurrentFetches"), "必须大于 0")
	}
	if g.PrefetchParallelism <= 0 {
		return newFieldError(globalField("PrefetchParallelism"), "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError(globalField("MaxRetries"), "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError(globalField("InitialBackoff"), "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("UpstreamTimeout"), "必须大于 0")
	}
	if g.KeyStripSegments < 0 {
		return newFieldError(globalField("KeyStripSegments"), "不能为负数")
	}

	return nil
}
