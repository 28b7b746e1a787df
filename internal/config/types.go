package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"500ms" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述服务运行参数：监听端口、日志、两级缓存容量与上游抓取策略。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`

	MaxMemoryCache   int64 `mapstructure:"MaxMemoryCacheSize"`
	MaxMemoryEntries int   `mapstructure:"MaxMemoryEntries"`
	MaxAssetSize     int64 `mapstructure:"MaxAssetSize"`
	// MaxPixels 限制图片头部声明的像素总数，超出视为解码失败。
	MaxPixels int64 `mapstructure:"MaxPixels"`

	MaxConcurrentFetches int      `mapstructure:"MaxConcurrentFetches"`
	PrefetchParallelism  int      `mapstructure:"PrefetchParallelism"`
	MaxRetries           int      `mapstructure:"MaxRetries"`
	InitialBackoff       Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout      Duration `mapstructure:"UpstreamTimeout"`
	UserAgent            string   `mapstructure:"UserAgent"`

	// KeyStripSegments 为 GET /assets?src= 派生缓存键时丢弃的路径前缀段数，
	// 例如 TMDB 图片地址 /t/p/w500/xxx.jpg 丢弃 "t"、"p" 两段。
	KeyStripSegments int `mapstructure:"KeyStripSegments"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}
