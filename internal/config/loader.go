package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultMaxMemoryCache = 64 * 1024 * 1024
	defaultMaxAssetSize   = 20 * 1024 * 1024
	defaultMaxPixels      = 16 << 20
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectTables(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("MaxMemoryCacheSize", defaultMaxMemoryCache)
	v.SetDefault("MaxMemoryEntries", 0)
	v.SetDefault("MaxAssetSize", defaultMaxAssetSize)
	v.SetDefault("MaxPixels", defaultMaxPixels)
	v.SetDefault("MaxConcurrentFetches", 8)
	v.SetDefault("PrefetchParallelism", 4)
	v.SetDefault("MaxRetries", 2)
	v.SetDefault("InitialBackoff", "500ms")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("UserAgent", "")
	v.SetDefault("KeyStripSegments", 2)
}

// applyGlobalDefaults 兜底显式写成 0 的字段，0 在这些字段上没有意义。
func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.MaxMemoryCache == 0 {
		g.MaxMemoryCache = defaultMaxMemoryCache
	}
	if g.MaxAssetSize == 0 {
		g.MaxAssetSize = defaultMaxAssetSize
	}
	if g.MaxPixels == 0 {
		g.MaxPixels = defaultMaxPixels
	}
	if g.MaxConcurrentFetches == 0 {
		g.MaxConcurrentFetches = 8
	}
	if g.PrefetchParallelism == 0 {
		g.PrefetchParallelism = 4
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(500 * time.Millisecond)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectTables 拒绝任何 [Section] 或 [[Array]] 表：所有配置项都位于顶层，
// 表内字段会被静默忽略，容易让用户误以为配置已生效。
func rejectTables(v *viper.Viper) error {
	var tables []string
	for key, value := range v.AllSettings() {
		switch value.(type) {
		case map[string]interface{}, []interface{}, []map[string]interface{}:
			tables = append(tables, key)
		}
	}
	if len(tables) == 0 {
		return nil
	}
	sort.Strings(tables)
	return newFieldError(tables[0], "不支持嵌套表，请将字段写在顶层")
}
