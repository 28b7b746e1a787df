package cache

import (
	"context"
	"errors"
	"time"

	"github.com/postercache/postercache/internal/keycodec"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<key>    # 原始编码后的图片字节
//
// 目录是平铺的，文件名即 Key，不存在任何附加元数据。
type Store interface {
	// Read 返回完整写入的正文。若不存在则返回 ErrNotFound。
	Read(ctx context.Context, key keycodec.Key) ([]byte, error)

	// Write 以临时文件 + rename 的方式原子写入正文，失败时清理临时文件。
	Write(ctx context.Context, key keycodec.Key, data []byte) error

	// Delete 删除正文文件；条目不存在时不视为错误。
	Delete(ctx context.Context, key keycodec.Key) error

	// Stat 返回条目的文件信息，不存在时返回 ErrNotFound。
	Stat(ctx context.Context, key keycodec.Key) (Entry, error)

	// Usage 汇总目录中的条目数量与总字节数，供诊断接口使用。
	Usage(ctx context.Context) (Usage, error)
}

// Entry 描述一个磁盘条目，包含绝对文件路径及文件信息。
type Entry struct {
	Key       keycodec.Key `json:"key"`
	FilePath  string       `json:"file_path"`
	SizeBytes int64        `json:"size_bytes"`
	ModTime   time.Time    `json:"mod_time"`
}

// Usage 是磁盘目录的占用摘要。
type Usage struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidKey 表示 key 不能作为平铺目录中的文件名。
	ErrInvalidKey = errors.New("invalid cache key")
)
