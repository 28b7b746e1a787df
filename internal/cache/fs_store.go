package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/postercache/postercache/internal/keycodec"
	"github.com/postercache/postercache/internal/keylock"
)

const tempPattern = ".cache-*"

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
// 启动时会清理上次崩溃遗留的临时文件。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	if err := sweepTempFiles(abs); err != nil {
		return nil, fmt.Errorf("sweep temp files: %w", err)
	}

	return &fileStore{basePath: abs}, nil
}

// fileStore 通过 keylock 避免同一 Key 并发写入/删除，同时复用 basePath。
type fileStore struct {
	basePath string
	locks    keylock.Map
}

func (s *fileStore) Read(ctx context.Context, key keycodec.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	// rename 保证这里要么读到旧文件要么读到新文件。
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *fileStore) Write(ctx context.Context, key keycodec.Key, data []byte) error {
	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	tempFile, err := os.CreateTemp(s.basePath, tempPattern)
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, bytes.NewReader(data))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, key keycodec.Key) error {
	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Stat(ctx context.Context, key keycodec.Key) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	if info.IsDir() {
		return Entry{}, ErrNotFound
	}
	return Entry{
		Key:       key,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) Usage(ctx context.Context) (Usage, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return Usage{}, err
	}

	var usage Usage
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return Usage{}, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// 并发删除导致的缺失直接跳过。
			continue
		}
		usage.Entries++
		usage.Bytes += info.Size()
	}
	return usage, nil
}

// entryPath 将 Key 映射为 basePath 下的单层文件路径，拒绝任何可能逃逸目录的 key。
func (s *fileStore) entryPath(key keycodec.Key) (string, error) {
	if !keycodec.Valid(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	filePath := filepath.Join(s.basePath, string(key))
	if filepath.Dir(filePath) != s.basePath {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filePath, nil
}

func sweepTempFiles(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, tempPattern))
	if err != nil {
		return err
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
