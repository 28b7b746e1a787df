// Package keycodec derives cache keys from asset source identifiers. A key is
// a single path element that is equally safe as a map key and as a file name
// inside the flat disk store, so the codec never emits separators, leading
// dots or characters outside [A-Za-z0-9._-].
package keycodec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zeebo/blake3"
)

// MaxLength 限制可读 key 的长度，超出后改用摘要形式，避免触碰文件名上限。
const MaxLength = 200

const hashedPrefix = "h-"

// Key 是缓存条目的唯一标识，同时充当磁盘文件名。
type Key string

// String 返回 key 的原始字符串。
func (k Key) String() string {
	return string(k)
}

// Derive 将任意来源标识转换为稳定的 Key：去掉路径分隔符、替换不安全字符，
// 过长或清洗后为空时退化为 BLAKE3 摘要。
func Derive(source string) Key {
	var b strings.Builder
	b.Grow(len(source))
	for _, r := range source {
		switch {
		case r == '/' || r == '\\':
			// 分隔符直接丢弃，段之间无缝拼接。
		case isSafe(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	cleaned := strings.TrimLeft(b.String(), ".")
	if cleaned == "" || len(cleaned) > MaxLength {
		return hashed(source)
	}
	return Key(cleaned)
}

// FromURL 仅使用 URL 的 path 部分派生 Key，并跳过前 skip 个路径段
// （例如 TMDB 海报路径中的 /t/p 前缀）。跳过后为空时使用完整路径。
func FromURL(rawURL string, skip int) (Key, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", errors.New("source url required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported source scheme %q", parsed.Scheme)
	}

	segments := splitPath(parsed.Path)
	if skip < 0 {
		skip = 0
	}
	if skip < len(segments) {
		segments = segments[skip:]
	}
	if len(segments) == 0 {
		return Derive(parsed.Host), nil
	}
	return Derive(strings.Join(segments, "")), nil
}

// Valid 判断 key 能否直接作为平铺目录中的文件名使用。
func Valid(key Key) bool {
	s := string(key)
	if s == "" || len(s) > MaxLength || s[0] == '.' {
		return false
	}
	for _, r := range s {
		if !isSafe(r) {
			return false
		}
	}
	return true
}

func hashed(source string) Key {
	sum := blake3.Sum256([]byte(source))
	return Key(hashedPrefix + hex.EncodeToString(sum[:]))
}

func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	}
	return false
}
