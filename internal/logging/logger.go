package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/postercache/postercache/internal/config"
)

// InitLogger 按配置创建 JSON 日志器，并让 logrus 包级 logger 与之保持一致。
// 日志文件目录不可用时降级到 stdout，只记录一条 logger_fallback 告警。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	out, fallbackErr := openOutput(cfg)
	if fallbackErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", fallbackErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	mirrorStandardLogger(logger)

	if fallbackErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(fallbackErr.Error())
	}
	return logger, nil
}

// parseLevel 空字符串视为 info。
func parseLevel(raw string) (logrus.Level, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return 0, fmt.Errorf("无法解析日志级别: %w", err)
	}
	return level, nil
}

func mirrorStandardLogger(logger *logrus.Logger) {
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())
}

// openOutput 返回日志 Writer；LogFilePath 为空时直接使用 stdout。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}
