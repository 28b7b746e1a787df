package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供缓存键、命中层级与响应状态字段，供资源请求日志复用。
func RequestFields(requestID, key, tier string, status int, elapsed time.Duration) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"key":        key,
		"tier":       tier,
		"status":     status,
		"elapsed_ms": elapsed.Milliseconds(),
	}
}
