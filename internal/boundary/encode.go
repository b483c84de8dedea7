package boundary

import (
	"encoding/json"

	"go.uber.org/zap"
)

// emptyList 序列化失败时的降级结果
var emptyList = []byte("[]")

// Encode 序列化为 JSON; 失败时返回 "[]", 不向调用方暴露错误
func Encode(v any, logger *zap.Logger) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("serialization failed, falling back to empty list", zap.Error(err))
		return emptyList
	}
	return data
}
