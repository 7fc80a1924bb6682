package ids

import (
	"strings"

	"github.com/google/uuid"
)

// NewRequestID 请求唯一 id（随机 UUID）
func NewRequestID() string {
	return uuid.NewString()
}

// NewSessionID 客户端会话 id
func NewSessionID() string {
	return uuid.NewString()
}

// NewConnID 无连字符的短 id，用于 hub 连接
func NewConnID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
