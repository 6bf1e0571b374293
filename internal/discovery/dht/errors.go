package dht

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-firestrike/pkg/types"
)

// 预定义错误
var (
	// ErrKeyNotFound 键未找到
	ErrKeyNotFound = errors.New("dht: key not found")

	// ErrNoProvidersFound 查找结束仍无 Provider
	ErrNoProvidersFound = types.ErrNoProvidersFound

	// ErrRecordExpired 记录已过期
	ErrRecordExpired = types.ErrRecordExpired

	// ErrNoNodes 没有可用节点
	ErrNoNodes = errors.New("dht: no nodes available")

	// ErrBootstrapFailed 所有引导节点均不可达
	ErrBootstrapFailed = errors.New("dht: bootstrap failed")

	// ErrAlreadyStarted DHT 已启动
	ErrAlreadyStarted = errors.New("dht: DHT already started")

	// ErrNotStarted DHT 未启动
	ErrNotStarted = errors.New("dht: DHT not started")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("dht: invalid config")

	// ErrInvalidResponse 无效响应
	ErrInvalidResponse = errors.New("dht: invalid response")

	// ErrInvalidMessage 无法解码的消息
	ErrInvalidMessage = errors.New("dht: invalid message")

	// ErrMessageTooLarge 消息超过上限
	ErrMessageTooLarge = errors.New("dht: message too large")

	// ErrRemote 对端返回错误响应
	ErrRemote = errors.New("dht: remote error")

	// ErrRateLimitExceeded 速率限制超限
	ErrRateLimitExceeded = errors.New("dht: rate limit exceeded")

	// ErrUnsupportedMessage 不支持的消息类型
	ErrUnsupportedMessage = errors.New("dht: unsupported message type")

	// ErrInvalidValue 无效值
	ErrInvalidValue = errors.New("dht: invalid value")
)

// DHTError DHT 错误类型
type DHTError struct {
	Op      string // 操作名称
	Err     error  // 底层错误
	Message string // 错误消息
}

// Error 实现 error 接口
func (e *DHTError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dht %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("dht %s: %v", e.Op, e.Err)
}

// Unwrap 实现错误解包
func (e *DHTError) Unwrap() error {
	return e.Err
}

// NewDHTError 创建 DHT 错误
func NewDHTError(op string, err error, message string) *DHTError {
	return &DHTError{
		Op:      op,
		Err:     err,
		Message: message,
	}
}

// remoteError 对端返回的错误响应
func remoteError(msg string) error {
	return fmt.Errorf("%w: %s", ErrRemote, msg)
}
