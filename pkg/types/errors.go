package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ============================================================================
//                              ID 相关错误
// ============================================================================

var (
	// ErrInvalidContentHash 无效的内容哈希
	ErrInvalidContentHash = errors.New("invalid content hash: must be 64 hex chars")
)

// ============================================================================
//                              传输错误（可重试）
// ============================================================================

var (
	// ErrUnreachable 对端不可达
	ErrUnreachable = errors.New("transport: peer unreachable")

	// ErrTimeout 拨号或读写超时
	ErrTimeout = errors.New("transport: timeout")

	// ErrProvisioningFailed 汇合地址申请失败
	ErrProvisioningFailed = errors.New("transport: rendezvous provisioning failed")
)

// TransportError 传输层错误
//
// Err 为 ErrUnreachable / ErrTimeout / ErrProvisioningFailed 之一，
// Cause 保留底层错误用于诊断。
type TransportError struct {
	Op    string
	Addr  RendezvousAddr
	Err   error
	Cause error
}

// Error 实现 error 接口
func (e *TransportError) Error() string {
	msg := e.Op
	if e.Addr != "" {
		msg += " " + string(e.Addr)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v: %v", msg, e.Err, e.Cause)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap 返回错误种类
func (e *TransportError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// NewTransportError 创建传输错误
func NewTransportError(op string, addr RendezvousAddr, kind, cause error) *TransportError {
	return &TransportError{Op: op, Addr: addr, Err: kind, Cause: cause}
}

// ClassifyDialError 将底层拨号错误映射为 TransportError
//
// 超时（含 context 期限）归为 ErrTimeout，其余归为 ErrUnreachable；
// 已是 TransportError 的原样返回。
func ClassifyDialError(addr RendezvousAddr, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	if IsTimeout(err) {
		return NewTransportError("dial", addr, ErrTimeout, err)
	}
	return NewTransportError("dial", addr, ErrUnreachable, err)
}

// IsTimeout 检查错误是否为超时
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ============================================================================
//                              加密错误（终止性）
// ============================================================================

var (
	// ErrInvalidKey 密钥长度或输入非法
	ErrInvalidKey = errors.New("crypto: invalid key")

	// ErrAuthenticationFailed 解密认证失败（密钥错误或密文被篡改）
	ErrAuthenticationFailed = errors.New("crypto: authentication failed")
)

// CryptoError 加密引擎错误，从不重试
type CryptoError struct {
	Op  string
	Err error
	// Detail 附加说明，不得包含密钥材料
	Detail string
}

// Error 实现 error 接口
func (e *CryptoError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap 实现错误解包
func (e *CryptoError) Unwrap() error {
	return e.Err
}

// ============================================================================
//                              完整性错误
// ============================================================================

// ErrHashMismatch 哈希不匹配
var ErrHashMismatch = errors.New("integrity: hash mismatch")

// IntegrityError 完整性校验失败
//
// Index 为 -1 表示整文件哈希校验失败。
type IntegrityError struct {
	ContentHash ContentHash
	Index       int
	Provider    RendezvousAddr
	Expected    ContentHash
	Actual      ContentHash
}

// Error 实现 error 接口
func (e *IntegrityError) Error() string {
	where := "content"
	if e.Index >= 0 {
		where = fmt.Sprintf("chunk %d", e.Index)
	}
	msg := fmt.Sprintf("%v: %s of %s expected %s got %s",
		ErrHashMismatch, where, e.ContentHash.ShortString(), e.Expected.ShortString(), e.Actual.ShortString())
	if e.Provider != "" {
		msg += " from " + string(e.Provider)
	}
	return msg
}

// Unwrap 实现错误解包
func (e *IntegrityError) Unwrap() error {
	return ErrHashMismatch
}

// ============================================================================
//                              DHT / 内容错误
// ============================================================================

var (
	// ErrNoProvidersFound 查找耗尽后仍无 Provider
	ErrNoProvidersFound = errors.New("dht: no providers found")

	// ErrRecordExpired 记录已过期
	ErrRecordExpired = errors.New("dht: record expired")

	// ErrMalformedLocator 磁力定位符格式错误
	ErrMalformedLocator = errors.New("malformed locator")

	// ErrNotFound 本地未知的内容
	ErrNotFound = errors.New("content: not found")

	// ErrChunkUnavailable 所有 Provider 均无法提供某分块
	ErrChunkUnavailable = errors.New("content: chunk unavailable")

	// ErrEmptyContent 空文件
	ErrEmptyContent = errors.New("content: empty input")
)

// MalformedLocatorError 定位符解析错误
type MalformedLocatorError struct {
	Reason string
}

// Error 实现 error 接口
func (e *MalformedLocatorError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMalformedLocator, e.Reason)
}

// Unwrap 实现错误解包
func (e *MalformedLocatorError) Unwrap() error {
	return ErrMalformedLocator
}

// ChunkUnavailableError 分块在所有 Provider 处均失败
//
// Err 聚合了每个 Provider 的失败原因。
type ChunkUnavailableError struct {
	ContentHash ContentHash
	Index       int
	Err         error
}

// Error 实现 error 接口
func (e *ChunkUnavailableError) Error() string {
	return fmt.Sprintf("%v: chunk %d of %s: %v", ErrChunkUnavailable, e.Index, e.ContentHash.ShortString(), e.Err)
}

// Unwrap 实现错误解包
func (e *ChunkUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrChunkUnavailable}
	}
	return []error{ErrChunkUnavailable, e.Err}
}

// ============================================================================
//                              辅助函数
// ============================================================================

// IsTransient 检查错误是否为可在查找/拉取内吸收的瞬时错误
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout)
}

// IsTerminal 检查错误是否为终止性错误
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrMalformedLocator)
}
