package muxer

import (
	"errors"

	"github.com/hashicorp/yamux"
)

var (
	// ErrPoolClosed 会话池已关闭
	ErrPoolClosed = errors.New("muxer: pool closed")

	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("muxer: session closed")
)

// parseError 转换 yamux 错误为包内错误
func parseError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, yamux.ErrSessionShutdown) || errors.Is(err, yamux.ErrRemoteGoAway) {
		return ErrSessionClosed
	}
	return err
}
