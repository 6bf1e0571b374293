package muxer

import (
	"errors"
	"io"
	"time"

	"github.com/hashicorp/yamux"

	"github.com/dep2p/go-firestrike/config"
)

// Config 会话池配置
type Config struct {
	// DialTimeout 建立底层连接的超时
	DialTimeout time.Duration

	// KeepAliveInterval yamux 心跳间隔
	KeepAliveInterval time.Duration

	// StreamOpenTimeout 等待对端确认新流的超时
	StreamOpenTimeout time.Duration

	// IdleTimeout 无活动流的会话在此时间后回收
	IdleTimeout time.Duration

	// MaxSessions 出站会话上限，超出时淘汰最久未用的会话
	MaxSessions int

	// MaxStreamWindowSize 单流接收窗口
	MaxStreamWindowSize uint32
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DialTimeout:         45 * time.Second,
		KeepAliveInterval:   30 * time.Second,
		StreamOpenTimeout:   75 * time.Second,
		IdleTimeout:         5 * time.Minute,
		MaxSessions:         128,
		MaxStreamWindowSize: 1024 * 1024, // 1MB，一个分块可在单窗口内送达
	}
}

// ConfigFromUnified 从统一配置创建会话池配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	t := cfg.Transport
	if t.DialTimeout > 0 {
		c.DialTimeout = t.DialTimeout.Duration()
	}
	if t.Mux.KeepAliveInterval > 0 {
		c.KeepAliveInterval = t.Mux.KeepAliveInterval.Duration()
	}
	if t.Mux.StreamOpenTimeout > 0 {
		c.StreamOpenTimeout = t.Mux.StreamOpenTimeout.Duration()
	}
	if t.Mux.IdleTimeout > 0 {
		c.IdleTimeout = t.Mux.IdleTimeout.Duration()
	}
	if t.Mux.MaxSessions > 0 {
		c.MaxSessions = t.Mux.MaxSessions
	}
	return c
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.DialTimeout <= 0 {
		return errors.New("muxer: dial timeout must be positive")
	}
	if c.MaxSessions <= 0 {
		return errors.New("muxer: max sessions must be positive")
	}
	if c.MaxStreamWindowSize < 256*1024 {
		return errors.New("muxer: stream window must be at least 256KB")
	}
	return nil
}

// yamuxConfig 转换为 yamux 原生配置
func (c Config) yamuxConfig() *yamux.Config {
	return &yamux.Config{
		AcceptBacklog:          256,
		EnableKeepAlive:        c.KeepAliveInterval > 0,
		KeepAliveInterval:      c.KeepAliveInterval,
		ConnectionWriteTimeout: 30 * time.Second, // 匿名网络写入抖动大，放宽到 30s
		MaxStreamWindowSize:    c.MaxStreamWindowSize,
		StreamOpenTimeout:      c.StreamOpenTimeout,
		StreamCloseTimeout:     5 * time.Minute,
		LogOutput:              io.Discard, // 禁用日志输出
	}
}
