package dht

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// Config DHT 配置
type Config struct {
	// BucketSize K-桶大小
	BucketSize int

	// Alpha 并发查询参数
	Alpha int

	// Replication 查找结束后补存记录的节点数
	Replication int

	// RPCTimeout 单次 RPC 超时（含拨号）
	RPCTimeout time.Duration

	// LookupTimeout 一次迭代查找的总期限
	LookupTimeout time.Duration

	// MaxRounds 迭代查找最大轮数
	MaxRounds int

	// RecordTTL 本节点发布记录的 TTL
	RecordTTL time.Duration

	// MaxRecordTTL 接收 STORE 时接受的最大 TTL
	MaxRecordTTL time.Duration

	// RepublishInterval 持有记录的重新发布间隔
	RepublishInterval time.Duration

	// CleanupInterval 过期记录清理间隔
	CleanupInterval time.Duration

	// RefreshInterval 路由表刷新间隔
	RefreshInterval time.Duration

	// NodeExpiry 超过该时间未联系的节点被移出路由表
	NodeExpiry time.Duration

	// FailureThreshold 连续失败多少次后驱逐
	FailureThreshold int

	// BootstrapPeers 引导节点汇合地址
	BootstrapPeers []types.RendezvousAddr

	// RateLimit 每个发送方每秒允许的入站请求数，0 表示不限
	RateLimit float64

	// RateBurst 入站请求突发上限
	RateBurst int

	// MaxMessageSize 单条消息上限
	MaxMessageSize int

	// Clock 时钟，测试时可替换为 mock
	Clock clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建 DHT 配置
func ConfigFromUnified(cfg *config.Config) *Config {
	dc := config.DefaultDHTConfig()
	if cfg != nil {
		dc = cfg.DHT
	}

	peers := make([]types.RendezvousAddr, 0, len(dc.BootstrapPeers))
	for _, p := range dc.BootstrapPeers {
		if p != "" {
			peers = append(peers, types.RendezvousAddr(p))
		}
	}

	return &Config{
		BucketSize:        dc.BucketSize,
		Alpha:             dc.Alpha,
		Replication:       dc.Replication,
		RPCTimeout:        dc.RPCTimeout.Duration(),
		LookupTimeout:     dc.LookupTimeout.Duration(),
		MaxRounds:         dc.MaxRounds,
		RecordTTL:         dc.RecordTTL.Duration(),
		MaxRecordTTL:      dc.MaxRecordTTL.Duration(),
		RepublishInterval: dc.RepublishInterval.Duration(),
		CleanupInterval:   dc.CleanupInterval.Duration(),
		RefreshInterval:   dc.RefreshInterval.Duration(),
		NodeExpiry:        dc.NodeExpiry.Duration(),
		FailureThreshold:  dc.FailureThreshold,
		BootstrapPeers:    peers,
		RateLimit:         dc.RateLimit,
		RateBurst:         dc.RateBurst,
		MaxMessageSize:    dc.MaxMessageSize,
		Clock:             clock.New(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.BucketSize <= 0 {
		return errors.New("bucket size must be positive")
	}

	if c.Alpha <= 0 {
		return errors.New("alpha must be positive")
	}

	if c.Replication <= 0 || c.Replication > c.BucketSize {
		return errors.New("replication must be in [1, bucket size]")
	}

	if c.RPCTimeout <= 0 || c.LookupTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}

	if c.MaxRounds <= 0 {
		return errors.New("max rounds must be positive")
	}

	if c.RecordTTL <= 0 || c.MaxRecordTTL < c.RecordTTL {
		return errors.New("record TTL must be positive and not exceed max record TTL")
	}

	if c.RepublishInterval <= 0 || c.CleanupInterval <= 0 || c.RefreshInterval <= 0 {
		return errors.New("intervals must be positive")
	}

	if c.FailureThreshold <= 0 {
		return errors.New("failure threshold must be positive")
	}

	if c.MaxMessageSize <= 0 {
		return errors.New("max message size must be positive")
	}

	if c.Clock == nil {
		return errors.New("clock is nil")
	}

	return nil
}

// ConfigOption 配置选项函数
type ConfigOption func(*Config)

// WithBucketSize 设置K-桶大小
func WithBucketSize(size int) ConfigOption {
	return func(c *Config) {
		c.BucketSize = size
	}
}

// WithAlpha 设置并发查询参数
func WithAlpha(alpha int) ConfigOption {
	return func(c *Config) {
		c.Alpha = alpha
	}
}

// WithRPCTimeout 设置单次 RPC 超时
func WithRPCTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.RPCTimeout = timeout
	}
}

// WithRecordTTL 设置记录 TTL
func WithRecordTTL(ttl time.Duration) ConfigOption {
	return func(c *Config) {
		c.RecordTTL = ttl
		if c.MaxRecordTTL < ttl {
			c.MaxRecordTTL = ttl
		}
	}
}

// WithBootstrapPeers 设置引导节点
func WithBootstrapPeers(peers ...types.RendezvousAddr) ConfigOption {
	return func(c *Config) {
		c.BootstrapPeers = peers
	}
}

// WithRateLimit 设置入站速率限制
func WithRateLimit(limit float64, burst int) ConfigOption {
	return func(c *Config) {
		c.RateLimit = limit
		c.RateBurst = burst
	}
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) ConfigOption {
	return func(c *Config) {
		c.Clock = clk
	}
}
