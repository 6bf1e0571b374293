package config

import (
	"errors"
	"fmt"
	"time"
)

// DHTConfig DHT 配置
//
// Kademlia 参数：K 为桶容量，Alpha 为查找并发度，
// Replication 为查找结束后补存记录的目标节点数。
type DHTConfig struct {
	// BucketSize K 桶容量
	BucketSize int `json:"bucket_size"`

	// Alpha 查找并发度
	Alpha int `json:"alpha"`

	// Replication 复制因子 R
	Replication int `json:"replication"`

	// RPCTimeout 单次 RPC 超时（含拨号）
	RPCTimeout Duration `json:"rpc_timeout"`

	// LookupTimeout 一次迭代查找的总期限
	LookupTimeout Duration `json:"lookup_timeout"`

	// MaxRounds 迭代查找最大轮数
	MaxRounds int `json:"max_rounds"`

	// RecordTTL 记录默认存活时间
	RecordTTL Duration `json:"record_ttl"`

	// MaxRecordTTL 接收端接受的最大 TTL
	MaxRecordTTL Duration `json:"max_record_ttl"`

	// RepublishInterval 记录重新发布间隔，应小于 RecordTTL
	RepublishInterval Duration `json:"republish_interval"`

	// CleanupInterval 过期记录清理间隔
	CleanupInterval Duration `json:"cleanup_interval"`

	// RefreshInterval 桶刷新间隔
	RefreshInterval Duration `json:"refresh_interval"`

	// NodeExpiry 未联系节点的过期时间
	NodeExpiry Duration `json:"node_expiry"`

	// FailureThreshold 连续失败多少次后驱逐
	FailureThreshold int `json:"failure_threshold"`

	// BootstrapPeers 引导节点汇合地址
	BootstrapPeers []string `json:"bootstrap_peers,omitempty"`

	// RateLimit 每个发送方每秒允许的入站请求数
	RateLimit float64 `json:"rate_limit"`

	// RateBurst 入站请求突发上限
	RateBurst int `json:"rate_burst"`

	// MaxMessageSize 单条 RPC 消息上限（字节）
	MaxMessageSize int `json:"max_message_size"`
}

// DefaultDHTConfig 返回默认 DHT 配置
func DefaultDHTConfig() DHTConfig {
	return DHTConfig{
		BucketSize:        20,
		Alpha:             3,
		Replication:       3,
		RPCTimeout:        Duration(45 * time.Second),
		LookupTimeout:     Duration(3 * time.Minute),
		MaxRounds:         10,
		RecordTTL:         Duration(24 * time.Hour),
		MaxRecordTTL:      Duration(48 * time.Hour),
		RepublishInterval: Duration(time.Hour),
		CleanupInterval:   Duration(10 * time.Minute),
		RefreshInterval:   Duration(time.Hour),
		NodeExpiry:        Duration(24 * time.Hour),
		FailureThreshold:  3,
		RateLimit:         20,
		RateBurst:         60,
		MaxMessageSize:    4 << 20,
	}
}

// Validate 验证 DHT 配置
func (c *DHTConfig) Validate() error {
	if c.BucketSize <= 0 {
		return fmt.Errorf("dht: bucket_size must be positive, got %d", c.BucketSize)
	}
	if c.Alpha <= 0 {
		return fmt.Errorf("dht: alpha must be positive, got %d", c.Alpha)
	}
	if c.Replication <= 0 || c.Replication > c.BucketSize {
		return fmt.Errorf("dht: replication must be in [1, %d], got %d", c.BucketSize, c.Replication)
	}
	if c.MaxRounds <= 0 {
		return errors.New("dht: max_rounds must be positive")
	}
	if c.RPCTimeout <= 0 || c.LookupTimeout <= 0 {
		return errors.New("dht: timeouts must be positive")
	}
	if c.RecordTTL <= 0 || c.MaxRecordTTL < c.RecordTTL {
		return errors.New("dht: record_ttl must be positive and not exceed max_record_ttl")
	}
	if c.RepublishInterval <= 0 || c.RepublishInterval >= c.RecordTTL {
		return errors.New("dht: republish_interval must be positive and shorter than record_ttl")
	}
	if c.FailureThreshold <= 0 {
		return errors.New("dht: failure_threshold must be positive")
	}
	if c.MaxMessageSize < 64<<10 {
		return errors.New("dht: max_message_size must be at least 64KiB")
	}
	return nil
}
