package config

import (
	"fmt"
)

// ValidateAndFix 验证配置并修复可自动纠正的问题
//
// 可修复的问题：
//   - republish_interval 不小于 record_ttl -> 取 record_ttl 的一半
//   - replication 超过 bucket_size -> 截断为 bucket_size
//   - max_record_ttl 小于 record_ttl -> 提升到 record_ttl
func ValidateAndFix(c *Config) (*Config, error) {
	if c == nil {
		return NewConfig(), nil
	}

	if c.DHT.RecordTTL > 0 && c.DHT.RepublishInterval >= c.DHT.RecordTTL {
		c.DHT.RepublishInterval = c.DHT.RecordTTL / 2
	}
	if c.DHT.Replication > c.DHT.BucketSize {
		c.DHT.Replication = c.DHT.BucketSize
	}
	if c.DHT.MaxRecordTTL < c.DHT.RecordTTL {
		c.DHT.MaxRecordTTL = c.DHT.RecordTTL
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed after fixes: %w", err)
	}
	return c, nil
}
