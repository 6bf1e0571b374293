package config

import (
	"fmt"
	"time"
)

// ContentConfig 内容存储配置
type ContentConfig struct {
	// ChunkSize 每块明文字节数
	ChunkSize int `json:"chunk_size"`

	// CacheSize 热分块缓存条目数
	CacheSize int `json:"cache_size"`
}

// DefaultContentConfig 返回默认内容配置
func DefaultContentConfig() ContentConfig {
	return ContentConfig{
		ChunkSize: 1 << 20,
		CacheSize: 64,
	}
}

// Validate 验证内容配置
func (c *ContentConfig) Validate() error {
	if c.ChunkSize < 1024 || c.ChunkSize > 16<<20 {
		return fmt.Errorf("content: chunk_size must be in [1KiB, 16MiB], got %d", c.ChunkSize)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("content: cache_size must not be negative")
	}
	return nil
}

// TransferConfig 发布/拉取配置
type TransferConfig struct {
	// FetchConcurrency 并发拉取分块数
	FetchConcurrency int `json:"fetch_concurrency"`

	// ChunkTimeout 单个分块拉取期限（含所有 Provider 轮换）
	ChunkTimeout Duration `json:"chunk_timeout"`

	// MinFanout 发布时至少需要确认的 STORE 数，0 表示不强制
	MinFanout int `json:"min_fanout"`

	// Seed 非临时拉取完成后是否做种
	Seed bool `json:"seed"`
}

// DefaultTransferConfig 返回默认配置
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		FetchConcurrency: 4,
		ChunkTimeout:     Duration(2 * time.Minute),
		MinFanout:        0,
		Seed:             true,
	}
}

// Validate 验证配置
func (c *TransferConfig) Validate() error {
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("transfer: fetch_concurrency must be positive")
	}
	if c.ChunkTimeout <= 0 {
		return fmt.Errorf("transfer: chunk_timeout must be positive")
	}
	if c.MinFanout < 0 {
		return fmt.Errorf("transfer: min_fanout must not be negative")
	}
	return nil
}
