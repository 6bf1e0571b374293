package content

import (
	"errors"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/internal/core/crypto"
)

// Config 内容存储配置
type Config struct {
	// ChunkSize 每块明文字节数，密文分块另加认证标签
	ChunkSize int

	// CacheSize 热分块缓存条目数，0 表示不缓存
	CacheSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建
func ConfigFromUnified(cfg *config.Config) Config {
	cc := config.DefaultContentConfig()
	if cfg != nil {
		cc = cfg.Content
	}
	return Config{
		ChunkSize: cc.ChunkSize,
		CacheSize: cc.CacheSize,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return errors.New("content: chunk size must be positive")
	}
	if c.CacheSize < 0 {
		return errors.New("content: cache size must not be negative")
	}
	return nil
}

// SealedChunkSize 返回满块密文字节数
func (c Config) SealedChunkSize() int {
	return c.ChunkSize + crypto.TagSize
}
