package transfer

import (
	"errors"
	"time"

	"github.com/dep2p/go-firestrike/config"
)

// Config 发布/拉取配置
type Config struct {
	// FetchConcurrency 并发拉取分块数
	FetchConcurrency int

	// ChunkTimeout 单个分块拉取期限，含全部提供者轮换
	ChunkTimeout time.Duration

	// MinFanout 发布时至少需要的远端确认数，0 表示不要求
	MinFanout int

	// Seed 非临时拉取后是否做种
	Seed bool

	// ReannounceInterval 本地内容重新宣告间隔
	ReannounceInterval time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建
//
// 重新宣告间隔沿用 DHT 的重新发布间隔，保证在记录过期前续期。
func ConfigFromUnified(cfg *config.Config) Config {
	tc := config.DefaultTransferConfig()
	dc := config.DefaultDHTConfig()
	if cfg != nil {
		tc = cfg.Transfer
		dc = cfg.DHT
	}
	return Config{
		FetchConcurrency:   tc.FetchConcurrency,
		ChunkTimeout:       tc.ChunkTimeout.Duration(),
		MinFanout:          tc.MinFanout,
		Seed:               tc.Seed,
		ReannounceInterval: dc.RepublishInterval.Duration(),
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.FetchConcurrency <= 0 {
		return errors.New("transfer: fetch concurrency must be positive")
	}
	if c.ChunkTimeout <= 0 {
		return errors.New("transfer: chunk timeout must be positive")
	}
	if c.MinFanout < 0 {
		return errors.New("transfer: min fan-out must not be negative")
	}
	if c.ReannounceInterval <= 0 {
		return errors.New("transfer: reannounce interval must be positive")
	}
	return nil
}
