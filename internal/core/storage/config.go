package storage

import (
	"time"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
)

// ConfigFromUnified 从统一配置创建引擎配置
func ConfigFromUnified(cfg *config.Config) *engine.Config {
	if cfg == nil {
		c := engine.DefaultConfig("")
		c.InMemory = true
		return c
	}

	c := engine.DefaultConfig(cfg.Storage.DBPath())
	if cfg.Storage.InMemory {
		c.Path = ""
		c.InMemory = true
		c.GCInterval = 0
	}
	// 分块值较大，值日志增长快，GC 间隔跟随 DHT 清理周期
	if d := cfg.DHT.CleanupInterval.Duration(); d > 0 && d < c.GCInterval {
		c.GCInterval = max(d, time.Minute)
	}
	return c
}
