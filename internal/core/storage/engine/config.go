package engine

import (
	"fmt"
	"os"
	"time"
)

// Config 存储引擎配置
//
// 测试代码应使用 t.TempDir() 或 InMemory。
type Config struct {
	// Path 数据目录路径（InMemory 为 false 时必需）
	Path string

	// InMemory 仅使用内存
	InMemory bool

	// SyncWrites 是否同步写入
	SyncWrites bool

	// GCInterval 值日志 GC 间隔，0 表示禁用
	GCInterval time.Duration

	// GCDiscardRatio 值日志 GC 丢弃比例
	GCDiscardRatio float64

	// MemTableSize 内存表大小（字节）
	MemTableSize int64

	// ValueLogFileSize 值日志文件大小（字节）
	ValueLogFileSize int64
}

// DefaultConfig 返回默认配置
//
// 分块值较大，值日志文件与内存表取中等尺寸。
func DefaultConfig(path string) *Config {
	return &Config{
		Path:             path,
		SyncWrites:       false,
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
		MemTableSize:     32 << 20,
		ValueLogFileSize: 256 << 20,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if c.GCDiscardRatio < 0 || c.GCDiscardRatio >= 1 {
		return fmt.Errorf("%w: gc discard ratio must be in [0, 1)", ErrInvalidConfig)
	}
	if c.MemTableSize <= 0 || c.ValueLogFileSize <= 0 {
		return fmt.Errorf("%w: table sizes must be positive", ErrInvalidConfig)
	}
	return nil
}

// EnsureDir 确保数据目录存在
func (c *Config) EnsureDir() error {
	if c.InMemory {
		return nil
	}
	return os.MkdirAll(c.Path, 0700)
}
