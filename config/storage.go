package config

import (
	"fmt"
	"path/filepath"
)

// StorageConfig 存储配置
//
// 所有组件统一使用 BadgerDB 持久化存储，通过 Key 前缀隔离数据。
//
// 数据目录结构：
//
//	${DataDir}/
//	├── firestrike.db/   # BadgerDB（路由表快照、DHT 记录、内容描述与分块）
//	├── identity.key     # 节点密钥（PEM）
//	└── onion.key        # Tor onion 服务私钥（仅 Tor 模式）
type StorageConfig struct {
	// DataDir 数据目录路径
	DataDir string `json:"data_dir"`

	// InMemory 仅使用内存（测试用，重启后数据丢失）
	InMemory bool `json:"in_memory,omitempty"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir: "./data",
	}
}

// Validate 验证存储配置的有效性
func (c *StorageConfig) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return fmt.Errorf("storage: data_dir cannot be empty")
	}
	return nil
}

// DBPath 返回 BadgerDB 数据库路径
func (c *StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "firestrike.db")
}

// IdentityPath 返回默认密钥文件路径
func (c *StorageConfig) IdentityPath() string {
	return filepath.Join(c.DataDir, "identity.key")
}

// OnionKeyPath 返回 onion 私钥文件路径
func (c *StorageConfig) OnionKeyPath() string {
	return filepath.Join(c.DataDir, "onion.key")
}
