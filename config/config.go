// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON 加载、从 FIRESTRIKE_* 环境变量覆盖
//
// 使用示例：
//
//	cfg, err := config.Load("firestrike.json")
//	if err != nil {
//	    return err
//	}
//	if err := config.ApplyEnv(cfg); err != nil {
//	    return err
//	}
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Config 是 Firestrike 节点的完整配置结构
//
// 配置按照功能模块组织：
//   - Identity: 节点密钥
//   - Transport: 匿名传输（Tor / 明文 TCP）
//   - DHT: 路由表与 RPC 协议参数
//   - Storage: 数据目录
//   - Content: 分块大小与热缓存
//   - Transfer: 发布/拉取并发与超时
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// DHT 分布式哈希表配置
	DHT DHTConfig `json:"dht"`

	// Storage 存储配置
	Storage StorageConfig `json:"storage"`

	// Content 内容存储配置
	Content ContentConfig `json:"content"`

	// Transfer 传输编排配置
	Transfer TransferConfig `json:"transfer"`

	// LogLevel 日志级别（debug/info/warn/error）
	LogLevel string `json:"log_level,omitempty"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:  DefaultIdentityConfig(),
		Transport: DefaultTransportConfig(),
		DHT:       DefaultDHTConfig(),
		Storage:   DefaultStorageConfig(),
		Content:   DefaultContentConfig(),
		Transfer:  DefaultTransferConfig(),
		LogLevel:  "info",
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	validators := []interface{ Validate() error }{
		&c.Identity,
		&c.Transport,
		&c.DHT,
		&c.Storage,
		&c.Content,
		&c.Transfer,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FromJSON 从 JSON 数据创建配置
//
// 未出现的字段保留默认值。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load 从 JSON 文件加载配置
//
// path 为空时返回默认配置。
func Load(path string) (*Config, error) {
	if path == "" {
		return NewConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromJSON(data)
}

// Save 以 JSON 格式写出配置
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
