package config

// IdentityConfig 身份配置
//
// 节点使用 Ed25519 长期密钥，NodeID 为公钥的 SHA-256。
type IdentityConfig struct {
	// KeyFile 密钥文件路径（PEM）
	// 为空时使用 ${DataDir}/identity.key
	KeyFile string `json:"key_file"`

	// AutoGenerate 当密钥文件不存在时是否自动生成
	AutoGenerate bool `json:"auto_generate"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		KeyFile:      "",
		AutoGenerate: true,
	}
}

// Validate 验证身份配置
func (c *IdentityConfig) Validate() error {
	return nil
}
