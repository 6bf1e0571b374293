package types

import (
	"errors"
	"fmt"
	"log/slog"
)

// ChunkDescriptor 分块描述
//
// Index 是重组顺序键；IV 为该分块独立解密所用的派生 IV。
type ChunkDescriptor struct {
	Index  int         `json:"index"`
	Length int         `json:"length"`
	Hash   ContentHash `json:"hash"`
	IV     []byte      `json:"iv"`
}

// ContentDescriptor 内容描述
//
// 发布时创建，之后不可变。Hash 基于整个文件的密文加盐计算，
// 同时也是 Provider 记录的 DHT 键。
type ContentDescriptor struct {
	// Hash 整体密文的加盐哈希
	Hash ContentHash `json:"hash"`

	// Size 明文总字节数
	Size int64 `json:"size"`

	// CipherSize 密文总字节数（各分块长度之和）
	CipherSize int64 `json:"cipher_size"`

	// ChunkSize 每个分块对应的明文字节数（最后一块可能更短）
	ChunkSize int `json:"chunk_size"`

	// Salt 哈希盐
	Salt []byte `json:"salt"`

	// IV 基础 IV，分块 IV = IV XOR index
	IV []byte `json:"iv"`

	// Chunks 有序分块描述
	Chunks []ChunkDescriptor `json:"chunks"`
}

// ChunkCount 返回分块数
func (d *ContentDescriptor) ChunkCount() int {
	return len(d.Chunks)
}

// Validate 检查描述的结构一致性
//
// 只检查形状，内容真实性由整体哈希在组装后确认。
func (d *ContentDescriptor) Validate() error {
	if d == nil {
		return errors.New("descriptor: nil")
	}
	if d.Hash.IsEmpty() {
		return errors.New("descriptor: empty hash")
	}
	if d.ChunkSize <= 0 {
		return fmt.Errorf("descriptor: invalid chunk size %d", d.ChunkSize)
	}
	if len(d.Chunks) == 0 {
		return errors.New("descriptor: no chunks")
	}
	var total int64
	for i, c := range d.Chunks {
		if c.Index != i {
			return fmt.Errorf("descriptor: chunk %d has index %d", i, c.Index)
		}
		if c.Length <= 0 {
			return fmt.Errorf("descriptor: chunk %d has length %d", i, c.Length)
		}
		total += int64(c.Length)
	}
	if total != d.CipherSize {
		return fmt.Errorf("descriptor: chunk lengths sum to %d, want %d", total, d.CipherSize)
	}
	return nil
}

// MagnetLocator 磁力定位符
//
// 发布时构造，从不经网络传输；请求者获知文件身份与密钥的唯一途径。
// 日志中只输出内容哈希。
type MagnetLocator struct {
	Hash ContentHash
	Key  []byte
}

// String 返回隐去密钥的表示，用于日志和错误信息
func (m MagnetLocator) String() string {
	return fmt.Sprintf("firestrike://%s#<redacted>", m.Hash)
}

// LogValue 实现 slog.LogValuer，避免密钥进入日志
func (m MagnetLocator) LogValue() slog.Value {
	return slog.StringValue(m.Hash.String())
}
