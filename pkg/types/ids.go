// Package types 定义 Firestrike 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/mr-tron/base58"
)

// IDLength NodeID / ContentHash 字节长度（256 位）
const IDLength = 32

// ============================================================================
//                              NodeID - 节点标识
// ============================================================================

// NodeID 节点唯一标识符
//
// 由长期公钥派生（公钥的 SHA256 哈希），首次运行时生成后不可变。
// 两个 NodeID 之间的距离为按位 XOR，解释为无符号整数。
//
// 外部表示格式：
//   - String(): Base58 编码（用户可读、可分享）
//   - ShortString(): Base58 前缀（日志简短标识）
type NodeID [IDLength]byte

// EmptyNodeID 空节点ID
var EmptyNodeID NodeID

// ErrInvalidNodeID 无效的节点ID错误
var ErrInvalidNodeID = errors.New("invalid node ID: must be 32 bytes Base58")

// String 返回 NodeID 的 Base58 字符串表示
func (id NodeID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回 NodeID 的短字符串表示
func (id NodeID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回 NodeID 的字节切片
func (id NodeID) Bytes() []byte {
	return id[:]
}

// IsEmpty 检查 NodeID 是否为空
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// NodeIDFromBytes 从字节切片创建 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != IDLength {
		return EmptyNodeID, ErrInvalidNodeID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// ParseNodeID 从 Base58 字符串解析 NodeID
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return EmptyNodeID, ErrInvalidNodeID
	}
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyNodeID, ErrInvalidNodeID
	}
	return NodeIDFromBytes(b)
}

// RandomNodeID 生成随机 NodeID
//
// 用于桶刷新时构造随机查找目标。
func RandomNodeID() NodeID {
	var id NodeID
	_, _ = rand.Read(id[:])
	return id
}

// MarshalText 实现 encoding.TextMarshaler
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (id *NodeID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = EmptyNodeID
		return nil
	}
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ============================================================================
//                              ContentHash - 内容哈希
// ============================================================================

// ContentHash 加盐内容哈希
//
// 既用作分块完整性校验，也作为 Provider 记录的 DHT 键。
// 文本形式为 64 位小写十六进制。
type ContentHash [IDLength]byte

// EmptyContentHash 空内容哈希
var EmptyContentHash ContentHash

// String 返回十六进制表示
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// ShortString 返回前 12 个十六进制字符
func (h ContentHash) ShortString() string {
	return h.String()[:12]
}

// Bytes 返回字节切片
func (h ContentHash) Bytes() []byte {
	return h[:]
}

// IsEmpty 检查是否为空
func (h ContentHash) IsEmpty() bool {
	return h == EmptyContentHash
}

// Key 返回内容哈希在 DHT 键空间中的位置
//
// 内容哈希与 NodeID 同宽，直接作为查找目标。
func (h ContentHash) Key() NodeID {
	return NodeID(h)
}

// ContentHashFromBytes 从字节切片创建 ContentHash
func ContentHashFromBytes(b []byte) (ContentHash, error) {
	if len(b) != IDLength {
		return EmptyContentHash, ErrInvalidContentHash
	}
	var h ContentHash
	copy(h[:], b)
	return h, nil
}

// ParseContentHash 从十六进制字符串解析 ContentHash
func ParseContentHash(s string) (ContentHash, error) {
	if len(s) != IDLength*2 {
		return EmptyContentHash, ErrInvalidContentHash
	}
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return EmptyContentHash, ErrInvalidContentHash
	}
	return ContentHashFromBytes(b)
}

// MarshalText 实现 encoding.TextMarshaler
func (h ContentHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (h *ContentHash) UnmarshalText(text []byte) error {
	parsed, err := ParseContentHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ============================================================================
//                              RendezvousAddr - 汇合地址
// ============================================================================

// RendezvousAddr 匿名化的汇合地址
//
// Tor 模式下形如 "xxxx.onion:8789"，明文 TCP 模式下为 "host:port"。
// DHT 层只把它当作不透明字符串，从不解析真实网络地址。
type RendezvousAddr string

// String 返回字符串形式
func (a RendezvousAddr) String() string {
	return string(a)
}

// IsEmpty 检查是否为空
func (a RendezvousAddr) IsEmpty() bool {
	return a == ""
}
