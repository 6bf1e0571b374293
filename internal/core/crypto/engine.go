// Package crypto 实现内容加密引擎
//
// 文件以 AES-256-GCM 分段密封：明文按 SegmentSize 切段，第 i 段使用
// nonce = baseIV XOR i，附加数据为 (i, 是否最后一段)。每段密文长度为
// 明文段长 + 16 字节认证标签，因此每个密文分块都能独立解密，截断、
// 重排和篡改都会导致认证失败。
//
// 本包还提供加盐 SHA3-256 内容哈希与磁力定位符编解码。
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dep2p/go-firestrike/pkg/types"
)

// 尺寸常量
const (
	// KeySize AES-256 密钥字节数
	KeySize = 32

	// IVSize GCM nonce 字节数
	IVSize = 12

	// TagSize GCM 认证标签字节数
	TagSize = 16

	// DefaultSegmentSize 默认分段明文大小（1 MiB）
	DefaultSegmentSize = 1 << 20
)

// Engine 分段加密引擎
//
// Engine 无内部可变状态，可并发使用。
type Engine struct {
	segmentSize int
}

// NewEngine 创建加密引擎
//
// segmentSize <= 0 时使用 DefaultSegmentSize。
func NewEngine(segmentSize int) *Engine {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	return &Engine{segmentSize: segmentSize}
}

// SegmentSize 返回每段明文字节数
func (e *Engine) SegmentSize() int {
	return e.segmentSize
}

// SealedSegmentSize 返回满段密文字节数
func (e *Engine) SealedSegmentSize() int {
	return e.segmentSize + TagSize
}

// SegmentCount 返回 n 字节明文的段数
func (e *Engine) SegmentCount(n int64) int {
	if n <= 0 {
		return 0
	}
	return int((n + int64(e.segmentSize) - 1) / int64(e.segmentSize))
}

// SealedSize 返回 n 字节明文加密后的总长度
func (e *Engine) SealedSize(n int64) int64 {
	return n + int64(e.SegmentCount(n))*TagSize
}

// PlainSize 返回密文对应的明文长度
func (e *Engine) PlainSize(cipherLen int64) int64 {
	full := int64(e.SealedSegmentSize())
	segments := (cipherLen + full - 1) / full
	return cipherLen - segments*TagSize
}

// EncryptFile 加密整个文件
//
// key 为 nil 时生成随机密钥；每次调用都生成新的基础 IV。
// 返回的 key 与传入的相同（或为新生成的）。
func (e *Engine) EncryptFile(plain, key []byte) (ciphertext, outKey, iv []byte, err error) {
	if len(plain) == 0 {
		return nil, nil, nil, &types.CryptoError{Op: "encrypt", Err: types.ErrEmptyContent}
	}
	if key == nil {
		if key, err = GenerateKey(); err != nil {
			return nil, nil, nil, err
		}
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, nil, &types.CryptoError{Op: "encrypt", Err: types.ErrInvalidKey, Detail: err.Error()}
	}

	iv = make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, fmt.Errorf("generate iv: %w", err)
	}

	n := e.SegmentCount(int64(len(plain)))
	ciphertext = make([]byte, 0, e.SealedSize(int64(len(plain))))
	for i := 0; i < n; i++ {
		start := i * e.segmentSize
		end := start + e.segmentSize
		if end > len(plain) {
			end = len(plain)
		}
		last := i == n-1
		ciphertext = aead.Seal(ciphertext, ChunkIV(iv, uint64(i)), plain[start:end], segmentAAD(uint64(i), last))
	}
	return ciphertext, key, iv, nil
}

// DecryptFile 解密 EncryptFile 产生的密文
//
// 密钥错误、密文被篡改、截断或重排均返回 CryptoError(ErrAuthenticationFailed)。
func (e *Engine) DecryptFile(ciphertext, key, iv []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, &types.CryptoError{Op: "decrypt", Err: types.ErrInvalidKey, Detail: "bad iv length"}
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, &types.CryptoError{Op: "decrypt", Err: types.ErrInvalidKey, Detail: err.Error()}
	}
	if len(ciphertext) == 0 {
		return nil, &types.CryptoError{Op: "decrypt", Err: types.ErrAuthenticationFailed, Detail: "empty ciphertext"}
	}

	full := e.SealedSegmentSize()
	plain := make([]byte, 0, e.PlainSize(int64(len(ciphertext))))
	for i, off := 0, 0; off < len(ciphertext); i++ {
		end := off + full
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		last := end == len(ciphertext)
		plain, err = openSegment(aead, plain, ciphertext[off:end], iv, uint64(i), last)
		if err != nil {
			return nil, err
		}
		off = end
	}
	return plain, nil
}

// DecryptSegment 独立解密单个密文分块
func (e *Engine) DecryptSegment(segment, key, iv []byte, index uint64, last bool) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, &types.CryptoError{Op: "decrypt", Err: types.ErrInvalidKey, Detail: "bad iv length"}
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, &types.CryptoError{Op: "decrypt", Err: types.ErrInvalidKey, Detail: err.Error()}
	}
	return openSegment(aead, nil, segment, iv, index, last)
}

func openSegment(aead cipher.AEAD, dst, segment, iv []byte, index uint64, last bool) ([]byte, error) {
	if len(segment) <= TagSize {
		return nil, &types.CryptoError{
			Op:     "decrypt",
			Err:    types.ErrAuthenticationFailed,
			Detail: fmt.Sprintf("segment %d too short", index),
		}
	}
	out, err := aead.Open(dst, ChunkIV(iv, index), segment, segmentAAD(index, last))
	if err != nil {
		return nil, &types.CryptoError{
			Op:     "decrypt",
			Err:    types.ErrAuthenticationFailed,
			Detail: fmt.Sprintf("segment %d", index),
		}
	}
	return out, nil
}

// ChunkIV 派生第 index 段的 IV：base 的低 8 字节与大端 index 异或
func ChunkIV(base []byte, index uint64) []byte {
	iv := make([]byte, len(base))
	copy(iv, base)
	if len(iv) < 8 {
		return iv
	}
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	tail := iv[len(iv)-8:]
	for i := range tail {
		tail[i] ^= idx[i]
	}
	return iv
}

func segmentAAD(index uint64, last bool) []byte {
	aad := make([]byte, 9)
	binary.BigEndian.PutUint64(aad, index)
	if last {
		aad[8] = 1
	}
	return aad
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// GenerateKey 生成随机 AES-256 密钥
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}
