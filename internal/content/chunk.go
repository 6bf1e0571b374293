package content

import (
	"fmt"

	"github.com/dep2p/go-firestrike/internal/core/crypto"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// NewDescriptor 切分整文件密文并生成内容描述
//
// chunkSize 为明文分块大小，密文按 chunkSize+TagSize 切分，与加密
// 引擎的分段一一对应；最后一块可能更短。返回的分块与 ciphertext
// 共享底层数组。
func NewDescriptor(plainSize int64, chunkSize int, ciphertext, salt, iv []byte) (*types.ContentDescriptor, [][]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil, types.ErrEmptyContent
	}
	if chunkSize <= 0 {
		return nil, nil, fmt.Errorf("content: invalid chunk size %d", chunkSize)
	}

	descs, chunks := Split(ciphertext, chunkSize+crypto.TagSize, salt, iv)
	desc := &types.ContentDescriptor{
		Hash:       crypto.HashContent(ciphertext, salt),
		Size:       plainSize,
		CipherSize: int64(len(ciphertext)),
		ChunkSize:  chunkSize,
		Salt:       append([]byte(nil), salt...),
		IV:         append([]byte(nil), iv...),
		Chunks:     descs,
	}
	return desc, chunks, nil
}

// Split 按 sealedSize 切分密文，计算每块哈希与派生 IV
func Split(ciphertext []byte, sealedSize int, salt, baseIV []byte) ([]types.ChunkDescriptor, [][]byte) {
	n := (len(ciphertext) + sealedSize - 1) / sealedSize
	descs := make([]types.ChunkDescriptor, 0, n)
	chunks := make([][]byte, 0, n)

	for i := 0; i < n; i++ {
		start := i * sealedSize
		end := start + sealedSize
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		data := ciphertext[start:end:end]
		descs = append(descs, types.ChunkDescriptor{
			Index:  i,
			Length: len(data),
			Hash:   crypto.HashContent(data, salt),
			IV:     crypto.ChunkIV(baseIV, uint64(i)),
		})
		chunks = append(chunks, data)
	}
	return descs, chunks
}

// VerifyChunk 校验单个分块的长度与哈希
//
// provider 仅用于错误诊断，可为空。
func VerifyChunk(desc *types.ContentDescriptor, index int, data []byte, provider types.RendezvousAddr) error {
	if index < 0 || index >= len(desc.Chunks) {
		return fmt.Errorf("content: chunk index %d out of range [0, %d)", index, len(desc.Chunks))
	}
	cd := desc.Chunks[index]
	actual, ok := crypto.VerifyContent(data, desc.Salt, cd.Hash)
	if !ok || len(data) != cd.Length {
		return &types.IntegrityError{
			ContentHash: desc.Hash,
			Index:       index,
			Provider:    provider,
			Expected:    cd.Hash,
			Actual:      actual,
		}
	}
	return nil
}

// Assemble 按序号校验并拼接分块
//
// 所有分块校验通过后才拼接；拼接结果再与描述的整体哈希比对，
// 不一致时返回 Index 为 -1 的 IntegrityError。
func Assemble(desc *types.ContentDescriptor, chunks [][]byte) ([]byte, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if len(chunks) != len(desc.Chunks) {
		return nil, fmt.Errorf("content: have %d chunks, descriptor lists %d", len(chunks), len(desc.Chunks))
	}

	for i, data := range chunks {
		if err := VerifyChunk(desc, i, data, ""); err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, desc.CipherSize)
	for _, data := range chunks {
		out = append(out, data...)
	}

	if actual, ok := crypto.VerifyContent(out, desc.Salt, desc.Hash); !ok {
		return nil, &types.IntegrityError{
			ContentHash: desc.Hash,
			Index:       -1,
			Expected:    desc.Hash,
			Actual:      actual,
		}
	}
	return out, nil
}
