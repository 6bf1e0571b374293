package identity

import (
	"crypto/ed25519"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/dep2p/go-firestrike/internal/util/fsutil"
)

const pemTypeEd25519Private = "ED25519 PRIVATE KEY"

// 错误定义
var (
	// ErrInvalidPEM 无效的 PEM 数据
	ErrInvalidPEM = errors.New("identity: invalid PEM data")

	// ErrKeyNotFound 密钥未找到
	ErrKeyNotFound = errors.New("identity: key not found")
)

// Save 保存私钥到 PEM 文件
//
// 使用原子写操作，文件权限 0600。
func (i *Identity) Save(path string) error {
	block := &pem.Block{
		Type:  pemTypeEd25519Private,
		Bytes: i.priv.Seed(),
	}
	return fsutil.AtomicWriteFile(path, pem.EncodeToMemory(block), 0600)
}

// Load 从 PEM 文件加载身份
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeEd25519Private {
		return nil, ErrInvalidPEM
	}
	if len(block.Bytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed length %d", ErrInvalidPEM, len(block.Bytes))
	}
	return New(ed25519.NewKeyFromSeed(block.Bytes))
}

// LoadOrCreate 加载身份，不存在时按需生成并保存
//
// path 为空时返回仅存在于内存中的临时身份。
func LoadOrCreate(path string, autoGenerate bool) (*Identity, error) {
	if path == "" {
		return Generate()
	}

	id, err := Load(path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrKeyNotFound) || !autoGenerate {
		return nil, fmt.Errorf("load identity %s: %w", path, err)
	}

	id, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, fmt.Errorf("save identity %s: %w", path, err)
	}
	logger.Info("已生成新身份", "node", id.NodeID().ShortString(), "path", path)
	return id, nil
}
