package content

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
	"github.com/dep2p/go-firestrike/internal/core/storage/kv"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
	"github.com/dep2p/go-firestrike/pkg/types"
)

var logger = log.Logger("content")

// 持久化前缀
var (
	storePrefix      = []byte("c/")
	descriptorPrefix = []byte("d/")
	chunkPrefix      = []byte("c/")
)

// ChunkSupplier 按序号读取分块
type ChunkSupplier func(index int) ([]byte, error)

type chunkKey struct {
	hash  types.ContentHash
	index int
}

// Store 内容存储
//
// 描述与全部分块在同一批次中写入，读到描述即意味着分块齐全。
type Store struct {
	cfg   Config
	kv    *kv.Store
	cache *lru.Cache[chunkKey, []byte]

	// mu 串行化同一 Store 上的写入与删除
	mu sync.Mutex
}

// New 创建内容存储
func New(eng engine.Engine, cfg Config) (*Store, error) {
	if eng == nil {
		return nil, errors.New("content: storage engine is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{cfg: cfg, kv: kv.New(eng, storePrefix)}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[chunkKey, []byte](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("content: create cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Config 返回配置
func (s *Store) Config() Config {
	return s.cfg
}

func descriptorKey(hash types.ContentHash) []byte {
	return append(append([]byte(nil), descriptorPrefix...), hash.String()...)
}

// chunkKeyPrefix 返回某内容全部分块的键前缀
func chunkKeyPrefix(hash types.ContentHash) []byte {
	k := append(append([]byte(nil), chunkPrefix...), hash.String()...)
	return append(k, '/')
}

func chunkStoreKey(hash types.ContentHash, index int) []byte {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(index))
	return append(chunkKeyPrefix(hash), hex.EncodeToString(idx[:])...)
}

// Put 保存描述与分块
//
// 写入前逐块校验；同一内容重复写入是幂等的。
func (s *Store) Put(desc *types.ContentDescriptor, chunks [][]byte) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	if len(chunks) != len(desc.Chunks) {
		return fmt.Errorf("content: have %d chunks, descriptor lists %d", len(chunks), len(desc.Chunks))
	}
	for i, data := range chunks {
		if err := VerifyChunk(desc, i, data, ""); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.kv.NewBatch()
	for i, data := range chunks {
		batch.Put(chunkStoreKey(desc.Hash, i), data)
	}
	if err := batch.PutJSON(descriptorKey(desc.Hash), desc); err != nil {
		return fmt.Errorf("content: encode descriptor: %w", err)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("content: write %s: %w", desc.Hash.ShortString(), err)
	}

	logger.Debug("内容已保存", "hash", desc.Hash.ShortString(), "chunks", len(chunks), "size", desc.CipherSize)
	return nil
}

// Descriptor 读取内容描述，未知内容返回 ErrNotFound
func (s *Store) Descriptor(hash types.ContentHash) (*types.ContentDescriptor, error) {
	var desc types.ContentDescriptor
	if err := s.kv.GetJSON(descriptorKey(hash), &desc); err != nil {
		if engine.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, hash.ShortString())
		}
		return nil, err
	}
	return &desc, nil
}

// Has 检查内容是否存在
func (s *Store) Has(hash types.ContentHash) bool {
	ok, err := s.kv.Has(descriptorKey(hash))
	return err == nil && ok
}

// Chunk 读取单个分块
func (s *Store) Chunk(hash types.ContentHash, index int) ([]byte, error) {
	key := chunkKey{hash: hash, index: index}
	if s.cache != nil {
		if data, ok := s.cache.Get(key); ok {
			return data, nil
		}
	}
	data, err := s.kv.Get(chunkStoreKey(hash, index))
	if err != nil {
		if engine.IsNotFound(err) {
			return nil, fmt.Errorf("%w: chunk %d of %s", types.ErrNotFound, index, hash.ShortString())
		}
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(key, data)
	}
	return data, nil
}

// Load 读取描述并返回分块读取函数
func (s *Store) Load(hash types.ContentHash) (*types.ContentDescriptor, ChunkSupplier, error) {
	desc, err := s.Descriptor(hash)
	if err != nil {
		return nil, nil, err
	}
	supplier := func(index int) ([]byte, error) {
		if index < 0 || index >= len(desc.Chunks) {
			return nil, fmt.Errorf("content: chunk index %d out of range [0, %d)", index, len(desc.Chunks))
		}
		return s.Chunk(hash, index)
	}
	return desc, supplier, nil
}

// ReadAll 读取并组装本地保存的整个密文
func (s *Store) ReadAll(hash types.ContentHash) (*types.ContentDescriptor, []byte, error) {
	desc, supply, err := s.Load(hash)
	if err != nil {
		return nil, nil, err
	}
	chunks := make([][]byte, len(desc.Chunks))
	for i := range chunks {
		if chunks[i], err = supply(i); err != nil {
			return nil, nil, err
		}
	}
	ciphertext, err := Assemble(desc, chunks)
	if err != nil {
		return nil, nil, err
	}
	return desc, ciphertext, nil
}

// List 返回全部内容描述，按哈希排序
func (s *Store) List() ([]*types.ContentDescriptor, error) {
	var (
		result  []*types.ContentDescriptor
		scanErr error
	)
	err := s.kv.PrefixScan(descriptorPrefix, func(key, value []byte) bool {
		desc, err := decodeDescriptor(value)
		if err != nil {
			scanErr = fmt.Errorf("content: decode %s: %w", key, err)
			return false
		}
		result = append(result, desc)
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Hash.String() < result[j].Hash.String()
	})
	return result, nil
}

// Remove 删除描述与全部分块，未知内容返回 ErrNotFound
func (s *Store) Remove(hash types.ContentHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc, err := s.Descriptor(hash)
	if err != nil {
		return err
	}

	// 先删描述，中途失败时不会留下"描述在而分块缺"的状态
	if err := s.kv.Delete(descriptorKey(hash)); err != nil {
		return fmt.Errorf("content: remove %s: %w", hash.ShortString(), err)
	}
	if err := s.kv.DeletePrefix(chunkKeyPrefix(hash)); err != nil {
		return fmt.Errorf("content: remove chunks of %s: %w", hash.ShortString(), err)
	}
	if s.cache != nil {
		for i := range desc.Chunks {
			s.cache.Remove(chunkKey{hash: hash, index: i})
		}
	}

	logger.Info("内容已删除", "hash", hash.ShortString())
	return nil
}

func decodeDescriptor(data []byte) (*types.ContentDescriptor, error) {
	var desc types.ContentDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}
