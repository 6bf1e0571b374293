package dht

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-firestrike/internal/core/storage/kv"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// ValueRecord 值记录
type ValueRecord struct {
	// Value 值
	Value []byte `json:"value"`

	// Publisher 最后写入者
	Publisher types.NodeID `json:"publisher"`

	// ExpiresAt 过期时间
	ExpiresAt time.Time `json:"expires_at"`
}

// HeldRecord 本节点持有的记录，用于重新发布
type HeldRecord struct {
	Key       types.NodeID
	Kind      RecordKind
	Value     []byte
	TTL       time.Duration
	Providers []ProviderInfo
}

// RecordStore DHT 记录存储
//
// 内存索引 + BadgerDB 持久化（前缀 d/v/）。store 为 nil 时仅在内存中保存。
//
// 冲突规则：
//   - 普通值：后写者胜，过期时间取新旧两者中较晚者
//   - Provider：按提供者 ID 合并，同一提供者的条目同样后写者胜并延长过期时间
//
// 读取时过期记录视为不存在，由 Cleanup 实际删除。
type RecordStore struct {
	store *kv.Store
	clk   clock.Clock

	values    map[types.NodeID]*ValueRecord
	providers map[types.NodeID]map[types.NodeID]*types.ProviderRecord

	mu sync.RWMutex
}

// NewRecordStore 创建记录存储，并加载未过期的持久化记录
func NewRecordStore(store *kv.Store, clk clock.Clock) (*RecordStore, error) {
	if clk == nil {
		clk = clock.New()
	}
	rs := &RecordStore{
		store:     store,
		clk:       clk,
		values:    make(map[types.NodeID]*ValueRecord),
		providers: make(map[types.NodeID]map[types.NodeID]*types.ProviderRecord),
	}
	if store != nil {
		if err := rs.loadFromStore(); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

func valueKey(key types.NodeID) []byte {
	return []byte("v/" + hex.EncodeToString(key[:]))
}

func providerKey(key, provider types.NodeID) []byte {
	return []byte("p/" + hex.EncodeToString(key[:]) + "/" + hex.EncodeToString(provider[:]))
}

func parseHexID(s string) (types.NodeID, bool) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return types.EmptyNodeID, false
	}
	id, err := types.NodeIDFromBytes(raw)
	return id, err == nil
}

// loadFromStore 从存储加载记录
func (rs *RecordStore) loadFromStore() error {
	now := rs.clk.Now()
	var stale [][]byte

	err := rs.store.PrefixScan(nil, func(k, v []byte) bool {
		parts := strings.Split(string(k), "/")
		switch {
		case len(parts) == 2 && parts[0] == "v":
			key, ok := parseHexID(parts[1])
			var rec ValueRecord
			if !ok || json.Unmarshal(v, &rec) != nil {
				return true
			}
			if !rec.ExpiresAt.After(now) {
				stale = append(stale, append([]byte(nil), k...))
				return true
			}
			rs.values[key] = &rec
		case len(parts) == 3 && parts[0] == "p":
			key, ok := parseHexID(parts[1])
			var rec types.ProviderRecord
			if !ok || json.Unmarshal(v, &rec) != nil {
				return true
			}
			if !rec.ExpiresAt.After(now) {
				stale = append(stale, append([]byte(nil), k...))
				return true
			}
			rs.providerSetLocked(key)[rec.ID] = &rec
		}
		return true
	})
	if err != nil {
		return err
	}

	for _, k := range stale {
		_ = rs.store.Delete(k)
	}
	return nil
}

func (rs *RecordStore) providerSetLocked(key types.NodeID) map[types.NodeID]*types.ProviderRecord {
	set, ok := rs.providers[key]
	if !ok {
		set = make(map[types.NodeID]*types.ProviderRecord)
		rs.providers[key] = set
	}
	return set
}

// PutValue 存储值
func (rs *RecordStore) PutValue(key types.NodeID, value []byte, publisher types.NodeID, ttl time.Duration) error {
	if len(value) == 0 || ttl <= 0 {
		return ErrInvalidValue
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	expiresAt := rs.clk.Now().Add(ttl)
	rec := &ValueRecord{
		Value:     append([]byte(nil), value...),
		Publisher: publisher,
		ExpiresAt: expiresAt,
	}
	if old, ok := rs.values[key]; ok && old.ExpiresAt.After(expiresAt) {
		rec.ExpiresAt = old.ExpiresAt
	}

	if rs.store != nil {
		if err := rs.store.PutJSON(valueKey(key), rec); err != nil {
			return err
		}
	}
	rs.values[key] = rec
	return nil
}

// GetValue 获取值及剩余存活时间
func (rs *RecordStore) GetValue(key types.NodeID) ([]byte, time.Duration, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	rec, ok := rs.values[key]
	if !ok {
		return nil, 0, false
	}
	remaining := rec.ExpiresAt.Sub(rs.clk.Now())
	if remaining <= 0 {
		return nil, 0, false
	}
	return append([]byte(nil), rec.Value...), remaining, true
}

// AddProvider 添加 Provider
func (rs *RecordStore) AddProvider(key types.NodeID, id types.NodeID, addr types.RendezvousAddr, ttl time.Duration) error {
	return rs.AddProviders(key, []ProviderInfo{{ID: id, Addr: addr, TTL: ttl}})
}

// AddProviders 批量添加同一 key 的 Provider
//
// 全部条目在一个批次内持久化，写入成功后才更新内存索引；
// 任一条目无效或写入失败时不留下任何条目。
func (rs *RecordStore) AddProviders(key types.NodeID, infos []ProviderInfo) error {
	if len(infos) == 0 {
		return ErrInvalidValue
	}
	for _, p := range infos {
		if p.ID.IsEmpty() || p.Addr.IsEmpty() || p.TTL <= 0 {
			return ErrInvalidValue
		}
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := rs.clk.Now()
	existing := rs.providers[key]
	recs := make([]*types.ProviderRecord, 0, len(infos))
	for _, p := range infos {
		expiresAt := now.Add(p.TTL)
		if old, ok := existing[p.ID]; ok && old.ExpiresAt.After(expiresAt) {
			expiresAt = old.ExpiresAt
		}
		recs = append(recs, &types.ProviderRecord{ID: p.ID, Addr: p.Addr, ExpiresAt: expiresAt})
	}

	if rs.store != nil {
		batch := rs.store.NewBatch()
		for _, rec := range recs {
			if err := batch.PutJSON(providerKey(key, rec.ID), rec); err != nil {
				return err
			}
		}
		if err := batch.Write(); err != nil {
			return err
		}
	}

	set := rs.providerSetLocked(key)
	for _, rec := range recs {
		set[rec.ID] = rec
	}
	return nil
}

// GetProviders 返回未过期的 Provider
func (rs *RecordStore) GetProviders(key types.NodeID) []types.ProviderRecord {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	now := rs.clk.Now()
	var result []types.ProviderRecord
	for _, p := range rs.providers[key] {
		if p.ExpiresAt.After(now) {
			result = append(result, *p)
		}
	}
	return result
}

// RemoveProvider 删除某个 Provider 条目
func (rs *RecordStore) RemoveProvider(key, id types.NodeID) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	set, ok := rs.providers[key]
	if !ok {
		return nil
	}
	delete(set, id)
	if len(set) == 0 {
		delete(rs.providers, key)
	}
	if rs.store != nil {
		return rs.store.Delete(providerKey(key, id))
	}
	return nil
}

// Cleanup 删除过期记录，返回删除数量
func (rs *RecordStore) Cleanup() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := rs.clk.Now()
	var stale [][]byte

	for key, rec := range rs.values {
		if !rec.ExpiresAt.After(now) {
			delete(rs.values, key)
			stale = append(stale, valueKey(key))
		}
	}
	for key, set := range rs.providers {
		for id, p := range set {
			if !p.ExpiresAt.After(now) {
				delete(set, id)
				stale = append(stale, providerKey(key, id))
			}
		}
		if len(set) == 0 {
			delete(rs.providers, key)
		}
	}

	if rs.store != nil {
		for _, k := range stale {
			if err := rs.store.Delete(k); err != nil {
				logger.Debug("删除过期记录失败", "error", err)
			}
		}
	}
	return len(stale)
}

// Len 返回记录条数（每个 Provider 条目计一条）
func (rs *RecordStore) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	n := len(rs.values)
	for _, set := range rs.providers {
		n += len(set)
	}
	return n
}

// Held 返回所有未过期记录及其剩余存活时间
func (rs *RecordStore) Held() []HeldRecord {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	now := rs.clk.Now()
	var result []HeldRecord
	for key, rec := range rs.values {
		if ttl := rec.ExpiresAt.Sub(now); ttl > 0 {
			result = append(result, HeldRecord{
				Key:   key,
				Kind:  RecordValue,
				Value: append([]byte(nil), rec.Value...),
				TTL:   ttl,
			})
		}
	}
	for key, set := range rs.providers {
		var infos []ProviderInfo
		for _, p := range set {
			if ttl := p.ExpiresAt.Sub(now); ttl > 0 {
				infos = append(infos, ProviderInfo{ID: p.ID, Addr: p.Addr, TTL: ttl})
			}
		}
		if len(infos) > 0 {
			result = append(result, HeldRecord{Key: key, Kind: RecordProvider, Providers: infos})
		}
	}
	return result
}
