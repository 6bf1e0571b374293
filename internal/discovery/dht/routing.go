package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-firestrike/pkg/types"
)

// ============================================================================
//                              K 桶
// ============================================================================

// KBucket K 桶
//
// 不自带锁，由 RoutingTable 统一加锁。
type KBucket struct {
	// 节点列表（最近活跃的在前）
	nodes []*types.PeerRecord

	// 替换缓存（当桶满时存储候选节点）
	replacementCache []*types.PeerRecord

	// 最后刷新时间
	lastRefresh time.Time
}

func newKBucket(now time.Time) *KBucket {
	return &KBucket{lastRefresh: now}
}

// find 返回节点在桶中的下标，不存在返回 -1
func (b *KBucket) find(id types.NodeID) int {
	for i, n := range b.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// moveToFront 将下标 i 的节点移到前端
func (b *KBucket) moveToFront(i int) {
	n := b.nodes[i]
	copy(b.nodes[1:i+1], b.nodes[:i])
	b.nodes[0] = n
}

// pushFront 在前端插入节点
func (b *KBucket) pushFront(n *types.PeerRecord) {
	b.nodes = append(b.nodes, nil)
	copy(b.nodes[1:], b.nodes)
	b.nodes[0] = n
}

// addToReplacementCache 添加到替换缓存
func (b *KBucket) addToReplacementCache(n *types.PeerRecord, limit int) {
	for i, existing := range b.replacementCache {
		if existing.ID == n.ID {
			b.replacementCache = append(b.replacementCache[:i], b.replacementCache[i+1:]...)
			break
		}
	}
	b.replacementCache = append([]*types.PeerRecord{n}, b.replacementCache...)
	if len(b.replacementCache) > limit {
		b.replacementCache = b.replacementCache[:limit]
	}
}

// remove 移除节点，并从替换缓存提升一个候选
func (b *KBucket) remove(id types.NodeID) bool {
	if i := b.find(id); i >= 0 {
		b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
		if len(b.replacementCache) > 0 {
			b.nodes = append(b.nodes, b.replacementCache[0])
			b.replacementCache = b.replacementCache[1:]
		}
		return true
	}
	for i, n := range b.replacementCache {
		if n.ID == id {
			b.replacementCache = append(b.replacementCache[:i], b.replacementCache[i+1:]...)
			return true
		}
	}
	return false
}

// ============================================================================
//                              路由表
// ============================================================================

// RoutingTable Kademlia 路由表
//
// 桶按与本地 ID 的共同前缀长度划分。初始只有一个桶覆盖整个空间；
// 覆盖本地 ID 的最后一个桶满时分裂，其余桶满时新节点进入替换缓存。
//
// 写操作串行执行，读操作返回副本。
type RoutingTable struct {
	local     types.NodeID
	k         int
	threshold int
	clk       clock.Clock

	buckets []*KBucket

	mu sync.RWMutex
}

// NewRoutingTable 创建路由表
func NewRoutingTable(local types.NodeID, k, failureThreshold int, clk clock.Clock) *RoutingTable {
	if clk == nil {
		clk = clock.New()
	}
	return &RoutingTable{
		local:     local,
		k:         k,
		threshold: failureThreshold,
		clk:       clk,
		buckets:   []*KBucket{newKBucket(clk.Now())},
	}
}

// LocalID 返回本地节点 ID
func (rt *RoutingTable) LocalID() types.NodeID {
	return rt.local
}

// bucketIndexLocked 返回 id 所属桶的下标
func (rt *RoutingTable) bucketIndexLocked(id types.NodeID) int {
	cpl := CommonPrefixLen(rt.local, id)
	if last := len(rt.buckets) - 1; cpl > last {
		return last
	}
	return cpl
}

// Add 插入或刷新节点
//
// 已存在的节点更新地址、LastSeen、RTT 并清零失败计数，移到桶前端。
// 桶满且不覆盖本地 ID 时新节点进入替换缓存，返回 false。
func (rt *RoutingTable) Add(rec types.PeerRecord) bool {
	if rec.ID.IsEmpty() || rec.ID == rt.local || rec.Addr.IsEmpty() {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := rt.clk.Now()
	if rec.LastSeen.IsZero() {
		rec.LastSeen = now
	}

	for {
		idx := rt.bucketIndexLocked(rec.ID)
		b := rt.buckets[idx]

		if i := b.find(rec.ID); i >= 0 {
			n := b.nodes[i]
			n.Addr = rec.Addr
			if rec.LastSeen.After(n.LastSeen) {
				n.LastSeen = rec.LastSeen
			}
			if rec.RTT > 0 {
				n.RTT = rec.RTT
			}
			n.FailCount = rec.FailCount
			b.moveToFront(i)
			b.lastRefresh = now
			return true
		}

		if len(b.nodes) < rt.k {
			b.pushFront(rec.Clone())
			b.lastRefresh = now
			return true
		}

		if idx == len(rt.buckets)-1 && len(rt.buckets) < IDBits {
			rt.splitLastLocked()
			continue
		}

		b.addToReplacementCache(rec.Clone(), rt.k)
		return false
	}
}

// splitLastLocked 分裂最后一个桶
func (rt *RoutingTable) splitLastLocked() {
	last := rt.buckets[len(rt.buckets)-1]
	newIdx := len(rt.buckets)
	nb := newKBucket(last.lastRefresh)

	keep := last.nodes[:0]
	for _, n := range last.nodes {
		if CommonPrefixLen(rt.local, n.ID) >= newIdx {
			nb.nodes = append(nb.nodes, n)
		} else {
			keep = append(keep, n)
		}
	}
	last.nodes = keep

	keepRepl := last.replacementCache[:0]
	for _, n := range last.replacementCache {
		if CommonPrefixLen(rt.local, n.ID) >= newIdx {
			nb.replacementCache = append(nb.replacementCache, n)
		} else {
			keepRepl = append(keepRepl, n)
		}
	}
	last.replacementCache = keepRepl

	rt.buckets = append(rt.buckets, nb)
}

// RecordSeen 记录一次成功通信
func (rt *RoutingTable) RecordSeen(id types.NodeID, addr types.RendezvousAddr, rtt time.Duration) bool {
	return rt.Add(types.PeerRecord{
		ID:       id,
		Addr:     addr,
		LastSeen: rt.clk.Now(),
		RTT:      rtt,
	})
}

// MarkUnresponsive 记录一次失败
//
// 连续失败达到阈值时驱逐节点，返回是否已驱逐。
func (rt *RoutingTable) MarkUnresponsive(id types.NodeID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b := rt.buckets[rt.bucketIndexLocked(id)]
	i := b.find(id)
	if i < 0 {
		return false
	}
	n := b.nodes[i]
	n.FailCount++
	if n.FailCount < rt.threshold {
		return false
	}
	b.remove(id)
	logger.Debug("驱逐无响应节点", "peer", id.ShortString(), "failures", n.FailCount)
	return true
}

// Remove 移除节点
func (rt *RoutingTable) Remove(id types.NodeID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.buckets[rt.bucketIndexLocked(id)].remove(id)
}

// Find 查找节点
func (rt *RoutingTable) Find(id types.NodeID) (types.PeerRecord, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	b := rt.buckets[rt.bucketIndexLocked(id)]
	if i := b.find(id); i >= 0 {
		return *b.nodes[i], true
	}
	return types.PeerRecord{}, false
}

// NearestPeers 返回距离 target 最近的 count 个节点，按距离升序
func (rt *RoutingTable) NearestPeers(target types.NodeID, count int) []types.PeerRecord {
	peers := rt.AllPeers()
	sort.Slice(peers, func(i, j int) bool {
		return CompareDistance(peers[i].ID, peers[j].ID, target) < 0
	})
	if count >= 0 && len(peers) > count {
		peers = peers[:count]
	}
	return peers
}

// ListPeers 返回所有节点，按与本地 ID 的距离升序
func (rt *RoutingTable) ListPeers() []types.PeerRecord {
	return rt.NearestPeers(rt.local, -1)
}

// AllPeers 返回所有节点副本（无序）
func (rt *RoutingTable) AllPeers() []types.PeerRecord {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var peers []types.PeerRecord
	for _, b := range rt.buckets {
		for _, n := range b.nodes {
			peers = append(peers, *n)
		}
	}
	return peers
}

// Size 返回节点总数
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	n := 0
	for _, b := range rt.buckets {
		n += len(b.nodes)
	}
	return n
}

// NumBuckets 返回当前桶数
func (rt *RoutingTable) NumBuckets() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.buckets)
}

// BucketSizes 返回每个桶的节点数
func (rt *RoutingTable) BucketSizes() []int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	sizes := make([]int, len(rt.buckets))
	for i, b := range rt.buckets {
		sizes[i] = len(b.nodes)
	}
	return sizes
}

// BucketsNeedingRefresh 返回超过 interval 未刷新的桶下标
func (rt *RoutingTable) BucketsNeedingRefresh(interval time.Duration) []int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	now := rt.clk.Now()
	var result []int
	for i, b := range rt.buckets {
		if now.Sub(b.lastRefresh) >= interval {
			result = append(result, i)
		}
	}
	return result
}

// MarkRefreshed 标记桶已刷新
func (rt *RoutingTable) MarkRefreshed(idx int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if idx >= 0 && idx < len(rt.buckets) {
		rt.buckets[idx].lastRefresh = rt.clk.Now()
	}
}

// RemoveExpiredNodes 移除超过 expiry 未联系的节点，返回移除数量
func (rt *RoutingTable) RemoveExpiredNodes(expiry time.Duration) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	cutoff := rt.clk.Now().Add(-expiry)
	removed := 0
	for _, b := range rt.buckets {
		var stale []types.NodeID
		for _, n := range b.nodes {
			if n.LastSeen.Before(cutoff) {
				stale = append(stale, n.ID)
			}
		}
		for _, id := range stale {
			b.remove(id)
			removed++
		}
	}
	return removed
}
