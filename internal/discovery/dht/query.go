package dht

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-firestrike/pkg/types"
)

// ============================================================================
//                           迭代查询
// ============================================================================

// candidate 状态
type candidateState int

const (
	stateNew candidateState = iota
	stateQuerying
	stateResponded
	stateFailed
)

type candidate struct {
	rec   types.PeerRecord
	state candidateState
	// holder 该节点返回了目标记录
	holder bool
}

// iterativeQuery 迭代查询
//
// Kademlia 迭代查找：
//  1. 从路由表取 K 个最近节点作为候选
//  2. 每轮并发查询最近的 Alpha 个未查询候选
//  3. 合并响应中的更近节点
//  4. 值查找命中即停止；一轮没有更近节点时，对剩余的 K 个最近未查询候选做最后一轮后停止
//  5. 达到 MaxRounds 或超时后停止
//
// 每次查询独立，状态不与其他查询共享；只读访问路由表，对成功响应的节点写入路由表。
type iterativeQuery struct {
	dht       *DHT
	target    types.NodeID
	queryType MessageType // FIND_NODE / FIND_VALUE

	mu         sync.Mutex
	candidates []*candidate // 按距离排序
	seen       map[types.NodeID]*candidate

	// FIND_VALUE 结果
	found     bool
	value     []byte
	valueTTL  time.Duration
	providers map[types.NodeID]ProviderInfo

	rounds int
}

// newIterativeQuery 创建迭代查询
func newIterativeQuery(dht *DHT, target types.NodeID, queryType MessageType) *iterativeQuery {
	return &iterativeQuery{
		dht:       dht,
		target:    target,
		queryType: queryType,
		seen:      make(map[types.NodeID]*candidate),
		providers: make(map[types.NodeID]ProviderInfo),
	}
}

// Run 执行迭代查询
//
// 超时或取消时返回已得到的部分结果与 ctx 错误。
func (q *iterativeQuery) Run(ctx context.Context) error {
	d := q.dht
	ctx, cancel := context.WithTimeout(ctx, d.config.LookupTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		d.metrics.ObserveLookup(q.queryType.String(), time.Since(start), q.found)
		logger.Debug("DHT 迭代查询完成",
			"type", q.queryType,
			"target", q.target.ShortString(),
			"rounds", q.rounds,
			"found", q.found,
			"duration", time.Since(start))
	}()

	for _, p := range d.routingTable.NearestPeers(q.target, d.config.BucketSize) {
		q.addCandidate(p)
	}
	if len(q.candidates) == 0 {
		return ErrNoNodes
	}

	final := false
	for q.rounds < d.config.MaxRounds {
		limit := d.config.Alpha
		if final {
			limit = d.config.BucketSize
		}
		batch := q.nextBatch(limit)
		if len(batch) == 0 {
			break
		}
		q.rounds++

		before := q.bestDistance()
		q.queryBatch(ctx, batch)

		if err := ctx.Err(); err != nil {
			return err
		}
		if q.queryType == MessageTypeFindValue && q.found {
			return nil
		}
		if final {
			break
		}
		if !closer(q.bestDistance(), before) {
			final = true
		}
	}
	return nil
}

// queryBatch 并发查询一批候选，等待全部返回
func (q *iterativeQuery) queryBatch(ctx context.Context, batch []*candidate) {
	var g errgroup.Group
	g.SetLimit(q.dht.config.Alpha)
	for _, c := range batch {
		c := c
		g.Go(func() error {
			q.queryNode(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
}

// queryNode 查询单个节点
func (q *iterativeQuery) queryNode(ctx context.Context, c *candidate) {
	d := q.dht

	var req *Message
	if q.queryType == MessageTypeFindValue {
		req = NewFindValueRequest(d.self, q.target)
	} else {
		req = NewFindNodeRequest(d.self, q.target)
	}

	resp, rtt, err := d.network.SendMessage(ctx, c.rec.Addr, req)
	if err == nil && resp.Sender.ID != c.rec.ID {
		err = errors.New("responder identity mismatch")
	}
	if err != nil {
		q.mu.Lock()
		c.state = stateFailed
		q.mu.Unlock()
		if types.IsTransient(err) && ctx.Err() == nil {
			d.routingTable.MarkUnresponsive(c.rec.ID)
		}
		logger.Debug("查询节点失败", "peer", c.rec.ID.ShortString(), "type", req.Type, "error", err)
		return
	}

	d.routingTable.RecordSeen(c.rec.ID, c.rec.Addr, rtt)
	q.processResponse(c, resp)
}

// processResponse 合并响应
func (q *iterativeQuery) processResponse(c *candidate, resp *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	c.state = stateResponded
	for _, p := range resp.CloserPeers {
		q.addCandidateLocked(p)
	}

	if q.queryType != MessageTypeFindValue || !resp.Found {
		return
	}
	c.holder = true
	q.found = true

	// 多个持有者返回不同值时取剩余存活时间最长者
	if len(resp.Value) > 0 && resp.TTL >= q.valueTTL {
		q.value = resp.Value
		q.valueTTL = resp.TTL
	}
	for _, p := range resp.Providers {
		if old, ok := q.providers[p.ID]; !ok || p.TTL > old.TTL {
			q.providers[p.ID] = p
		}
	}
}

// addCandidate 添加候选节点
func (q *iterativeQuery) addCandidate(p types.PeerRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.addCandidateLocked(p)
}

func (q *iterativeQuery) addCandidateLocked(p types.PeerRecord) {
	if p.ID.IsEmpty() || p.ID == q.dht.self.ID || p.Addr.IsEmpty() {
		return
	}
	if _, ok := q.seen[p.ID]; ok {
		return
	}
	c := &candidate{rec: types.PeerRecord{ID: p.ID, Addr: p.Addr}}
	q.seen[p.ID] = c

	i := sort.Search(len(q.candidates), func(i int) bool {
		return CompareDistance(q.candidates[i].rec.ID, p.ID, q.target) > 0
	})
	q.candidates = append(q.candidates, nil)
	copy(q.candidates[i+1:], q.candidates[i:])
	q.candidates[i] = c

	// 候选列表上限，防止恶意响应撑爆内存
	if limit := q.dht.config.BucketSize * 8; len(q.candidates) > limit {
		for _, dropped := range q.candidates[limit:] {
			if dropped.state == stateNew {
				delete(q.seen, dropped.rec.ID)
			}
		}
		q.candidates = q.candidates[:limit]
	}
}

// nextBatch 取 K 个最近的存活候选中未查询的前 limit 个
func (q *iterativeQuery) nextBatch(limit int) []*candidate {
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch []*candidate
	alive := 0
	for _, c := range q.candidates {
		if c.state == stateFailed {
			continue
		}
		alive++
		if alive > q.dht.config.BucketSize {
			break
		}
		if c.state == stateNew {
			c.state = stateQuerying
			batch = append(batch, c)
			if len(batch) == limit {
				break
			}
		}
	}
	return batch
}

// bestDistance 返回最近存活候选到目标的距离
func (q *iterativeQuery) bestDistance() *types.NodeID {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range q.candidates {
		if c.state != stateFailed {
			d := XORDistance(c.rec.ID, q.target)
			return &d
		}
	}
	return nil
}

// closer 判断距离 a 是否严格小于 b（nil 表示无穷远）
func closer(a, b *types.NodeID) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return CompareDistance(*a, *b, types.EmptyNodeID) < 0
}

// Closest 返回已响应的最近 K 个节点
func (q *iterativeQuery) Closest() []types.PeerRecord {
	return q.closestWhere(func(c *candidate) bool { return true })
}

// ClosestNonHolders 返回已响应但不持有记录的最近 count 个节点
func (q *iterativeQuery) ClosestNonHolders(count int) []types.PeerRecord {
	peers := q.closestWhere(func(c *candidate) bool { return !c.holder })
	if len(peers) > count {
		peers = peers[:count]
	}
	return peers
}

func (q *iterativeQuery) closestWhere(pred func(*candidate) bool) []types.PeerRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result []types.PeerRecord
	for _, c := range q.candidates {
		if c.state != stateResponded || !pred(c) {
			continue
		}
		result = append(result, c.rec)
		if len(result) == q.dht.config.BucketSize {
			break
		}
	}
	return result
}

// Value 返回找到的值及其剩余存活时间
func (q *iterativeQuery) Value() ([]byte, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.value, q.valueTTL, len(q.value) > 0
}

// Providers 返回找到的 Provider
func (q *iterativeQuery) Providers() []ProviderInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]ProviderInfo, 0, len(q.providers))
	for _, p := range q.providers {
		result = append(result, p)
	}
	return result
}
