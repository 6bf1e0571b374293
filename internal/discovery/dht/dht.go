package dht

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-firestrike/internal/core/metrics"
	"github.com/dep2p/go-firestrike/internal/core/muxer"
	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
	"github.com/dep2p/go-firestrike/internal/core/storage/kv"
	"github.com/dep2p/go-firestrike/pkg/interfaces"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
	"github.com/dep2p/go-firestrike/pkg/types"
)

var logger = log.Logger("discovery/dht")

// 持久化前缀
var (
	routingPrefix = []byte("d/r/")
	recordPrefix  = []byte("d/v/")
)

// bootstrapRetries 每个引导节点的重试次数
const bootstrapRetries = 3

// DHT Kademlia DHT 实现
type DHT struct {
	// config 配置
	config *Config

	// self 本节点记录（ID + 汇合地址）
	self types.PeerRecord

	// tr 传输适配器
	tr interfaces.Transport

	// pool 会话池
	pool *muxer.Pool

	// routingTable 路由表
	routingTable *RoutingTable

	// routingStore 路由表快照存储，可为 nil
	routingStore *kv.Store

	// records 记录存储
	records *RecordStore

	// network RPC 客户端
	network *network

	// handler 协议处理器
	handler *Handler

	// metrics 指标，可为 nil
	metrics *metrics.Metrics

	clock clock.Clock

	// 生命周期
	ctx       context.Context
	ctxCancel context.CancelFunc
	started   atomic.Bool
	stopped   atomic.Bool
	listener  net.Listener
	wg        sync.WaitGroup
}

// New 创建 DHT 实例
//
// eng 为 nil 时路由表与记录只保存在内存中。
func New(cfg *Config, self types.NodeID, tr interfaces.Transport, pool *muxer.Pool, eng engine.Engine, m *metrics.Metrics) (*DHT, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if tr == nil || pool == nil {
		return nil, fmt.Errorf("%w: transport and pool are required", ErrInvalidConfig)
	}
	if self.IsEmpty() {
		return nil, fmt.Errorf("%w: empty local node id", ErrInvalidConfig)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	var routingStore, recordStore *kv.Store
	if eng != nil {
		routingStore = kv.New(eng, routingPrefix)
		recordStore = kv.New(eng, recordPrefix)
	}
	records, err := NewRecordStore(recordStore, cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("dht: load records: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &DHT{
		config:       cfg,
		self:         types.PeerRecord{ID: self, Addr: tr.MyAddress()},
		tr:           tr,
		pool:         pool,
		routingTable: NewRoutingTable(self, cfg.BucketSize, cfg.FailureThreshold, cfg.Clock),
		routingStore: routingStore,
		records:      records,
		network:      newNetwork(pool, cfg.RPCTimeout, cfg.MaxMessageSize, m),
		metrics:      m,
		clock:        cfg.Clock,
		ctx:          ctx,
		ctxCancel:    cancel,
	}
	d.handler = NewHandler(d)
	return d, nil
}

// Start 启动 DHT
//
// 加载路由表快照，开始接受入站 RPC，并启动刷新、清理、重新发布循环。
func (d *DHT) Start(_ context.Context) error {
	if d.started.Swap(true) {
		return ErrAlreadyStarted
	}

	logger.Info("正在启动 DHT", "self", d.self.ID.ShortString(), "addr", d.self.Addr)

	if d.routingStore != nil {
		n, err := LoadRoutingTable(d.routingStore, d.routingTable)
		if err != nil {
			logger.Warn("加载路由表快照失败", "error", err)
		} else if n > 0 {
			logger.Info("已加载路由表快照", "peers", n)
		}
	}

	ln, err := d.tr.Listen()
	if err != nil {
		d.started.Store(false)
		return fmt.Errorf("dht: listen: %w", err)
	}
	d.listener = ln

	d.wg.Add(4)
	go func() {
		defer d.wg.Done()
		if err := d.pool.Serve(ln, d.handler.HandleStream); err != nil {
			logger.Warn("入站服务退出", "error", err)
		}
	}()
	go d.refreshLoop()
	go d.cleanupLoop()
	go d.republishLoop()

	d.metrics.SetRoutingPeers(d.routingTable.Size())
	d.metrics.SetStoredRecords(d.records.Len())

	logger.Info("DHT 启动成功")
	return nil
}

// Stop 停止 DHT 并保存路由表快照
func (d *DHT) Stop(_ context.Context) error {
	if !d.started.Load() {
		return ErrNotStarted
	}
	if d.stopped.Swap(true) {
		return nil
	}

	logger.Info("正在停止 DHT")

	d.ctxCancel()
	if d.listener != nil {
		if err := d.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("关闭监听失败", "error", err)
		}
	}
	d.wg.Wait()

	if err := d.saveRoutingTable(); err != nil {
		logger.Warn("保存路由表快照失败", "error", err)
		return err
	}

	logger.Info("DHT 已停止")
	return nil
}

// Context 返回 DHT 生命周期上下文，Stop 后取消
func (d *DHT) Context() context.Context {
	return d.ctx
}

func (d *DHT) saveRoutingTable() error {
	if d.routingStore == nil {
		return nil
	}
	return SaveRoutingTable(d.routingStore, d.routingTable)
}

// ============================================================================
//                              引导
// ============================================================================

// Bootstrap 联系引导节点并执行一次自查找
//
// 每个引导地址并发 PING，失败按指数退避重试；全部失败且路由表为空时
// 返回 ErrBootstrapFailed。
func (d *DHT) Bootstrap(ctx context.Context) error {
	if !d.started.Load() {
		return ErrNotStarted
	}

	peers := make([]types.RendezvousAddr, 0, len(d.config.BootstrapPeers))
	for _, addr := range d.config.BootstrapPeers {
		if addr != d.self.Addr {
			peers = append(peers, addr)
		}
	}
	if len(peers) == 0 && d.routingTable.Size() == 0 {
		logger.Warn("DHT Bootstrap: 无引导节点可用")
		return nil
	}

	logger.Info("DHT Bootstrap 开始",
		"peerCount", len(peers),
		"routingTableSize", d.routingTable.Size())

	var success atomic.Int32
	var g errgroup.Group
	for _, addr := range peers {
		addr := addr
		g.Go(func() error {
			rec, err := d.pingWithRetry(ctx, addr)
			if err != nil {
				logger.Warn("DHT Bootstrap: 联系引导节点失败", "addr", addr, "error", err)
				return nil
			}
			success.Add(1)
			logger.Debug("DHT Bootstrap: 引导节点已响应", "addr", addr, "peer", rec.ID.ShortString())
			return nil
		})
	}
	_ = g.Wait()

	if success.Load() == 0 && d.routingTable.Size() == 0 {
		return NewDHTError("bootstrap", ErrBootstrapFailed, "no bootstrap peer responded")
	}

	// 自查找让近邻认识本节点，同时填充路由表
	if _, err := d.FindNode(ctx, d.self.ID); err != nil && !errors.Is(err, ErrNoNodes) {
		logger.Debug("DHT Bootstrap: 自查找未完成", "error", err)
	}

	d.metrics.SetRoutingPeers(d.routingTable.Size())
	logger.Info("DHT Bootstrap 完成",
		"success", success.Load(),
		"failed", len(peers)-int(success.Load()),
		"routingTableSize", d.routingTable.Size())
	return nil
}

// pingWithRetry PING 引导地址，瞬时错误指数退避重试
func (d *DHT) pingWithRetry(ctx context.Context, addr types.RendezvousAddr) (types.PeerRecord, error) {
	var rec types.PeerRecord
	op := func() error {
		r, err := d.Ping(ctx, addr)
		if err != nil {
			if !types.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		rec = r
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, bootstrapRetries), ctx))
	return rec, err
}

// ============================================================================
//                              节点操作
// ============================================================================

// Ping 探测 addr 上的节点，成功后写入路由表
func (d *DHT) Ping(ctx context.Context, addr types.RendezvousAddr) (types.PeerRecord, error) {
	resp, rtt, err := d.network.SendMessage(ctx, addr, NewPingRequest(d.self))
	if err != nil {
		return types.PeerRecord{}, err
	}
	if resp.Sender.ID == d.self.ID {
		return types.PeerRecord{}, fmt.Errorf("%w: peer reports our own id", ErrInvalidResponse)
	}
	// 以拨通的地址为准，对端自报地址可能不可达
	d.routingTable.RecordSeen(resp.Sender.ID, addr, rtt)
	return types.PeerRecord{
		ID:       resp.Sender.ID,
		Addr:     addr,
		LastSeen: d.clock.Now(),
		RTT:      rtt,
	}, nil
}

// FindNode 迭代查找距离 target 最近的 K 个节点
func (d *DHT) FindNode(ctx context.Context, target types.NodeID) ([]types.PeerRecord, error) {
	if !d.started.Load() {
		return nil, ErrNotStarted
	}
	q := newIterativeQuery(d, target, MessageTypeFindNode)
	err := q.Run(ctx)
	closest := q.Closest()
	d.metrics.SetRoutingPeers(d.routingTable.Size())
	if err != nil && len(closest) == 0 {
		return nil, err
	}
	return closest, nil
}

// storeAt 并发向 peers 发送 STORE，返回成功确认数
func (d *DHT) storeAt(ctx context.Context, peers []types.PeerRecord, req func() *Message) int {
	var acks atomic.Int32
	var g errgroup.Group
	g.SetLimit(d.config.Alpha * 2)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			_, rtt, err := d.network.SendMessage(ctx, p.Addr, req())
			if err != nil {
				if types.IsTransient(err) && ctx.Err() == nil {
					d.routingTable.MarkUnresponsive(p.ID)
				}
				logger.Debug("STORE 失败", "peer", p.ID.ShortString(), "error", err)
				return nil
			}
			d.routingTable.RecordSeen(p.ID, p.Addr, rtt)
			acks.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(acks.Load())
}

// ============================================================================
//                              值存储
// ============================================================================

// PutValue 发布值
//
// 先写入本地，再向距离 key 最近的 K 个节点发送 STORE。返回远端确认数；
// 网络中没有其他节点时只保存在本地。
func (d *DHT) PutValue(ctx context.Context, key types.NodeID, value []byte) (int, error) {
	if !d.started.Load() {
		return 0, ErrNotStarted
	}
	ttl := d.config.RecordTTL
	if err := d.records.PutValue(key, value, d.self.ID, ttl); err != nil {
		return 0, NewDHTError("put_value", err, "")
	}
	d.metrics.SetStoredRecords(d.records.Len())

	closest, err := d.FindNode(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNoNodes) {
			return 0, nil
		}
		return 0, err
	}

	acks := d.storeAt(ctx, closest, func() *Message {
		return NewStoreRequest(d.self, key, value, ttl)
	})
	logger.Debug("PutValue 完成", "key", key.ShortString(), "acks", acks, "targets", len(closest))
	return acks, nil
}

// GetValue 查找值
//
// 本地命中直接返回；否则迭代查找，并在未持有该值的最近节点上补存。
func (d *DHT) GetValue(ctx context.Context, key types.NodeID) ([]byte, error) {
	if value, _, ok := d.records.GetValue(key); ok {
		return value, nil
	}
	if !d.started.Load() {
		return nil, ErrNotStarted
	}

	q := newIterativeQuery(d, key, MessageTypeFindValue)
	err := q.Run(ctx)
	value, ttl, ok := q.Value()
	if !ok {
		if err != nil && !errors.Is(err, ErrNoNodes) {
			return nil, err
		}
		return nil, NewDHTError("get_value", ErrKeyNotFound, key.ShortString())
	}

	d.replicate(q, func() *Message {
		return NewStoreRequest(d.self, key, value, ttl)
	})
	return value, nil
}

// Provide 宣告本节点提供 key 对应的内容
//
// 返回远端确认数。
func (d *DHT) Provide(ctx context.Context, key types.NodeID) (int, error) {
	if !d.started.Load() {
		return 0, ErrNotStarted
	}
	ttl := d.config.RecordTTL
	if err := d.records.AddProvider(key, d.self.ID, d.self.Addr, ttl); err != nil {
		return 0, NewDHTError("provide", err, "")
	}
	d.metrics.SetStoredRecords(d.records.Len())

	closest, err := d.FindNode(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNoNodes) {
			return 0, nil
		}
		return 0, err
	}

	info := ProviderInfo{ID: d.self.ID, Addr: d.self.Addr, TTL: ttl}
	acks := d.storeAt(ctx, closest, func() *Message {
		return NewAddProviderRequest(d.self, key, info)
	})
	logger.Debug("Provide 完成", "key", key.ShortString(), "acks", acks, "targets", len(closest))
	return acks, nil
}

// FindProviders 查找 key 的提供者
//
// 合并本地与网络结果；本节点不计入。查找结束仍为空时返回 ErrNoProvidersFound。
func (d *DHT) FindProviders(ctx context.Context, key types.NodeID) ([]types.ProviderRecord, error) {
	if !d.started.Load() {
		return nil, ErrNotStarted
	}

	now := d.clock.Now()
	merged := make(map[types.NodeID]types.ProviderRecord)
	for _, p := range d.records.GetProviders(key) {
		merged[p.ID] = p
	}

	q := newIterativeQuery(d, key, MessageTypeFindValue)
	err := q.Run(ctx)
	found := q.Providers()
	for _, p := range found {
		rec := types.ProviderRecord{ID: p.ID, Addr: p.Addr, ExpiresAt: now.Add(p.TTL)}
		if old, ok := merged[p.ID]; !ok || rec.ExpiresAt.After(old.ExpiresAt) {
			merged[p.ID] = rec
		}
	}
	delete(merged, d.self.ID)

	if len(merged) == 0 {
		if err != nil && !errors.Is(err, ErrNoNodes) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, NewDHTError("find_providers", ErrNoProvidersFound, key.ShortString())
	}

	if len(found) > 0 {
		d.replicate(q, func() *Message {
			return NewAddProviderRequest(d.self, key, found...)
		})
	}

	result := make([]types.ProviderRecord, 0, len(merged))
	for _, p := range merged {
		result = append(result, p)
	}
	return result, nil
}

// StopProviding 撤销本节点对 key 的提供者记录
//
// 远端已存储的记录在 TTL 到期后自然消失。
func (d *DHT) StopProviding(key types.NodeID) error {
	return d.records.RemoveProvider(key, d.self.ID)
}

// replicate 查找结束后在未持有记录的最近节点上补存，后台执行
func (d *DHT) replicate(q *iterativeQuery, req func() *Message) {
	targets := q.ClosestNonHolders(d.config.Replication)
	if len(targets) == 0 || d.ctx.Err() != nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.ctx, d.config.RPCTimeout)
		defer cancel()
		n := d.storeAt(ctx, targets, req)
		logger.Debug("查找后补存", "key", q.target.ShortString(), "acks", n, "targets", len(targets))
	}()
}

// ============================================================================
//                              访问器
// ============================================================================

// Config 返回配置副本
func (d *DHT) Config() Config {
	return *d.config
}

// Self 返回本节点记录
func (d *DHT) Self() types.PeerRecord {
	return d.self
}

// ListPeers 返回路由表中的节点，按到本节点距离升序
func (d *DHT) ListPeers() []types.PeerRecord {
	return d.routingTable.ListPeers()
}

// RoutingTable 返回路由表
func (d *DHT) RoutingTable() *RoutingTable {
	return d.routingTable
}

// Records 返回本地记录存储
func (d *DHT) Records() *RecordStore {
	return d.records
}

// RegisterHandler 注册扩展消息处理函数（如分块服务）
func (d *DHT) RegisterHandler(t MessageType, fn HandlerFunc) {
	d.handler.Register(t, fn)
}

// SendRequest 向 addr 发送扩展请求
//
// 响应为 ERROR 时返回 ErrRemote；成功响应的发送方写入路由表。
func (d *DHT) SendRequest(ctx context.Context, addr types.RendezvousAddr, req *Message) (*Message, error) {
	resp, rtt, err := d.network.SendMessage(ctx, addr, req)
	if err != nil {
		return nil, err
	}
	if resp.Sender.ID != d.self.ID {
		d.routingTable.RecordSeen(resp.Sender.ID, addr, rtt)
	}
	return resp, nil
}

// ============================================================================
//                              后台循环
// ============================================================================

// refreshLoop 路由表刷新循环
func (d *DHT) refreshLoop() {
	defer d.wg.Done()

	ticker := d.clock.Ticker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.refresh()
		case <-d.ctx.Done():
			return
		}
	}
}

// refresh 对长时间未更新的桶查找其范围内的随机 ID，移除过期节点
func (d *DHT) refresh() {
	for _, idx := range d.routingTable.BucketsNeedingRefresh(d.config.RefreshInterval) {
		if d.ctx.Err() != nil {
			return
		}
		target := RandomIDWithPrefix(d.self.ID, idx)
		if _, err := d.FindNode(d.ctx, target); err != nil && !errors.Is(err, ErrNoNodes) {
			logger.Debug("刷新桶失败", "bucket", idx, "error", err)
		}
		d.routingTable.MarkRefreshed(idx)
	}

	if n := d.routingTable.RemoveExpiredNodes(d.config.NodeExpiry); n > 0 {
		logger.Debug("移除过期节点", "count", n)
	}
	if err := d.saveRoutingTable(); err != nil {
		logger.Warn("保存路由表快照失败", "error", err)
	}
	d.metrics.SetRoutingPeers(d.routingTable.Size())
}

// cleanupLoop 过期记录清理循环
func (d *DHT) cleanupLoop() {
	defer d.wg.Done()

	ticker := d.clock.Ticker(d.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := d.records.Cleanup(); n > 0 {
				logger.Debug("清理过期记录", "count", n)
			}
			d.metrics.SetStoredRecords(d.records.Len())
		case <-d.ctx.Done():
			return
		}
	}
}

// republishLoop 持有记录重新发布循环
func (d *DHT) republishLoop() {
	defer d.wg.Done()

	ticker := d.clock.Ticker(d.config.RepublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.republish()
		case <-d.ctx.Done():
			return
		}
	}
}

// republish 将持有的记录以剩余 TTL 重新存到最近的 K 个节点
//
// 不延长记录寿命：只有原发布者的重新宣告能续期。
func (d *DHT) republish() {
	held := d.records.Held()
	if len(held) == 0 {
		return
	}
	logger.Debug("重新发布持有记录", "count", len(held))

	for _, rec := range held {
		if d.ctx.Err() != nil {
			return
		}
		rec := rec
		closest, err := d.FindNode(d.ctx, rec.Key)
		if err != nil {
			continue
		}
		d.storeAt(d.ctx, closest, func() *Message {
			if rec.Kind == RecordProvider {
				return NewAddProviderRequest(d.self, rec.Key, rec.Providers...)
			}
			return NewStoreRequest(d.self, rec.Key, rec.Value, rec.TTL)
		})
	}
}
