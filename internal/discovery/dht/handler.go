package dht

import (
	"context"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-firestrike/internal/core/metrics"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// maxTrackedSenders 速率限制器最多跟踪的发送方数
const maxTrackedSenders = 4096

// HandlerFunc 扩展消息处理函数
//
// 返回 nil 时回复通用错误。
type HandlerFunc func(ctx context.Context, req *Message) *Message

// Handler 协议处理器
//
// 处理流程：
//  1. 读取一帧请求
//  2. 按发送方 NodeID 做令牌桶限速
//  3. 按消息类型分发，未知类型回复 ERROR
//  4. 将发送方加入路由表
//  5. 写回响应
type Handler struct {
	// dht DHT 实例
	dht *DHT

	// limiters 每个发送方一个令牌桶
	limiters *lru.Cache[types.NodeID, *rate.Limiter]

	// extra 扩展消息处理函数（分块服务等）
	extra map[MessageType]HandlerFunc

	mu sync.RWMutex
}

// NewHandler 创建协议处理器
func NewHandler(dht *DHT) *Handler {
	limiters, _ := lru.New[types.NodeID, *rate.Limiter](maxTrackedSenders)
	return &Handler{
		dht:      dht,
		limiters: limiters,
		extra:    make(map[MessageType]HandlerFunc),
	}
}

// Register 注册扩展消息处理函数
func (h *Handler) Register(t MessageType, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extra[t] = fn
}

// allow 检查发送方是否超出速率限制
func (h *Handler) allow(sender types.NodeID) bool {
	cfg := h.dht.config
	if cfg.RateLimit <= 0 {
		return true
	}
	lim, ok := h.limiters.Get(sender)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
		h.limiters.Add(sender, lim)
	}
	return lim.Allow()
}

// HandleStream 处理一条入站流
func (h *Handler) HandleStream(stream net.Conn) {
	d := h.dht
	setStreamDeadline(stream, d.config.RPCTimeout)

	req, size, err := readMessage(stream, d.config.MaxMessageSize)
	if err != nil {
		logger.Debug("读取请求失败", "error", err)
		return
	}
	kind := req.Type.String()
	d.metrics.LogMessage(kind, metrics.DirIn, size)

	resp, outcome := h.dispatch(req)
	if _, err := writeMessage(stream, resp, d.config.MaxMessageSize); err != nil {
		logger.Debug("写入响应失败", "type", kind, "error", err)
		outcome = metrics.OutcomeError
	}
	d.metrics.ObserveRPC(kind, metrics.DirIn, outcome)
}

// dispatch 处理请求，返回响应与结果标签
func (h *Handler) dispatch(req *Message) (*Message, string) {
	d := h.dht
	self := d.self

	if req.Sender.ID.IsEmpty() || req.Sender.Addr.IsEmpty() {
		return req.ErrorReply(self, "sender is empty"), metrics.OutcomeError
	}
	if req.Sender.ID == self.ID {
		return req.ErrorReply(self, "sender is self"), metrics.OutcomeError
	}
	if !h.allow(req.Sender.ID) {
		d.metrics.IncRateLimited()
		logger.Debug("请求被限速", "peer", req.Sender.ID.ShortString(), "type", req.Type)
		return req.ErrorReply(self, ErrRateLimitExceeded.Error()), metrics.OutcomeError
	}

	var resp *Message
	switch req.Type {
	case MessageTypePing:
		resp = req.Reply(self)
	case MessageTypeFindNode:
		resp = h.handleFindNode(req)
	case MessageTypeFindValue:
		resp = h.handleFindValue(req)
	case MessageTypeStore:
		resp = h.handleStore(req)
	default:
		h.mu.RLock()
		fn, ok := h.extra[req.Type]
		h.mu.RUnlock()
		if !ok {
			return req.ErrorReply(self, ErrUnsupportedMessage.Error()), metrics.OutcomeError
		}
		resp = fn(d.ctx, req)
		if resp == nil {
			resp = req.ErrorReply(self, "request failed")
		}
	}

	// 请求方进入路由表
	d.routingTable.RecordSeen(req.Sender.ID, req.Sender.Addr, 0)

	if resp.Type == MessageTypeError {
		return resp, metrics.OutcomeError
	}
	return resp, metrics.OutcomeOK
}

// closerPeers 返回距离 key 最近的 K 个节点，排除请求方
func (h *Handler) closerPeers(key, requester types.NodeID) []types.PeerRecord {
	k := h.dht.config.BucketSize
	peers := h.dht.routingTable.NearestPeers(key, k+1)
	result := make([]types.PeerRecord, 0, len(peers))
	for _, p := range peers {
		if p.ID == requester {
			continue
		}
		result = append(result, types.PeerRecord{ID: p.ID, Addr: p.Addr})
		if len(result) == k {
			break
		}
	}
	return result
}

// handleFindNode 处理 FIND_NODE 请求
func (h *Handler) handleFindNode(req *Message) *Message {
	resp := req.Reply(h.dht.self)
	resp.CloserPeers = h.closerPeers(req.Key, req.Sender.ID)
	return resp
}

// handleFindValue 处理 FIND_VALUE 请求
//
// 持有值或 Provider 时 Found 为真；总是附带更近的节点。
func (h *Handler) handleFindValue(req *Message) *Message {
	rs := h.dht.records
	resp := req.Reply(h.dht.self)

	if value, ttl, ok := rs.GetValue(req.Key); ok {
		resp.Found = true
		resp.Value = value
		resp.TTL = ttl
	}
	now := h.dht.clock.Now()
	for _, p := range rs.GetProviders(req.Key) {
		resp.Providers = append(resp.Providers, ProviderInfo{
			ID:   p.ID,
			Addr: p.Addr,
			TTL:  p.ExpiresAt.Sub(now),
		})
	}
	if len(resp.Providers) > 0 {
		resp.Found = true
	}
	resp.CloserPeers = h.closerPeers(req.Key, req.Sender.ID)
	return resp
}

// handleStore 处理 STORE 请求
//
// TTL 截断到 MaxRecordTTL；整条请求要么全部写入要么回复错误。
func (h *Handler) handleStore(req *Message) *Message {
	d := h.dht
	self := d.self

	switch req.Kind {
	case RecordValue:
		if err := d.records.PutValue(req.Key, req.Value, req.Sender.ID, d.clampTTL(req.TTL)); err != nil {
			return req.ErrorReply(self, err.Error())
		}
	case RecordProvider:
		infos := make([]ProviderInfo, len(req.Providers))
		for i, p := range req.Providers {
			p.TTL = d.clampTTL(p.TTL)
			infos[i] = p
		}
		if err := d.records.AddProviders(req.Key, infos); err != nil {
			return req.ErrorReply(self, err.Error())
		}
	default:
		return req.ErrorReply(self, ErrUnsupportedMessage.Error())
	}

	d.metrics.SetStoredRecords(d.records.Len())
	logger.Debug("已存储记录", "key", req.Key.ShortString(), "kind", req.Kind, "from", req.Sender.ID.ShortString())
	return req.Reply(self)
}

// clampTTL 截断到 MaxRecordTTL
func (d *DHT) clampTTL(ttl time.Duration) time.Duration {
	if ttl > d.config.MaxRecordTTL {
		return d.config.MaxRecordTTL
	}
	return ttl
}
