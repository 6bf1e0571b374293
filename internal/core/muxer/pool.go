// Package muxer 在匿名传输连接之上提供 yamux 会话池
//
// 匿名网络建链代价高（一次 Tor 电路通常需要数秒），因此每个对端只建立
// 一条底层连接，所有 RPC 与分块传输都作为 yamux 流复用该连接。
//
// # 出站
//
//	pool, _ := muxer.NewPool(tr, muxer.DefaultConfig())
//	stream, err := pool.OpenStream(ctx, addr)
//	defer stream.Close()
//
// # 入站
//
//	ln, _ := tr.Listen()
//	go pool.Serve(ln, func(s net.Conn) { ... })
//
// 入站会话不会被复用为出站会话：经匿名网络到达的连接不携带对端的汇合地址。
package muxer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/yamux"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-firestrike/pkg/interfaces"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
	"github.com/dep2p/go-firestrike/pkg/types"
)

var logger = log.Logger("core/muxer")

// StreamHandler 处理一条入站流，返回后流由调用方关闭
type StreamHandler func(stream net.Conn)

// session 出站会话
type session struct {
	s        *yamux.Session
	lastUsed atomic.Int64 // unix nano
}

func (s *session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *session) idleSince() time.Duration {
	return time.Since(time.Unix(0, s.lastUsed.Load()))
}

// Pool yamux 会话池
type Pool struct {
	cfg      Config
	yamuxCfg *yamux.Config
	tr       interfaces.Transport

	sessions *lru.Cache[types.RendezvousAddr, *session]
	dials    singleflight.Group

	inboundMu sync.Mutex
	inbound   map[*yamux.Session]struct{}

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewPool 创建会话池
func NewPool(tr interfaces.Transport, cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := lru.NewWithEvict(cfg.MaxSessions, func(addr types.RendezvousAddr, s *session) {
		logger.Debug("回收出站会话", "addr", addr)
		_ = s.s.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("muxer: create session cache: %w", err)
	}
	return &Pool{
		cfg:      cfg,
		yamuxCfg: cfg.yamuxConfig(),
		tr:       tr,
		sessions: cache,
		inbound:  make(map[*yamux.Session]struct{}),
	}, nil
}

// OpenStream 打开到 addr 的流
//
// 已有会话时直接复用；会话失效时重新拨号一次。
// 失败返回 *types.TransportError。
func (p *Pool) OpenStream(ctx context.Context, addr types.RendezvousAddr) (net.Conn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	for attempt := 0; attempt < 2; attempt++ {
		sess, err := p.session(ctx, addr)
		if err != nil {
			return nil, err
		}
		stream, err := openStream(ctx, sess.s)
		if err == nil {
			sess.touch()
			return stream, nil
		}
		// 会话已失效，丢弃后重拨
		p.sessions.Remove(addr)
		if ctx.Err() != nil || !errors.Is(err, ErrSessionClosed) {
			return nil, types.ClassifyDialError(addr, err)
		}
		logger.Debug("会话失效，重新拨号", "addr", addr, "error", err)
	}
	return nil, types.NewTransportError("open stream", addr, types.ErrUnreachable, ErrSessionClosed)
}

// session 获取或建立到 addr 的会话
//
// 同一地址的并发拨号合并为一次。共享拨号不随任何调用方的 ctx 取消，
// 只受 DialTimeout 约束；每个调用方只在自己的 ctx 结束时提前返回。
func (p *Pool) session(ctx context.Context, addr types.RendezvousAddr) (*session, error) {
	if s, ok := p.sessions.Get(addr); ok && !s.s.IsClosed() {
		return s, nil
	}

	ch := p.dials.DoChan(string(addr), func() (interface{}, error) {
		if s, ok := p.sessions.Get(addr); ok && !s.s.IsClosed() {
			return s, nil
		}
		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DialTimeout)
		defer cancel()
		return p.dial(dialCtx, addr)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*session), nil
	}
}

// dial 建立出站会话并放入缓存
func (p *Pool) dial(ctx context.Context, addr types.RendezvousAddr) (*session, error) {
	conn, err := p.tr.Dial(ctx, addr, p.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	ys, err := yamux.Client(conn, p.yamuxCfg)
	if err != nil {
		_ = conn.Close()
		return nil, types.NewTransportError("mux", addr, types.ErrUnreachable, err)
	}
	s := &session{s: ys}
	s.touch()
	if p.closed.Load() {
		_ = ys.Close()
		return nil, ErrPoolClosed
	}
	p.sessions.Add(addr, s)
	logger.Debug("建立出站会话", "addr", addr)
	return s, nil
}

// openStream 在会话上打开流，遵守 ctx 取消
func openStream(ctx context.Context, s *yamux.Session) (net.Conn, error) {
	type result struct {
		stream *yamux.Stream
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		st, err := s.OpenStream()
		resultCh <- result{stream: st, err: err}
	}()

	select {
	case <-ctx.Done():
		// 调用方已放弃，迟到的流由后台关闭
		go func() {
			if r := <-resultCh; r.stream != nil {
				_ = r.stream.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, parseError(r.err)
		}
		return r.stream, nil
	}
}

// Serve 在 ln 上接受入站连接，每条连接建立一个 yamux 服务端会话
//
// 阻塞直到 ln 关闭；池关闭导致的退出返回 nil。
func (p *Pool) Serve(ln net.Listener, handler StreamHandler) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if p.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		ys, err := yamux.Server(conn, p.yamuxCfg)
		if err != nil {
			logger.Warn("创建入站会话失败", "error", err)
			_ = conn.Close()
			continue
		}
		if !p.trackInbound(ys) {
			_ = ys.Close()
			return nil
		}
		p.wg.Add(1)
		go p.serveSession(ys, handler)
	}
}

func (p *Pool) serveSession(ys *yamux.Session, handler StreamHandler) {
	defer p.wg.Done()
	defer p.untrackInbound(ys)
	defer ys.Close()

	for {
		st, err := ys.AcceptStream()
		if err != nil {
			return
		}
		go func() {
			defer st.Close()
			handler(st)
		}()
	}
}

func (p *Pool) trackInbound(ys *yamux.Session) bool {
	p.inboundMu.Lock()
	defer p.inboundMu.Unlock()
	if p.closed.Load() {
		return false
	}
	p.inbound[ys] = struct{}{}
	return true
}

func (p *Pool) untrackInbound(ys *yamux.Session) {
	p.inboundMu.Lock()
	delete(p.inbound, ys)
	p.inboundMu.Unlock()
}

// ReapIdle 关闭已断开或空闲超时的出站会话，返回回收数量
func (p *Pool) ReapIdle() int {
	n := 0
	for _, addr := range p.sessions.Keys() {
		s, ok := p.sessions.Peek(addr)
		if !ok {
			continue
		}
		if s.s.IsClosed() || (s.s.NumStreams() == 0 && s.idleSince() >= p.cfg.IdleTimeout) {
			p.sessions.Remove(addr)
			n++
		}
	}
	return n
}

// Run 周期性回收空闲会话，直到 ctx 结束
func (p *Pool) Run(ctx context.Context) {
	interval := p.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.ReapIdle(); n > 0 {
				logger.Debug("回收空闲会话", "count", n)
			}
		}
	}
}

// NumSessions 返回出站会话数
func (p *Pool) NumSessions() int {
	return p.sessions.Len()
}

// NumInbound 返回入站会话数
func (p *Pool) NumInbound() int {
	p.inboundMu.Lock()
	defer p.inboundMu.Unlock()
	return len(p.inbound)
}

// Close 关闭所有会话
//
// 不关闭传输层监听器，由其所有者负责。
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.sessions.Purge()

	p.inboundMu.Lock()
	for ys := range p.inbound {
		_ = ys.Close()
	}
	p.inboundMu.Unlock()

	p.wg.Wait()
	return nil
}
