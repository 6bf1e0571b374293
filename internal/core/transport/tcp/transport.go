// Package tcp 提供明文 TCP 传输适配器
//
// 汇合地址即 "host:port"。用于局域网部署与多节点测试，
// 不提供任何匿名性。
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-firestrike/pkg/interfaces"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
	"github.com/dep2p/go-firestrike/pkg/types"
)

var logger = log.Logger("transport/tcp")

// Transport TCP 传输适配器
type Transport struct {
	listener  net.Listener
	addr      types.RendezvousAddr
	keepAlive time.Duration

	listenOnce sync.Once
	closed     atomic.Bool
}

var _ interfaces.Transport = (*Transport)(nil)

// New 绑定监听地址并创建适配器
//
// listenAddr 可为 "127.0.0.1:0"；advertise 为空时使用实际绑定地址。
func New(listenAddr, advertise string) (*Transport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, types.NewTransportError("listen", types.RendezvousAddr(listenAddr), types.ErrProvisioningFailed, err)
	}

	addr := types.RendezvousAddr(advertise)
	if addr.IsEmpty() {
		addr = types.RendezvousAddr(ln.Addr().String())
	}
	logger.Debug("TCP 传输已绑定", "listen", ln.Addr().String(), "addr", addr)

	return &Transport{
		listener:  ln,
		addr:      addr,
		keepAlive: 30 * time.Second,
	}, nil
}

// MyAddress 返回汇合地址
func (t *Transport) MyAddress() types.RendezvousAddr {
	return t.addr
}

// Listen 返回入站连接流
func (t *Transport) Listen() (net.Listener, error) {
	if t.closed.Load() {
		return nil, interfaces.ErrTransportClosed
	}
	var ln net.Listener
	t.listenOnce.Do(func() { ln = t.listener })
	if ln == nil {
		return nil, interfaces.ErrAlreadyListening
	}
	return ln, nil
}

// Dial 拨号到 addr
func (t *Transport) Dial(ctx context.Context, addr types.RendezvousAddr, timeout time.Duration) (net.Conn, error) {
	if t.closed.Load() {
		return nil, interfaces.ErrTransportClosed
	}
	if _, _, err := net.SplitHostPort(string(addr)); err != nil {
		return nil, types.NewTransportError("dial", addr, types.ErrUnreachable, fmt.Errorf("%w: %v", interfaces.ErrInvalidAddress, err))
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	d := net.Dialer{KeepAlive: t.keepAlive}
	conn, err := d.DialContext(ctx, "tcp", string(addr))
	if err != nil {
		return nil, types.ClassifyDialError(addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// Close 关闭监听器
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if err := t.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
