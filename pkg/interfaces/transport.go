// Package interfaces 定义 Firestrike 组件间的公共接口
//
// 本文件定义匿名传输适配器接口。
package interfaces

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/dep2p/go-firestrike/pkg/types"
)

var (
	// ErrAlreadyListening Listen 已被调用
	ErrAlreadyListening = errors.New("transport: listen already called")

	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("transport: closed")

	// ErrInvalidAddress 汇合地址格式错误
	ErrInvalidAddress = errors.New("transport: invalid rendezvous address")
)

// Transport 匿名传输适配器
//
// 适配器向上只暴露三个能力：本节点的汇合地址、一次性的入站连接流、
// 以及带超时的出站拨号。DHT 层从不接触真实网络地址。
type Transport interface {
	// MyAddress 返回本节点的汇合地址，进程生命周期内不变
	MyAddress() types.RendezvousAddr

	// Listen 返回入站连接流
	//
	// 只能调用一次；关闭后不可重启。
	Listen() (net.Listener, error)

	// Dial 打开到 addr 的出站连接
	//
	// timeout 由适配器自行施加；失败时返回 *types.TransportError，
	// 种类为 ErrUnreachable 或 ErrTimeout。
	Dial(ctx context.Context, addr types.RendezvousAddr, timeout time.Duration) (net.Conn, error)

	// Close 关闭监听并释放汇合地址
	Close() error
}

// CircuitRenewer 可为后续连接更换匿名电路的传输
//
// Tor 适配器实现该接口；普通 TCP 适配器不实现。
type CircuitRenewer interface {
	RenewCircuits() error
}
