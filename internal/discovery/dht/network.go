package dht

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-firestrike/internal/core/metrics"
	"github.com/dep2p/go-firestrike/internal/core/muxer"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// network RPC 客户端
//
// 每次请求在到对端的 yamux 会话上打开一条新流：写一帧请求，读一帧响应，关闭流。
// 帧格式为 uvarint 长度前缀 + protobuf 线格式消息。
type network struct {
	pool    *muxer.Pool
	timeout time.Duration
	maxSize int
	metrics *metrics.Metrics
}

func newNetwork(pool *muxer.Pool, timeout time.Duration, maxSize int, m *metrics.Metrics) *network {
	return &network{
		pool:    pool,
		timeout: timeout,
		maxSize: maxSize,
		metrics: m,
	}
}

// SendMessage 发送请求并等待响应，返回响应与往返时延
//
// 对端返回 ERROR 时错误包装 ErrRemote；网络失败返回 *types.TransportError。
func (n *network) SendMessage(ctx context.Context, addr types.RendezvousAddr, req *Message) (*Message, time.Duration, error) {
	kind := req.Type.String()
	start := time.Now()

	resp, err := n.roundTrip(ctx, addr, req)
	if err != nil {
		outcome := metrics.OutcomeError
		if types.IsTimeout(err) {
			outcome = metrics.OutcomeTimeout
		}
		n.metrics.ObserveRPC(kind, metrics.DirOut, outcome)
		return nil, 0, err
	}
	n.metrics.ObserveRPC(kind, metrics.DirOut, metrics.OutcomeOK)
	return resp, time.Since(start), nil
}

func (n *network) roundTrip(ctx context.Context, addr types.RendezvousAddr, req *Message) (*Message, error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	stream, err := n.pool.OpenStream(ctx, addr)
	if err != nil {
		return nil, classifyRPCError(ctx, addr, err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	size, err := writeMessage(stream, req, n.maxSize)
	if err != nil {
		return nil, classifyRPCError(ctx, addr, fmt.Errorf("write %s: %w", req.Type, err))
	}
	n.metrics.LogMessage(req.Type.String(), metrics.DirOut, size)

	resp, size, err := readMessage(stream, n.maxSize)
	if err != nil {
		return nil, classifyRPCError(ctx, addr, fmt.Errorf("read %s response: %w", req.Type, err))
	}
	n.metrics.LogMessage(resp.Type.String(), metrics.DirIn, size)

	if resp.RequestID != req.RequestID {
		return nil, fmt.Errorf("%w: request id mismatch", ErrInvalidResponse)
	}
	if resp.Type == MessageTypeError {
		return nil, remoteError(resp.Error)
	}
	if resp.Type != req.Type.ResponseType() {
		return nil, fmt.Errorf("%w: got %s for %s", ErrInvalidResponse, resp.Type, req.Type)
	}
	if resp.Sender.ID.IsEmpty() {
		return nil, fmt.Errorf("%w: missing sender", ErrInvalidResponse)
	}
	return resp, nil
}

// classifyRPCError 将 RPC 失败归类
//
// 协议层错误原样返回，其余按超时/不可达归入 TransportError。
func classifyRPCError(ctx context.Context, addr types.RendezvousAddr, err error) error {
	var te *types.TransportError
	switch {
	case errors.As(err, &te):
		return err
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrMessageTooLarge):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return types.NewTransportError("rpc", addr, types.ErrTimeout, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	}
	return types.ClassifyDialError(addr, err)
}

// writeMessage 写入一帧，返回帧字节数
func writeMessage(w io.Writer, msg *Message, maxSize int) (int, error) {
	data := msg.Marshal()
	if maxSize > 0 && len(data) > maxSize {
		return 0, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), maxSize)
	}
	frame := append(varint.ToUvarint(uint64(len(data))), data...)
	if _, err := w.Write(frame); err != nil {
		return 0, err
	}
	return len(frame), nil
}

// readMessage 读取一帧，返回消息与帧字节数
func readMessage(r io.Reader, maxSize int) (*Message, int, error) {
	br := bufio.NewReader(r)
	length, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, 0, err
	}
	if length == 0 || (maxSize > 0 && length > uint64(maxSize)) {
		return nil, 0, fmt.Errorf("%w: frame length %d", ErrMessageTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, 0, err
	}
	msg, err := UnmarshalMessage(data)
	if err != nil {
		return nil, 0, err
	}
	return msg, varint.UvarintSize(length) + len(data), nil
}

// setStreamDeadline 为入站流设置读写期限
func setStreamDeadline(stream net.Conn, d time.Duration) {
	if d > 0 {
		_ = stream.SetDeadline(time.Now().Add(d))
	}
}
