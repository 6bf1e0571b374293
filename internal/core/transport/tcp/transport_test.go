package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-firestrike/pkg/interfaces"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// TestTransport_DialListen 测试拨号与监听
func TestTransport_DialListen(t *testing.T) {
	server, err := New("127.0.0.1:0", "")
	require.NoError(t, err)
	defer server.Close()

	client, err := New("127.0.0.1:0", "")
	require.NoError(t, err)
	defer client.Close()

	ln, err := server.Listen()
	require.NoError(t, err)

	_, err = server.Listen()
	assert.ErrorIs(t, err, interfaces.ErrAlreadyListening)

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.Copy(c, c)
	}()

	conn, err := client.Dial(context.Background(), server.MyAddress(), 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	t.Log("✅ TCP 拨号与监听测试通过")
}

// TestTransport_Advertise 测试宣告地址
func TestTransport_Advertise(t *testing.T) {
	tr, err := New("127.0.0.1:0", "node.example:8789")
	require.NoError(t, err)
	defer tr.Close()
	assert.Equal(t, types.RendezvousAddr("node.example:8789"), tr.MyAddress())
}

// TestTransport_DialUnreachable 测试不可达
func TestTransport_DialUnreachable(t *testing.T) {
	tr, err := New("127.0.0.1:0", "")
	require.NoError(t, err)
	defer tr.Close()

	// 占用一个端口后立即关闭，得到一个拒绝连接的地址
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := types.RendezvousAddr(ln.Addr().String())
	require.NoError(t, ln.Close())

	_, err = tr.Dial(context.Background(), dead, time.Second)
	require.Error(t, err)
	var te *types.TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, types.IsTransient(err))

	_, err = tr.Dial(context.Background(), "no-port", time.Second)
	assert.ErrorIs(t, err, types.ErrUnreachable)
	assert.ErrorIs(t, err, interfaces.ErrInvalidAddress)
}

// TestTransport_Closed 测试关闭后不可用
func TestTransport_Closed(t *testing.T) {
	tr, err := New("127.0.0.1:0", "")
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err = tr.Listen()
	assert.ErrorIs(t, err, interfaces.ErrTransportClosed)
	_, err = tr.Dial(context.Background(), "127.0.0.1:1", time.Second)
	assert.ErrorIs(t, err, interfaces.ErrTransportClosed)
}
