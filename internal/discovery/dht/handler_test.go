package dht

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-firestrike/internal/core/muxer"
	"github.com/dep2p/go-firestrike/internal/core/transport/tcp"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// newUnstartedDHT 创建未启动的 DHT，用于直接测试处理逻辑
func newUnstartedDHT(t *testing.T, opts ...ConfigOption) *DHT {
	t.Helper()
	tr, err := tcp.New("127.0.0.1:0", "")
	require.NoError(t, err)
	pool, err := muxer.NewPool(tr, muxer.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Close()
		_ = tr.Close()
	})

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	d, err := New(cfg, types.RandomNodeID(), tr, pool, nil, nil)
	require.NoError(t, err)
	return d
}

// TestHandler_PingAddsRequester 测试请求方进入路由表
func TestHandler_PingAddsRequester(t *testing.T) {
	d := newUnstartedDHT(t)
	sender := testSender()

	resp, outcome := d.handler.dispatch(NewPingRequest(sender))
	assert.Equal(t, "ok", outcome)
	assert.Equal(t, MessageTypePingResponse, resp.Type)
	assert.Equal(t, d.Self().ID, resp.Sender.ID)

	rec, ok := d.RoutingTable().Find(sender.ID)
	require.True(t, ok)
	assert.Equal(t, sender.Addr, rec.Addr)
}

// TestHandler_RejectsInvalidSender 测试拒绝空发送方与自身
func TestHandler_RejectsInvalidSender(t *testing.T) {
	d := newUnstartedDHT(t)

	resp, _ := d.handler.dispatch(NewPingRequest(types.PeerRecord{}))
	assert.Equal(t, MessageTypeError, resp.Type)

	resp, _ = d.handler.dispatch(NewPingRequest(d.Self()))
	assert.Equal(t, MessageTypeError, resp.Type)
	assert.Equal(t, 0, d.RoutingTable().Size())
}

// TestHandler_StoreThenFindValue 测试 STORE 后 FIND_VALUE 命中
func TestHandler_StoreThenFindValue(t *testing.T) {
	d := newUnstartedDHT(t, WithRecordTTL(time.Hour))
	sender := testSender()
	key := types.RandomNodeID()

	// TTL 超过 MaxRecordTTL 时被截断
	resp, _ := d.handler.dispatch(NewStoreRequest(sender, key, []byte("v"), 1000*time.Hour))
	require.Equal(t, MessageTypeStoreResponse, resp.Type)

	_, ttl, ok := d.Records().GetValue(key)
	require.True(t, ok)
	assert.LessOrEqual(t, ttl, d.config.MaxRecordTTL)

	resp, _ = d.handler.dispatch(NewFindValueRequest(testSender(), key))
	require.Equal(t, MessageTypeFindValueResponse, resp.Type)
	assert.True(t, resp.Found)
	assert.Equal(t, []byte("v"), resp.Value)
	// 存储方作为更近节点返回，请求方自身被排除
	require.Len(t, resp.CloserPeers, 1)
	assert.Equal(t, sender.ID, resp.CloserPeers[0].ID)
}

// TestHandler_StoreProviderAllOrNothing 测试 Provider 整条请求校验
func TestHandler_StoreProviderAllOrNothing(t *testing.T) {
	d := newUnstartedDHT(t)
	key := types.RandomNodeID()

	good := ProviderInfo{ID: types.RandomNodeID(), Addr: "good.onion:1", TTL: time.Hour}
	bad := ProviderInfo{ID: types.RandomNodeID(), TTL: time.Hour}

	resp, _ := d.handler.dispatch(NewAddProviderRequest(testSender(), key, good, bad))
	assert.Equal(t, MessageTypeError, resp.Type)
	assert.Empty(t, d.Records().GetProviders(key), "有非法条目时不写入任何条目")

	resp, _ = d.handler.dispatch(NewAddProviderRequest(testSender(), key, good))
	assert.Equal(t, MessageTypeStoreResponse, resp.Type)
	assert.Len(t, d.Records().GetProviders(key), 1)
}

// TestHandler_RateLimit 测试按发送方限速
func TestHandler_RateLimit(t *testing.T) {
	d := newUnstartedDHT(t, WithRateLimit(0.001, 2))
	sender := testSender()

	for i := 0; i < 2; i++ {
		resp, _ := d.handler.dispatch(NewPingRequest(sender))
		assert.Equal(t, MessageTypePingResponse, resp.Type)
	}
	resp, _ := d.handler.dispatch(NewPingRequest(sender))
	assert.Equal(t, MessageTypeError, resp.Type)
	assert.Equal(t, ErrRateLimitExceeded.Error(), resp.Error)

	// 其他发送方不受影响
	resp, _ = d.handler.dispatch(NewPingRequest(testSender()))
	assert.Equal(t, MessageTypePingResponse, resp.Type)
}

// TestHandler_UnsupportedAndExtra 测试未知类型与扩展处理函数
func TestHandler_UnsupportedAndExtra(t *testing.T) {
	d := newUnstartedDHT(t)

	req := NewGetChunkRequest(testSender(), types.RandomNodeID(), 3)
	resp, _ := d.handler.dispatch(req)
	assert.Equal(t, MessageTypeError, resp.Type)
	assert.Equal(t, ErrUnsupportedMessage.Error(), resp.Error)

	d.RegisterHandler(MessageTypeGetChunk, func(_ context.Context, req *Message) *Message {
		r := req.Reply(d.Self())
		r.Payload = []byte("chunk")
		return r
	})
	resp, _ = d.handler.dispatch(req)
	require.Equal(t, MessageTypeGetChunkResponse, resp.Type)
	assert.Equal(t, uint32(3), resp.Index)
	assert.Equal(t, []byte("chunk"), resp.Payload)
}

// TestHandler_HandleStream 测试整帧读写
func TestHandler_HandleStream(t *testing.T) {
	d := newUnstartedDHT(t)
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		d.handler.HandleStream(server)
	}()

	req := NewFindNodeRequest(testSender(), types.RandomNodeID())
	_, err := writeMessage(client, req, d.config.MaxMessageSize)
	require.NoError(t, err)

	resp, _, err := readMessage(client, d.config.MaxMessageSize)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeFindNodeResponse, resp.Type)
	assert.Equal(t, req.RequestID, resp.RequestID)

	<-done
}

// TestReadMessage_TooLarge 测试超长帧
func TestReadMessage_TooLarge(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = writeMessage(client, NewStoreRequest(testSender(), types.RandomNodeID(), make([]byte, 1024), time.Hour), 1<<20)
	}()
	_, _, err := readMessage(server, 128)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}
