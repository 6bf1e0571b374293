package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-firestrike/pkg/types"
)

func testSender() types.PeerRecord {
	return types.PeerRecord{ID: types.RandomNodeID(), Addr: "sender.onion:8789"}
}

// TestMessage_FindValueResponse 测试带全部字段的响应编解码
func TestMessage_FindValueResponse(t *testing.T) {
	sender := testSender()
	req := NewFindValueRequest(sender, types.RandomNodeID())

	resp := req.Reply(sender)
	resp.Found = true
	resp.Value = []byte("value")
	resp.TTL = 90*time.Minute + 500*time.Millisecond
	resp.CloserPeers = []types.PeerRecord{
		{ID: types.RandomNodeID(), Addr: "a.onion:1"},
		{ID: types.RandomNodeID(), Addr: "b.onion:2"},
	}
	resp.Providers = []ProviderInfo{{ID: types.RandomNodeID(), Addr: "p.onion:3", TTL: time.Hour}}

	got, err := UnmarshalMessage(resp.Marshal())
	require.NoError(t, err)

	assert.Equal(t, uint32(ProtocolVersion), got.Version)
	assert.Equal(t, MessageTypeFindValueResponse, got.Type)
	assert.Equal(t, req.RequestID, got.RequestID)
	assert.Equal(t, sender.ID, got.Sender.ID)
	assert.Equal(t, sender.Addr, got.Sender.Addr)
	assert.Equal(t, req.Key, got.Key)
	assert.True(t, got.Found)
	assert.Equal(t, []byte("value"), got.Value)
	assert.Equal(t, 90*time.Minute+time.Second, got.TTL, "TTL 向上取整到秒")
	assert.Equal(t, resp.CloserPeers, got.CloserPeers)
	assert.Equal(t, resp.Providers, got.Providers)
}

// TestMessage_Requests 测试各请求构造
func TestMessage_Requests(t *testing.T) {
	sender := testSender()
	key := types.RandomNodeID()

	cases := []struct {
		msg  *Message
		want MessageType
	}{
		{NewPingRequest(sender), MessageTypePing},
		{NewFindNodeRequest(sender, key), MessageTypeFindNode},
		{NewStoreRequest(sender, key, []byte("v"), time.Hour), MessageTypeStore},
		{NewAddProviderRequest(sender, key, ProviderInfo{ID: sender.ID, Addr: sender.Addr, TTL: time.Hour}), MessageTypeStore},
		{NewGetChunkRequest(sender, key, 7), MessageTypeGetChunk},
		{NewGetDescriptorRequest(sender, key), MessageTypeGetDescriptor},
	}
	for _, tc := range cases {
		t.Run(tc.want.String(), func(t *testing.T) {
			got, err := UnmarshalMessage(tc.msg.Marshal())
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Type)
			assert.Equal(t, tc.msg.RequestID, got.RequestID)
			assert.Equal(t, tc.msg.Kind, got.Kind)
			assert.Equal(t, tc.msg.Index, got.Index)
			assert.Equal(t, tc.want.ResponseType(), tc.msg.Reply(sender).Type)
		})
	}
}

// TestMessage_UnknownFieldsSkipped 测试未知字段与未知类型
func TestMessage_UnknownFieldsSkipped(t *testing.T) {
	msg := NewPingRequest(testSender())
	b := msg.Marshal()

	// 追加新版本才有的字段
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	b = protowire.AppendTag(b, 100, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 42)
	b = protowire.AppendTag(b, 101, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	got, err := UnmarshalMessage(b)
	require.NoError(t, err)
	assert.Equal(t, MessageTypePing, got.Type)
	assert.Equal(t, msg.RequestID, got.RequestID)

	future := &Message{Type: MessageType(42), RequestID: msg.RequestID}
	got, err = UnmarshalMessage(future.Marshal())
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", got.Type.String())
	assert.Equal(t, MessageTypeError, got.Type.ResponseType())
}

// TestMessage_Malformed 测试损坏输入
func TestMessage_Malformed(t *testing.T) {
	b := NewFindNodeRequest(testSender(), types.RandomNodeID()).Marshal()

	_, err := UnmarshalMessage(b[:len(b)-3])
	assert.ErrorIs(t, err, ErrInvalidMessage)

	// 长度错误的键
	var bad []byte
	bad = protowire.AppendTag(bad, fieldKey, protowire.BytesType)
	bad = protowire.AppendBytes(bad, []byte{1, 2, 3})
	_, err = UnmarshalMessage(bad)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

// TestMessage_ErrorReply 测试错误响应
func TestMessage_ErrorReply(t *testing.T) {
	sender := testSender()
	req := NewGetChunkRequest(sender, types.RandomNodeID(), 3)
	got, err := UnmarshalMessage(req.ErrorReply(sender, "chunk not found").Marshal())
	require.NoError(t, err)
	assert.Equal(t, MessageTypeError, got.Type)
	assert.Equal(t, "chunk not found", got.Error)
	assert.Equal(t, uint32(3), got.Index)
}
