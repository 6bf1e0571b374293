package dht

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-firestrike/pkg/types"
)

// ============================================================================
//                              协议定义
// ============================================================================

// ProtocolVersion 线格式版本
//
// 解码时跳过未知字段，新增字段和消息类型不破坏旧节点。
const ProtocolVersion = 1

// ============================================================================
//                              消息类型
// ============================================================================

// MessageType 消息类型
type MessageType uint8

const (
	// MessageTypePing PING 请求
	MessageTypePing MessageType = iota + 1
	// MessageTypePingResponse PING 响应
	MessageTypePingResponse

	// MessageTypeFindNode FIND_NODE 请求
	MessageTypeFindNode
	// MessageTypeFindNodeResponse FIND_NODE 响应
	MessageTypeFindNodeResponse

	// MessageTypeFindValue FIND_VALUE 请求
	MessageTypeFindValue
	// MessageTypeFindValueResponse FIND_VALUE 响应
	MessageTypeFindValueResponse

	// MessageTypeStore STORE 请求
	MessageTypeStore
	// MessageTypeStoreResponse STORE 响应
	MessageTypeStoreResponse

	// MessageTypeGetChunk GET_CHUNK 请求
	MessageTypeGetChunk
	// MessageTypeGetChunkResponse GET_CHUNK 响应
	MessageTypeGetChunkResponse

	// MessageTypeGetDescriptor GET_DESCRIPTOR 请求
	MessageTypeGetDescriptor
	// MessageTypeGetDescriptorResponse GET_DESCRIPTOR 响应
	MessageTypeGetDescriptorResponse

	// MessageTypeError 错误响应，可回复任意请求
	MessageTypeError MessageType = 0x7F
)

// String 返回消息类型的字符串表示
func (m MessageType) String() string {
	switch m {
	case MessageTypePing:
		return "PING"
	case MessageTypePingResponse:
		return "PING_RESPONSE"
	case MessageTypeFindNode:
		return "FIND_NODE"
	case MessageTypeFindNodeResponse:
		return "FIND_NODE_RESPONSE"
	case MessageTypeFindValue:
		return "FIND_VALUE"
	case MessageTypeFindValueResponse:
		return "FIND_VALUE_RESPONSE"
	case MessageTypeStore:
		return "STORE"
	case MessageTypeStoreResponse:
		return "STORE_RESPONSE"
	case MessageTypeGetChunk:
		return "GET_CHUNK"
	case MessageTypeGetChunkResponse:
		return "GET_CHUNK_RESPONSE"
	case MessageTypeGetDescriptor:
		return "GET_DESCRIPTOR"
	case MessageTypeGetDescriptorResponse:
		return "GET_DESCRIPTOR_RESPONSE"
	case MessageTypeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ResponseType 返回请求类型对应的响应类型
func (m MessageType) ResponseType() MessageType {
	switch m {
	case MessageTypePing, MessageTypeFindNode, MessageTypeFindValue,
		MessageTypeStore, MessageTypeGetChunk, MessageTypeGetDescriptor:
		return m + 1
	default:
		return MessageTypeError
	}
}

// RecordKind STORE 记录类别
type RecordKind uint8

const (
	// RecordValue 普通值，后写者胜
	RecordValue RecordKind = iota
	// RecordProvider Provider 公告，按提供者合并
	RecordProvider
)

// ============================================================================
//                              消息结构
// ============================================================================

// ProviderInfo 线上的 Provider 条目
//
// TTL 为剩余存活时间，接收方据本地时钟换算过期时间。
type ProviderInfo struct {
	ID   types.NodeID
	Addr types.RendezvousAddr
	TTL  time.Duration
}

// Message DHT 消息
type Message struct {
	// Version 线格式版本
	Version uint32

	// Type 消息类型
	Type MessageType

	// RequestID 请求 ID（用于匹配请求和响应）
	RequestID uuid.UUID

	// Sender 发送者 ID 与汇合地址
	Sender types.PeerRecord

	// Key FIND_NODE 目标 / 记录键 / 内容键
	Key types.NodeID

	// Value 记录值（STORE、FIND_VALUE 响应）
	Value []byte

	// TTL 记录存活时间，线上以秒传输
	TTL time.Duration

	// Kind 记录类别
	Kind RecordKind

	// CloserPeers 更近的节点
	CloserPeers []types.PeerRecord

	// Providers Provider 列表
	Providers []ProviderInfo

	// Found FIND_VALUE 是否命中
	Found bool

	// Index 分块序号
	Index uint32

	// Payload 分块或内容描述的原始字节
	Payload []byte

	// Error 错误信息（仅 ERROR 响应）
	Error string
}

// 字段号
const (
	fieldVersion   protowire.Number = 1
	fieldType      protowire.Number = 2
	fieldRequestID protowire.Number = 3
	fieldSender    protowire.Number = 4
	fieldKey       protowire.Number = 5
	fieldValue     protowire.Number = 6
	fieldTTL       protowire.Number = 7
	fieldKind      protowire.Number = 8
	fieldCloser    protowire.Number = 9
	fieldProviders protowire.Number = 10
	fieldFound     protowire.Number = 11
	fieldIndex     protowire.Number = 12
	fieldPayload   protowire.Number = 13
	fieldError     protowire.Number = 14

	// 嵌套 peer / provider
	fieldPeerID   protowire.Number = 1
	fieldPeerAddr protowire.Number = 2
	fieldPeerTTL  protowire.Number = 3
)

// newRequest 创建请求消息
func newRequest(t MessageType, sender types.PeerRecord) *Message {
	return &Message{
		Version:   ProtocolVersion,
		Type:      t,
		RequestID: uuid.New(),
		Sender:    types.PeerRecord{ID: sender.ID, Addr: sender.Addr},
	}
}

// NewPingRequest 创建 PING 请求
func NewPingRequest(sender types.PeerRecord) *Message {
	return newRequest(MessageTypePing, sender)
}

// NewFindNodeRequest 创建 FIND_NODE 请求
func NewFindNodeRequest(sender types.PeerRecord, target types.NodeID) *Message {
	m := newRequest(MessageTypeFindNode, sender)
	m.Key = target
	return m
}

// NewFindValueRequest 创建 FIND_VALUE 请求
func NewFindValueRequest(sender types.PeerRecord, key types.NodeID) *Message {
	m := newRequest(MessageTypeFindValue, sender)
	m.Key = key
	return m
}

// NewStoreRequest 创建存储普通值的 STORE 请求
func NewStoreRequest(sender types.PeerRecord, key types.NodeID, value []byte, ttl time.Duration) *Message {
	m := newRequest(MessageTypeStore, sender)
	m.Key = key
	m.Kind = RecordValue
	m.Value = value
	m.TTL = ttl
	return m
}

// NewAddProviderRequest 创建 Provider 公告的 STORE 请求
func NewAddProviderRequest(sender types.PeerRecord, key types.NodeID, providers ...ProviderInfo) *Message {
	m := newRequest(MessageTypeStore, sender)
	m.Key = key
	m.Kind = RecordProvider
	m.Providers = providers
	return m
}

// NewGetChunkRequest 创建 GET_CHUNK 请求
func NewGetChunkRequest(sender types.PeerRecord, key types.NodeID, index uint32) *Message {
	m := newRequest(MessageTypeGetChunk, sender)
	m.Key = key
	m.Index = index
	return m
}

// NewGetDescriptorRequest 创建 GET_DESCRIPTOR 请求
func NewGetDescriptorRequest(sender types.PeerRecord, key types.NodeID) *Message {
	m := newRequest(MessageTypeGetDescriptor, sender)
	m.Key = key
	return m
}

// Reply 创建对本请求的响应
func (m *Message) Reply(sender types.PeerRecord) *Message {
	return &Message{
		Version:   ProtocolVersion,
		Type:      m.Type.ResponseType(),
		RequestID: m.RequestID,
		Sender:    types.PeerRecord{ID: sender.ID, Addr: sender.Addr},
		Key:       m.Key,
		Index:     m.Index,
	}
}

// ErrorReply 创建错误响应
func (m *Message) ErrorReply(sender types.PeerRecord, errMsg string) *Message {
	r := m.Reply(sender)
	r.Type = MessageTypeError
	r.Error = errMsg
	return r
}

// ============================================================================
//                              编解码
// ============================================================================

// Marshal 编码为 protobuf 线格式
func (m *Message) Marshal() []byte {
	b := make([]byte, 0, 128+len(m.Value)+len(m.Payload))

	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Version))
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	b = protowire.AppendTag(b, fieldRequestID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.RequestID[:])

	if !m.Sender.ID.IsEmpty() {
		b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalPeer(m.Sender))
	}
	if !m.Key.IsEmpty() {
		b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Key[:])
	}
	if len(m.Value) > 0 {
		b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Value)
	}
	if m.TTL > 0 {
		b = protowire.AppendTag(b, fieldTTL, protowire.VarintType)
		b = protowire.AppendVarint(b, ttlSeconds(m.TTL))
	}
	if m.Kind != RecordValue {
		b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Kind))
	}
	for _, p := range m.CloserPeers {
		b = protowire.AppendTag(b, fieldCloser, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalPeer(p))
	}
	for _, p := range m.Providers {
		b = protowire.AppendTag(b, fieldProviders, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalProvider(p))
	}
	if m.Found {
		b = protowire.AppendTag(b, fieldFound, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if m.Index > 0 {
		b = protowire.AppendTag(b, fieldIndex, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Index))
	}
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	if m.Error != "" {
		b = protowire.AppendTag(b, fieldError, protowire.BytesType)
		b = protowire.AppendString(b, m.Error)
	}
	return b
}

// ttlSeconds 将 TTL 向上取整到秒
func ttlSeconds(d time.Duration) uint64 {
	return uint64((d + time.Second - 1) / time.Second)
}

func marshalPeer(p types.PeerRecord) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPeerID, protowire.BytesType)
	b = protowire.AppendBytes(b, p.ID[:])
	b = protowire.AppendTag(b, fieldPeerAddr, protowire.BytesType)
	b = protowire.AppendString(b, string(p.Addr))
	return b
}

func marshalProvider(p ProviderInfo) []byte {
	b := marshalPeer(types.PeerRecord{ID: p.ID, Addr: p.Addr})
	b = protowire.AppendTag(b, fieldPeerTTL, protowire.VarintType)
	b = protowire.AppendVarint(b, ttlSeconds(p.TTL))
	return b
}

// UnmarshalMessage 解码消息
//
// 未知字段以及线类型不符的字段被跳过。
func UnmarshalMessage(b []byte) (*Message, error) {
	m := &Message{}
	err := walkFields(b, messageFieldTypes, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldVersion:
			m.Version = uint32(n)
		case fieldType:
			m.Type = MessageType(n)
		case fieldRequestID:
			id, err := uuid.FromBytes(v)
			if err != nil {
				return fmt.Errorf("request id: %w", err)
			}
			m.RequestID = id
		case fieldSender:
			p, err := unmarshalPeer(v)
			if err != nil {
				return fmt.Errorf("sender: %w", err)
			}
			m.Sender = p
		case fieldKey:
			id, err := types.NodeIDFromBytes(v)
			if err != nil {
				return fmt.Errorf("key: %w", err)
			}
			m.Key = id
		case fieldValue:
			m.Value = append([]byte(nil), v...)
		case fieldTTL:
			m.TTL = time.Duration(n) * time.Second
		case fieldKind:
			m.Kind = RecordKind(n)
		case fieldCloser:
			p, err := unmarshalPeer(v)
			if err != nil {
				return fmt.Errorf("closer peer: %w", err)
			}
			m.CloserPeers = append(m.CloserPeers, p)
		case fieldProviders:
			p, err := unmarshalProvider(v)
			if err != nil {
				return fmt.Errorf("provider: %w", err)
			}
			m.Providers = append(m.Providers, p)
		case fieldFound:
			m.Found = n != 0
		case fieldIndex:
			m.Index = uint32(n)
		case fieldPayload:
			m.Payload = append([]byte(nil), v...)
		case fieldError:
			m.Error = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, nil
}

func unmarshalPeer(b []byte) (types.PeerRecord, error) {
	p, _, err := unmarshalPeerTTL(b)
	return p, err
}

func unmarshalProvider(b []byte) (ProviderInfo, error) {
	p, ttl, err := unmarshalPeerTTL(b)
	if err != nil {
		return ProviderInfo{}, err
	}
	return ProviderInfo{ID: p.ID, Addr: p.Addr, TTL: ttl}, nil
}

func unmarshalPeerTTL(b []byte) (types.PeerRecord, time.Duration, error) {
	var (
		p   types.PeerRecord
		ttl time.Duration
	)
	err := walkFields(b, peerFieldTypes, func(num protowire.Number, _ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldPeerID:
			id, err := types.NodeIDFromBytes(v)
			if err != nil {
				return err
			}
			p.ID = id
		case fieldPeerAddr:
			p.Addr = types.RendezvousAddr(v)
		case fieldPeerTTL:
			ttl = time.Duration(n) * time.Second
		}
		return nil
	})
	if err != nil {
		return p, 0, err
	}
	if p.ID.IsEmpty() || p.Addr.IsEmpty() {
		return p, 0, fmt.Errorf("peer missing id or address")
	}
	return p, ttl, nil
}

// 各已知字段的期望线类型
var messageFieldTypes = map[protowire.Number]protowire.Type{
	fieldVersion:   protowire.VarintType,
	fieldType:      protowire.VarintType,
	fieldRequestID: protowire.BytesType,
	fieldSender:    protowire.BytesType,
	fieldKey:       protowire.BytesType,
	fieldValue:     protowire.BytesType,
	fieldTTL:       protowire.VarintType,
	fieldKind:      protowire.VarintType,
	fieldCloser:    protowire.BytesType,
	fieldProviders: protowire.BytesType,
	fieldFound:     protowire.VarintType,
	fieldIndex:     protowire.VarintType,
	fieldPayload:   protowire.BytesType,
	fieldError:     protowire.BytesType,
}

var peerFieldTypes = map[protowire.Number]protowire.Type{
	fieldPeerID:   protowire.BytesType,
	fieldPeerAddr: protowire.BytesType,
	fieldPeerTTL:  protowire.VarintType,
}

// walkFields 遍历字段
//
// 只把 varint 与 bytes 字段交给 fn，其余线类型跳过。
func walkFields(b []byte, fieldTypes map[protowire.Number]protowire.Type, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return protowire.ParseError(tagLen)
		}
		b = b[tagLen:]

		switch typ {
		case protowire.VarintType:
			n, l := protowire.ConsumeVarint(b)
			if l < 0 {
				return protowire.ParseError(l)
			}
			b = b[l:]
			if want, ok := fieldTypes[num]; ok && want != typ {
				continue
			}
			if err := fn(num, typ, nil, n); err != nil {
				return err
			}
		case protowire.BytesType:
			v, l := protowire.ConsumeBytes(b)
			if l < 0 {
				return protowire.ParseError(l)
			}
			b = b[l:]
			if want, ok := fieldTypes[num]; ok && want != typ {
				continue
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
		default:
			l := protowire.ConsumeFieldValue(num, typ, b)
			if l < 0 {
				return protowire.ParseError(l)
			}
			b = b[l:]
		}
	}
	return nil
}
