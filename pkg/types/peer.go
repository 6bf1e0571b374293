package types

import (
	"time"
)

// PeerRecord 对端记录
//
// 首次成功联系时创建，每次成功 RPC 后更新；
// 连续超时达到阈值或桶溢出时驱逐。
type PeerRecord struct {
	// ID 节点标识
	ID NodeID `json:"id"`

	// Addr 汇合地址
	Addr RendezvousAddr `json:"addr"`

	// LastSeen 最后一次成功通信时间
	LastSeen time.Time `json:"last_seen"`

	// RTT 往返时延估计
	RTT time.Duration `json:"rtt"`

	// FailCount 连续失败次数
	FailCount int `json:"fail_count"`
}

// Clone 返回副本
func (p *PeerRecord) Clone() *PeerRecord {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// ProviderRecord Provider 公告
//
// 以内容哈希为键存储在 DHT 中，值为提供者的汇合地址。
type ProviderRecord struct {
	// ID 提供者节点标识
	ID NodeID `json:"id"`

	// Addr 提供者汇合地址
	Addr RendezvousAddr `json:"addr"`

	// ExpiresAt 该条目的过期时间
	ExpiresAt time.Time `json:"expires_at"`
}
