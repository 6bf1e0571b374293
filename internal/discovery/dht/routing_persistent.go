package dht

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/dep2p/go-firestrike/internal/core/storage/kv"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// persistedPeer 持久化的路由节点
//
// 保存 PeerRecord 的全部字段，保存后加载不丢失任何信息。
type persistedPeer struct {
	ID        string `json:"id"`
	Addr      string `json:"addr"`
	LastSeen  int64  `json:"last_seen"` // Unix 纳秒
	RTT       int64  `json:"rtt"`       // 纳秒
	FailCount int    `json:"fail_count"`
}

// routingKey 生成路由表存储键
func routingKey(id types.NodeID) []byte {
	return []byte(hex.EncodeToString(id[:]))
}

// SaveRoutingTable 将路由表快照写入存储（前缀 d/r/）
//
// 旧快照整体替换。
func SaveRoutingTable(store *kv.Store, rt *RoutingTable) error {
	if err := store.DeletePrefix(nil); err != nil {
		return err
	}
	peers := rt.AllPeers()
	if len(peers) == 0 {
		return nil
	}

	batch := store.NewBatch()
	for _, p := range peers {
		if err := batch.PutJSON(routingKey(p.ID), &persistedPeer{
			ID:        hex.EncodeToString(p.ID[:]),
			Addr:      string(p.Addr),
			LastSeen:  p.LastSeen.UnixNano(),
			RTT:       int64(p.RTT),
			FailCount: p.FailCount,
		}); err != nil {
			return err
		}
	}
	return batch.Write()
}

// LoadRoutingTable 从存储加载路由表快照，返回加载数量
//
// 损坏的条目被跳过。
func LoadRoutingTable(store *kv.Store, rt *RoutingTable) (int, error) {
	loaded := 0
	err := store.PrefixScan(nil, func(_, value []byte) bool {
		var p persistedPeer
		if err := json.Unmarshal(value, &p); err != nil {
			return true
		}
		raw, err := hex.DecodeString(p.ID)
		if err != nil {
			return true
		}
		id, err := types.NodeIDFromBytes(raw)
		if err != nil {
			return true
		}
		if rt.Add(types.PeerRecord{
			ID:        id,
			Addr:      types.RendezvousAddr(p.Addr),
			LastSeen:  time.Unix(0, p.LastSeen),
			RTT:       time.Duration(p.RTT),
			FailCount: p.FailCount,
		}) {
			loaded++
		}
		return true
	})
	return loaded, err
}
