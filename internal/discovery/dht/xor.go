package dht

import (
	"math/bits"

	"github.com/dep2p/go-firestrike/pkg/types"
)

// IDBits NodeID 位数，也是路由表最多可能的桶数
const IDBits = types.IDLength * 8

// XORDistance 计算两个 NodeID 的 XOR 距离
// 返回距离的字节表示（大端序）
func XORDistance(a, b types.NodeID) types.NodeID {
	var d types.NodeID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CompareDistance 比较 a 和 b 到 target 的距离
// 返回：
//
//	-1 如果 dist(a, target) < dist(b, target)
//	 0 如果 dist(a, target) == dist(b, target)
//	 1 如果 dist(a, target) > dist(b, target)
func CompareDistance(a, b, target types.NodeID) int {
	for i := 0; i < types.IDLength; i++ {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da < db {
			return -1
		}
		if da > db {
			return 1
		}
	}
	return 0
}

// CommonPrefixLen 计算两个 NodeID 的共同前缀长度（按位计数）
func CommonPrefixLen(a, b types.NodeID) int {
	for i := 0; i < types.IDLength; i++ {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return IDBits
}

// RandomIDWithPrefix 生成与 local 共同前缀长度恰好为 cpl 的随机 ID
//
// 用于桶刷新：对桶覆盖区间内的随机 ID 做一次节点查找。
func RandomIDWithPrefix(local types.NodeID, cpl int) types.NodeID {
	if cpl >= IDBits {
		return local
	}
	id := types.RandomNodeID()
	byteIdx, bitIdx := cpl/8, uint(cpl%8)

	// 前 cpl 位与 local 相同
	copy(id[:byteIdx], local[:byteIdx])
	keep := byte(0xFF) << (8 - bitIdx)
	flip := byte(0x80) >> bitIdx
	id[byteIdx] = (local[byteIdx] & keep) | (id[byteIdx] &^ keep)
	// 第 cpl 位与 local 相反
	id[byteIdx] = (id[byteIdx] &^ flip) | (^local[byteIdx] & flip)
	return id
}
