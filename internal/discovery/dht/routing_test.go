package dht

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-firestrike/internal/core/storage"
	"github.com/dep2p/go-firestrike/internal/core/storage/kv"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// peerAt 构造测试用对端记录
func peerAt(prefix ...byte) types.PeerRecord {
	id := idFromPrefix(prefix...)
	return types.PeerRecord{ID: id, Addr: types.RendezvousAddr("peer-" + id.ShortString() + ":1")}
}

func newTestTable(k int) (*RoutingTable, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewRoutingTable(types.EmptyNodeID, k, 3, clk), clk
}

// TestRoutingTable_AddSelf 测试不添加自己
func TestRoutingTable_AddSelf(t *testing.T) {
	rt, _ := newTestTable(4)
	assert.False(t, rt.Add(types.PeerRecord{ID: rt.LocalID(), Addr: "self:1"}))
	assert.False(t, rt.Add(types.PeerRecord{ID: idFromPrefix(0x80)}), "没有地址的节点不入表")
	assert.Equal(t, 0, rt.Size())
}

// TestRoutingTable_FullFarBucketDropsNewcomer 测试远端满桶丢弃新节点
func TestRoutingTable_FullFarBucketDropsNewcomer(t *testing.T) {
	rt, _ := newTestTable(4)

	for i := byte(0); i < 4; i++ {
		require.True(t, rt.Add(peerAt(0x80|i)))
	}
	newcomer := peerAt(0x84)
	assert.False(t, rt.Add(newcomer))

	assert.Equal(t, 4, rt.Size())
	_, ok := rt.Find(newcomer.ID)
	assert.False(t, ok, "新节点不应进入路由表")
	for i := byte(0); i < 4; i++ {
		_, ok := rt.Find(idFromPrefix(0x80 | i))
		assert.True(t, ok, "已有节点保留")
	}
	for _, n := range rt.BucketSizes() {
		assert.LessOrEqual(t, n, 4)
	}
}

// TestRoutingTable_SplitLocalBucket 测试覆盖本地 ID 的桶分裂
func TestRoutingTable_SplitLocalBucket(t *testing.T) {
	rt, _ := newTestTable(4)

	// cpl 0, 1, 2 各若干
	for i := byte(0); i < 4; i++ {
		require.True(t, rt.Add(peerAt(0x80|i)))
	}
	for i := byte(0); i < 4; i++ {
		require.True(t, rt.Add(peerAt(0x40|i)))
	}
	require.True(t, rt.Add(peerAt(0x20)))
	require.True(t, rt.Add(peerAt(0x21)))

	assert.Equal(t, 10, rt.Size())
	assert.Equal(t, 3, rt.NumBuckets())
	assert.Equal(t, []int{4, 4, 2}, rt.BucketSizes())
}

// TestRoutingTable_BucketInvariant 测试任意插入后每桶不超过 K
func TestRoutingTable_BucketInvariant(t *testing.T) {
	rt, _ := newTestTable(5)
	for i := 0; i < 500; i++ {
		id := types.RandomNodeID()
		rt.Add(types.PeerRecord{ID: id, Addr: "x:1"})
	}
	total := 0
	for _, n := range rt.BucketSizes() {
		assert.LessOrEqual(t, n, 5)
		total += n
	}
	assert.Equal(t, total, rt.Size())
}

// TestRoutingTable_MarkUnresponsive 测试失败阈值驱逐
func TestRoutingTable_MarkUnresponsive(t *testing.T) {
	rt, _ := newTestTable(4)
	p := peerAt(0x80)
	require.True(t, rt.Add(p))

	assert.False(t, rt.MarkUnresponsive(p.ID))
	assert.False(t, rt.MarkUnresponsive(p.ID))
	rec, ok := rt.Find(p.ID)
	require.True(t, ok)
	assert.Equal(t, 2, rec.FailCount)

	// 刚刚响应过的节点计数清零
	rt.RecordSeen(p.ID, p.Addr, 10*time.Millisecond)
	rec, _ = rt.Find(p.ID)
	assert.Equal(t, 0, rec.FailCount)
	assert.Equal(t, 10*time.Millisecond, rec.RTT)

	assert.False(t, rt.MarkUnresponsive(p.ID))
	assert.False(t, rt.MarkUnresponsive(p.ID))
	assert.True(t, rt.MarkUnresponsive(p.ID))
	_, ok = rt.Find(p.ID)
	assert.False(t, ok)

	assert.False(t, rt.MarkUnresponsive(types.RandomNodeID()), "未知节点")
}

// TestRoutingTable_ReplacementPromotion 测试驱逐后提升替换缓存
func TestRoutingTable_ReplacementPromotion(t *testing.T) {
	rt, _ := newTestTable(2)
	a, b, c := peerAt(0x80), peerAt(0x81), peerAt(0x82)
	require.True(t, rt.Add(a))
	require.True(t, rt.Add(b))
	require.False(t, rt.Add(c))

	for i := 0; i < 3; i++ {
		rt.MarkUnresponsive(a.ID)
	}
	_, ok := rt.Find(c.ID)
	assert.True(t, ok, "替换缓存中的节点被提升")
	assert.Equal(t, 2, rt.Size())
}

// TestRoutingTable_NearestPeers 测试按距离排序
func TestRoutingTable_NearestPeers(t *testing.T) {
	rt, _ := newTestTable(20)
	for _, p := range []byte{0x80, 0x40, 0x20, 0x10, 0x08} {
		rt.Add(peerAt(p))
	}

	nearest := rt.NearestPeers(idFromPrefix(0x41), 3)
	require.Len(t, nearest, 3)
	assert.Equal(t, idFromPrefix(0x40), nearest[0].ID)
	for i := 1; i < len(nearest); i++ {
		assert.Equal(t, -1, CompareDistance(nearest[i-1].ID, nearest[i].ID, idFromPrefix(0x41)))
	}

	all := rt.ListPeers()
	require.Len(t, all, 5)
	assert.Equal(t, idFromPrefix(0x08), all[0].ID, "按与本地 ID 的距离升序")
}

// TestRoutingTable_RemoveExpiredNodes 测试移除过期节点
func TestRoutingTable_RemoveExpiredNodes(t *testing.T) {
	rt, clk := newTestTable(20)
	old := peerAt(0x80)
	rt.Add(old)

	clk.Add(2 * time.Hour)
	fresh := peerAt(0x40)
	rt.Add(fresh)

	assert.Equal(t, 1, rt.RemoveExpiredNodes(time.Hour))
	_, ok := rt.Find(old.ID)
	assert.False(t, ok)
	_, ok = rt.Find(fresh.ID)
	assert.True(t, ok)
}

// TestRoutingTable_BucketsNeedingRefresh 测试桶刷新判定
func TestRoutingTable_BucketsNeedingRefresh(t *testing.T) {
	rt, clk := newTestTable(20)
	assert.Empty(t, rt.BucketsNeedingRefresh(time.Hour))

	clk.Add(2 * time.Hour)
	assert.Equal(t, []int{0}, rt.BucketsNeedingRefresh(time.Hour))

	rt.MarkRefreshed(0)
	assert.Empty(t, rt.BucketsNeedingRefresh(time.Hour))
}

// TestRoutingTable_Persistence 测试快照保存与加载
func TestRoutingTable_Persistence(t *testing.T) {
	eng, err := storage.NewMemory()
	require.NoError(t, err)
	defer eng.Close()
	store := kv.New(eng, []byte("d/r/"))

	rt, clk := newTestTable(20)
	a := peerAt(0x80)
	a.RTT = 1500 * time.Millisecond
	rt.Add(a)
	clk.Add(time.Minute)
	rt.Add(peerAt(0x40))
	rt.MarkUnresponsive(a.ID)

	require.NoError(t, SaveRoutingTable(store, rt))

	restored, _ := newTestTable(20)
	n, err := LoadRoutingTable(store, restored)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, want := range rt.AllPeers() {
		got, ok := restored.Find(want.ID)
		require.True(t, ok)
		assert.Equal(t, want.Addr, got.Addr)
		assert.Equal(t, want.RTT, got.RTT)
		assert.Equal(t, want.FailCount, got.FailCount)
		assert.True(t, want.LastSeen.Equal(got.LastSeen))
	}

	// 再次保存会替换旧快照
	restored.Remove(a.ID)
	require.NoError(t, SaveRoutingTable(store, restored))
	keys, err := store.Keys(nil)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}
