package metrics

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRateMeter 测试滑动窗口速率
func TestRateMeter(t *testing.T) {
	clk := clock.NewMock()
	r := NewRateMeter(clk)

	r.Add(600)
	assert.Equal(t, int64(600), r.Window())
	assert.InDelta(t, 10.0, r.Rate(), 0.001)

	clk.Add(30 * time.Second)
	r.Add(600)
	assert.Equal(t, int64(1200), r.Window())

	// 第一笔滑出窗口
	clk.Add(31 * time.Second)
	assert.Equal(t, int64(600), r.Window())

	clk.Add(2 * time.Minute)
	assert.Equal(t, int64(0), r.Window())
}

// TestBandwidthCounter 测试按种类统计
func TestBandwidthCounter(t *testing.T) {
	bw := NewBandwidthCounter(clock.NewMock())
	bw.LogSent("GET_CHUNK", 100)
	bw.LogRecv("GET_CHUNK", 1000)
	bw.LogSent("PING", 10)

	total := bw.Totals()
	assert.Equal(t, int64(110), total.TotalOut)
	assert.Equal(t, int64(1000), total.TotalIn)

	assert.Equal(t, Stats{TotalIn: 1000, TotalOut: 100}, bw.ForKind("GET_CHUNK"))
	assert.Equal(t, []string{"GET_CHUNK", "PING"}, bw.Kinds())
}

// TestMetrics_Collectors 测试 prometheus 导出
func TestMetrics_Collectors(t *testing.T) {
	m := New(clock.NewMock())

	m.ObserveRPC("FIND_NODE", DirOut, OutcomeOK)
	m.ObserveRPC("FIND_NODE", DirOut, OutcomeOK)
	m.ObserveRPC("STORE", DirIn, OutcomeError)
	m.AddChunkBytes(DirIn, 4096)
	m.SetRoutingPeers(7)
	m.IncRateLimited()
	m.LogMessage("PING", DirOut, 33)
	m.ObserveLookup("value", 2*time.Second, true)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}

	assert.Equal(t, 2.0, counterValue(byName["firestrike_rpc_total"], "type", "FIND_NODE"))
	assert.Equal(t, 4096.0, counterValue(byName["firestrike_chunk_bytes_total"], "direction", DirIn))
	assert.Equal(t, 33.0, counterValue(byName["firestrike_bandwidth_bytes_total"], "direction", DirOut))
	assert.Equal(t, 1.0, byName["firestrike_rpc_rate_limited_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 7.0, byName["firestrike_routing_table_peers"].GetMetric()[0].GetGauge().GetValue())
	require.Contains(t, byName, "firestrike_lookup_duration_seconds")
}

// counterValue 返回带指定标签的计数器值
func counterValue(f *dto.MetricFamily, label, value string) float64 {
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

// TestMetrics_Nil 测试 nil 接收者安全
func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRPC("PING", DirOut, OutcomeOK)
		m.ObserveLookup("node", time.Second, false)
		m.LogMessage("PING", DirIn, 1)
		m.AddChunkBytes(DirOut, 1)
		m.SetRoutingPeers(1)
		m.SetStoredRecords(1)
		m.IncRateLimited()
	})
	assert.Nil(t, m.Registry())
	assert.Nil(t, m.Bandwidth())
}
