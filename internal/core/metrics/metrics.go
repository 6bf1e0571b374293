// Package metrics 提供带宽计数与 prometheus 指标
//
// 指标注册在私有 Registry 上，不暴露 HTTP 端点；调用方可自行
// 用 promhttp 挂载或通过 Gather 导出。
//
// 所有方法对 nil *Metrics 安全，未启用指标的组件可直接传 nil。
package metrics

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "firestrike"

// RPC 结果标签
const (
	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// 方向标签
const (
	DirOut = "out"
	DirIn  = "in"
)

// Metrics 节点指标集合
type Metrics struct {
	registry  *prometheus.Registry
	bandwidth *BandwidthCounter

	rpcs           *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
	chunkBytes     *prometheus.CounterVec
	routingPeers   prometheus.Gauge
	storedRecords  prometheus.Gauge
	rateLimited    prometheus.Counter
}

// New 创建指标集合
func New(clk clock.Clock) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	bw := NewBandwidthCounter(clk)

	m := &Metrics{
		registry:  reg,
		bandwidth: bw,
		rpcs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_total",
			Help:      "DHT RPCs by message type, direction and outcome.",
		}, []string{"type", "direction", "outcome"}),
		lookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Iterative lookup duration.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"kind", "outcome"}),
		chunkBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Chunk ciphertext bytes transferred.",
		}, []string{"direction"}),
		routingPeers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routing_table_peers",
			Help:      "Peers currently in the routing table.",
		}),
		storedRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dht_records",
			Help:      "DHT records held locally.",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_rate_limited_total",
			Help:      "Inbound RPCs rejected by the per-sender rate limiter.",
		}),
	}
	reg.MustRegister(&bandwidthCollector{bw: bw})
	return m
}

// Registry 返回私有注册表
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Bandwidth 返回带宽计数器
func (m *Metrics) Bandwidth() *BandwidthCounter {
	if m == nil {
		return nil
	}
	return m.bandwidth
}

// ObserveRPC 记录一次 RPC
func (m *Metrics) ObserveRPC(kind, direction, outcome string) {
	if m == nil {
		return
	}
	m.rpcs.WithLabelValues(kind, direction, outcome).Inc()
}

// ObserveLookup 记录一次迭代查找
func (m *Metrics) ObserveLookup(kind string, d time.Duration, found bool) {
	if m == nil {
		return
	}
	outcome := "found"
	if !found {
		outcome = "exhausted"
	}
	m.lookupDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// LogMessage 记录一条线路消息的字节数
func (m *Metrics) LogMessage(kind, direction string, size int) {
	if m == nil {
		return
	}
	if direction == DirOut {
		m.bandwidth.LogSent(kind, int64(size))
	} else {
		m.bandwidth.LogRecv(kind, int64(size))
	}
}

// AddChunkBytes 记录分块传输字节
func (m *Metrics) AddChunkBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.chunkBytes.WithLabelValues(direction).Add(float64(n))
}

// SetRoutingPeers 设置路由表规模
func (m *Metrics) SetRoutingPeers(n int) {
	if m == nil {
		return
	}
	m.routingPeers.Set(float64(n))
}

// SetStoredRecords 设置本地记录数
func (m *Metrics) SetStoredRecords(n int) {
	if m == nil {
		return
	}
	m.storedRecords.Set(float64(n))
}

// IncRateLimited 记录一次限流拒绝
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// bandwidthCollector 将带宽计数器导出为 prometheus 指标
type bandwidthCollector struct {
	bw *BandwidthCounter
}

var bandwidthDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "", "bandwidth_bytes_total"),
	"Wire bytes by message kind and direction.",
	[]string{"kind", "direction"}, nil,
)

func (c *bandwidthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- bandwidthDesc
}

func (c *bandwidthCollector) Collect(ch chan<- prometheus.Metric) {
	for _, kind := range c.bw.Kinds() {
		s := c.bw.ForKind(kind)
		ch <- prometheus.MustNewConstMetric(bandwidthDesc, prometheus.CounterValue, float64(s.TotalIn), kind, DirIn)
		ch <- prometheus.MustNewConstMetric(bandwidthDesc, prometheus.CounterValue, float64(s.TotalOut), kind, DirOut)
	}
}
