package metrics

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

// BandwidthCounter 带宽计数器
//
// 按消息种类（PING、GET_CHUNK 等）分别统计收发字节。
// 使用原子操作实现并发安全的计数器。
type BandwidthCounter struct {
	clk clock.Clock

	totalIn  atomic.Int64
	totalOut atomic.Int64
	inRate   *RateMeter
	outRate  *RateMeter

	kindMu  sync.RWMutex
	kindIn  map[string]*atomic.Int64
	kindOut map[string]*atomic.Int64
}

// NewBandwidthCounter 创建带宽计数器
func NewBandwidthCounter(clk clock.Clock) *BandwidthCounter {
	if clk == nil {
		clk = clock.New()
	}
	return &BandwidthCounter{
		clk:     clk,
		inRate:  NewRateMeter(clk),
		outRate: NewRateMeter(clk),
		kindIn:  make(map[string]*atomic.Int64),
		kindOut: make(map[string]*atomic.Int64),
	}
}

// LogSent 记录发送字节
func (b *BandwidthCounter) LogSent(kind string, size int64) {
	b.totalOut.Add(size)
	b.outRate.Add(size)
	b.counter(b.kindOut, kind).Add(size)
}

// LogRecv 记录接收字节
func (b *BandwidthCounter) LogRecv(kind string, size int64) {
	b.totalIn.Add(size)
	b.inRate.Add(size)
	b.counter(b.kindIn, kind).Add(size)
}

func (b *BandwidthCounter) counter(m map[string]*atomic.Int64, kind string) *atomic.Int64 {
	b.kindMu.RLock()
	c := m[kind]
	b.kindMu.RUnlock()
	if c != nil {
		return c
	}

	b.kindMu.Lock()
	defer b.kindMu.Unlock()
	if c = m[kind]; c == nil {
		c = &atomic.Int64{}
		m[kind] = c
	}
	return c
}

// Totals 返回总带宽统计
func (b *BandwidthCounter) Totals() Stats {
	return Stats{
		TotalIn:  b.totalIn.Load(),
		TotalOut: b.totalOut.Load(),
		RateIn:   b.inRate.Rate(),
		RateOut:  b.outRate.Rate(),
	}
}

// ForKind 返回某种消息的累计字节（不含速率）
func (b *BandwidthCounter) ForKind(kind string) Stats {
	b.kindMu.RLock()
	defer b.kindMu.RUnlock()
	var s Stats
	if c := b.kindIn[kind]; c != nil {
		s.TotalIn = c.Load()
	}
	if c := b.kindOut[kind]; c != nil {
		s.TotalOut = c.Load()
	}
	return s
}

// Kinds 返回出现过的消息种类，按字母序
func (b *BandwidthCounter) Kinds() []string {
	b.kindMu.RLock()
	defer b.kindMu.RUnlock()
	seen := make(map[string]struct{}, len(b.kindIn)+len(b.kindOut))
	for k := range b.kindIn {
		seen[k] = struct{}{}
	}
	for k := range b.kindOut {
		seen[k] = struct{}{}
	}
	kinds := make([]string, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
