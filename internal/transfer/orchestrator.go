package transfer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-firestrike/internal/content"
	"github.com/dep2p/go-firestrike/internal/core/crypto"
	"github.com/dep2p/go-firestrike/internal/core/metrics"
	"github.com/dep2p/go-firestrike/internal/discovery/dht"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
	"github.com/dep2p/go-firestrike/pkg/types"
)

var logger = log.Logger("transfer")

// descriptorOverhead 描述与分块响应之外的帧开销上限
const descriptorOverhead = 4096

// PublishResult 发布结果
type PublishResult struct {
	// Locator 磁力定位符，包含密钥
	Locator types.MagnetLocator

	// Magnet 定位符的文本形式，可直接交给 Fetch
	Magnet string

	// Descriptor 内容描述
	Descriptor *types.ContentDescriptor

	// Acks 远端确认的 Provider 存储数
	Acks int
}

// Orchestrator 传输编排器
type Orchestrator struct {
	cfg     Config
	dht     *dht.DHT
	store   *content.Store
	engine  *crypto.Engine
	metrics *metrics.Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	wg      sync.WaitGroup
}

// New 创建编排器
func New(cfg Config, d *dht.DHT, store *content.Store, m *metrics.Metrics) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d == nil || store == nil {
		return nil, fmt.Errorf("transfer: dht and content store are required")
	}
	sealed := store.Config().SealedChunkSize()
	if max := d.Config().MaxMessageSize; sealed+descriptorOverhead > max {
		return nil, fmt.Errorf("transfer: sealed chunk size %d exceeds message limit %d", sealed, max)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		dht:     d,
		store:   store,
		engine:  crypto.NewEngine(store.Config().ChunkSize),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start 注册分块服务并启动重新宣告循环
func (o *Orchestrator) Start(_ context.Context) error {
	if o.started.Swap(true) {
		return nil
	}
	o.dht.RegisterHandler(dht.MessageTypeGetDescriptor, o.handleGetDescriptor)
	o.dht.RegisterHandler(dht.MessageTypeGetChunk, o.handleGetChunk)

	o.wg.Add(1)
	go o.reannounceLoop()
	logger.Info("传输编排器已启动", "chunkSize", o.engine.SegmentSize())
	return nil
}

// Stop 停止后台循环
func (o *Orchestrator) Stop(_ context.Context) error {
	o.cancel()
	o.wg.Wait()
	return nil
}

// ============================================================================
//                              发布
// ============================================================================

// Publish 发布文件
//
// temp 为真时在发布成功后删除源文件。确认不足时返回结果与
// ErrInsufficientFanout，此时源文件保留。
func (o *Orchestrator) Publish(ctx context.Context, path string, temp bool) (*PublishResult, error) {
	plain, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transfer: read %s: %w", path, err)
	}
	res, err := o.PublishBytes(ctx, plain)
	if err != nil {
		// 结果非空时内容已保存在本地，定位符必须交还调用方
		return res, err
	}
	if temp {
		if err := os.Remove(path); err != nil {
			logger.Warn("删除临时源文件失败", "path", path, "error", err)
		}
	}
	return res, nil
}

// PublishBytes 发布内存中的内容
func (o *Orchestrator) PublishBytes(ctx context.Context, plain []byte) (*PublishResult, error) {
	if !o.started.Load() {
		return nil, ErrNotStarted
	}
	start := time.Now()

	ciphertext, key, iv, err := o.engine.EncryptFile(plain, nil)
	if err != nil {
		return nil, err
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	desc, chunks, err := content.NewDescriptor(int64(len(plain)), o.engine.SegmentSize(), ciphertext, salt, iv)
	if err != nil {
		return nil, err
	}
	if err := o.store.Put(desc, chunks); err != nil {
		return nil, fmt.Errorf("transfer: persist %s: %w", desc.Hash.ShortString(), err)
	}

	acks, err := o.dht.Provide(ctx, desc.Hash.Key())
	if err != nil {
		return nil, fmt.Errorf("transfer: announce %s: %w", desc.Hash.ShortString(), err)
	}

	res := &PublishResult{
		Locator:    types.MagnetLocator{Hash: desc.Hash, Key: key},
		Magnet:     crypto.EncodeLocator(desc.Hash, key),
		Descriptor: desc,
		Acks:       acks,
	}
	// 本地内容保留，重新宣告循环会继续尝试
	if acks < o.cfg.MinFanout {
		return res, fmt.Errorf("%w: %d of %d", ErrInsufficientFanout, acks, o.cfg.MinFanout)
	}

	logger.Info("发布完成",
		"hash", desc.Hash.ShortString(),
		"size", desc.Size,
		"chunks", desc.ChunkCount(),
		"acks", acks,
		"duration", time.Since(start))
	return res, nil
}

// ============================================================================
//                              本地内容管理
// ============================================================================

// List 返回本地保存的内容描述
func (o *Orchestrator) List() ([]*types.ContentDescriptor, error) {
	return o.store.List()
}

// Remove 删除本地内容并停止宣告
func (o *Orchestrator) Remove(hash types.ContentHash) error {
	if err := o.store.Remove(hash); err != nil {
		return err
	}
	return o.dht.StopProviding(hash.Key())
}

// Reannounce 重新宣告全部本地内容，返回成功宣告数
func (o *Orchestrator) Reannounce(ctx context.Context) int {
	descs, err := o.store.List()
	if err != nil {
		logger.Warn("列出本地内容失败", "error", err)
		return 0
	}
	n := 0
	for _, desc := range descs {
		if ctx.Err() != nil {
			break
		}
		if _, err := o.dht.Provide(ctx, desc.Hash.Key()); err != nil {
			logger.Debug("重新宣告失败", "hash", desc.Hash.ShortString(), "error", err)
			continue
		}
		n++
	}
	return n
}

func (o *Orchestrator) reannounceLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.ReannounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := o.Reannounce(o.ctx); n > 0 {
				logger.Debug("已重新宣告本地内容", "count", n)
			}
		case <-o.ctx.Done():
			return
		}
	}
}
