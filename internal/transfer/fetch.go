package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-firestrike/internal/content"
	"github.com/dep2p/go-firestrike/internal/core/crypto"
	"github.com/dep2p/go-firestrike/internal/core/metrics"
	"github.com/dep2p/go-firestrike/internal/discovery/dht"
	"github.com/dep2p/go-firestrike/internal/util/fsutil"
	"github.com/dep2p/go-firestrike/pkg/types"
)

// DefaultOutputPath 未指定输出路径时使用的文件名
func DefaultOutputPath(hash types.ContentHash) string {
	return "downloaded_" + hash.String()
}

// Fetch 按定位符拉取内容并写入 outputPath
//
// outputPath 为空时写入当前目录下的 downloaded_<hash>。
// temp 为真时不在本地保留内容，也不做种。返回实际写入的路径。
func (o *Orchestrator) Fetch(ctx context.Context, locator, outputPath string, temp bool) (string, error) {
	loc, err := crypto.DecodeLocator(locator)
	if err != nil {
		return "", err
	}
	plain, err := o.FetchBytes(ctx, loc, temp)
	if err != nil {
		return "", err
	}
	if outputPath == "" {
		outputPath = DefaultOutputPath(loc.Hash)
	}
	if err := fsutil.AtomicWriteFile(outputPath, plain, 0644); err != nil {
		return "", fmt.Errorf("transfer: write %s: %w", outputPath, err)
	}
	abs, err := filepath.Abs(outputPath)
	if err != nil {
		abs = outputPath
	}
	return abs, nil
}

// FetchBytes 拉取并解密内容
func (o *Orchestrator) FetchBytes(ctx context.Context, loc types.MagnetLocator, temp bool) ([]byte, error) {
	if !o.started.Load() {
		return nil, ErrNotStarted
	}
	start := time.Now()
	hash := loc.Hash

	// 本地已有时直接解密
	if desc, ciphertext, err := o.store.ReadAll(hash); err == nil {
		return decrypt(desc, ciphertext, loc.Key)
	} else if !errors.Is(err, types.ErrNotFound) {
		logger.Warn("本地内容不可读，改从网络拉取", "hash", hash.ShortString(), "error", err)
	}

	providers, err := o.dht.FindProviders(ctx, hash.Key())
	if err != nil {
		return nil, err
	}

	desc, err := o.fetchDescriptor(ctx, hash, providers)
	if err != nil {
		return nil, err
	}

	chunks, err := o.fetchChunks(ctx, desc, providers)
	if err != nil {
		return nil, err
	}

	ciphertext, err := content.Assemble(desc, chunks)
	if err != nil {
		return nil, err
	}
	plain, err := decrypt(desc, ciphertext, loc.Key)
	if err != nil {
		return nil, err
	}

	logger.Info("拉取完成",
		"hash", hash.ShortString(),
		"size", desc.Size,
		"chunks", desc.ChunkCount(),
		"providers", len(providers),
		"duration", time.Since(start))

	if !temp && o.cfg.Seed {
		o.seed(ctx, desc, chunks)
	}
	return plain, nil
}

// seed 保存已校验的内容并宣告为 Provider
func (o *Orchestrator) seed(ctx context.Context, desc *types.ContentDescriptor, chunks [][]byte) {
	if err := o.store.Put(desc, chunks); err != nil {
		logger.Warn("保存拉取内容失败", "hash", desc.Hash.ShortString(), "error", err)
		return
	}
	if _, err := o.dht.Provide(ctx, desc.Hash.Key()); err != nil {
		logger.Debug("宣告拉取内容失败", "hash", desc.Hash.ShortString(), "error", err)
	}
}

// fetchDescriptor 依次向提供者请求内容描述
//
// 描述的哈希必须与定位符一致；描述本身在整体哈希校验通过前不可信。
func (o *Orchestrator) fetchDescriptor(ctx context.Context, hash types.ContentHash, providers []types.ProviderRecord) (*types.ContentDescriptor, error) {
	var errs error
	for _, p := range providers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		desc, err := o.requestDescriptor(ctx, hash, p.Addr)
		if err == nil {
			return desc, nil
		}
		logger.Debug("获取内容描述失败", "provider", p.Addr, "error", err)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.Addr, err))
	}
	return nil, fmt.Errorf("%w for %s: %w", ErrDescriptorUnavailable, hash.ShortString(), errs)
}

func (o *Orchestrator) requestDescriptor(ctx context.Context, hash types.ContentHash, addr types.RendezvousAddr) (*types.ContentDescriptor, error) {
	resp, err := o.dht.SendRequest(ctx, addr, dht.NewGetDescriptorRequest(o.dht.Self(), hash.Key()))
	if err != nil {
		return nil, err
	}
	var desc types.ContentDescriptor
	if err := json.Unmarshal(resp.Payload, &desc); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	if desc.Hash != hash {
		return nil, fmt.Errorf("descriptor hash %s does not match", desc.Hash.ShortString())
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if want := crypto.NewEngine(desc.ChunkSize).SealedSize(desc.Size); want != desc.CipherSize {
		return nil, fmt.Errorf("descriptor cipher size %d, want %d", desc.CipherSize, want)
	}
	return &desc, nil
}

// fetchChunks 并发拉取全部分块
//
// 每个分块从 index%len(providers) 处的提供者开始轮换，任一次
// 校验通过即完成；全部失败时返回 ChunkUnavailableError。
func (o *Orchestrator) fetchChunks(ctx context.Context, desc *types.ContentDescriptor, providers []types.ProviderRecord) ([][]byte, error) {
	chunks := make([][]byte, desc.ChunkCount())
	sem := semaphore.NewWeighted(int64(o.cfg.FetchConcurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i := range chunks {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		i := i
		g.Go(func() error {
			defer sem.Release(1)
			data, err := o.fetchChunk(gctx, desc, i, providers)
			if err != nil {
				return err
			}
			chunks[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (o *Orchestrator) fetchChunk(ctx context.Context, desc *types.ContentDescriptor, index int, providers []types.ProviderRecord) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ChunkTimeout)
	defer cancel()

	var errs error
	for n := 0; n < len(providers); n++ {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		p := providers[(index+n)%len(providers)]
		data, err := o.requestChunk(ctx, desc, index, p.Addr)
		if err == nil {
			return data, nil
		}
		logger.Debug("分块拉取失败，换下一个提供者",
			"hash", desc.Hash.ShortString(), "index", index, "provider", p.Addr, "error", err)
		errs = multierr.Append(errs, err)
	}
	return nil, &types.ChunkUnavailableError{ContentHash: desc.Hash, Index: index, Err: errs}
}

func (o *Orchestrator) requestChunk(ctx context.Context, desc *types.ContentDescriptor, index int, addr types.RendezvousAddr) ([]byte, error) {
	req := dht.NewGetChunkRequest(o.dht.Self(), desc.Hash.Key(), uint32(index))
	resp, err := o.dht.SendRequest(ctx, addr, req)
	if err != nil {
		return nil, err
	}
	o.metrics.AddChunkBytes(metrics.DirIn, len(resp.Payload))
	if err := content.VerifyChunk(desc, index, resp.Payload, addr); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// decrypt 用定位符密钥解密已校验的密文
func decrypt(desc *types.ContentDescriptor, ciphertext, key []byte) ([]byte, error) {
	return crypto.NewEngine(desc.ChunkSize).DecryptFile(ciphertext, key, desc.IV)
}
