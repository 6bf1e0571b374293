package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-firestrike/internal/content"
	"github.com/dep2p/go-firestrike/internal/core/crypto"
	"github.com/dep2p/go-firestrike/internal/core/muxer"
	"github.com/dep2p/go-firestrike/internal/core/storage"
	"github.com/dep2p/go-firestrike/internal/core/transport/tcp"
	"github.com/dep2p/go-firestrike/internal/discovery/dht"
	"github.com/dep2p/go-firestrike/pkg/types"
)

type testNode struct {
	dht   *dht.DHT
	store *content.Store
	orch  *Orchestrator
}

// startNode 在 127.0.0.1 上启动一个完整节点
func startNode(t *testing.T, chunkSize int, mutate func(*Config), bootstrap ...types.RendezvousAddr) *testNode {
	t.Helper()
	tr, err := tcp.New("127.0.0.1:0", "")
	require.NoError(t, err)
	pool, err := muxer.NewPool(tr, muxer.DefaultConfig())
	require.NoError(t, err)

	dcfg := dht.DefaultConfig()
	dcfg.RPCTimeout = 5 * time.Second
	dcfg.LookupTimeout = 20 * time.Second
	dcfg.BootstrapPeers = bootstrap
	eng, err := storage.NewMemory()
	require.NoError(t, err)
	d, err := dht.New(dcfg, types.RandomNodeID(), tr, pool, eng, nil)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	store, err := content.New(eng, content.Config{ChunkSize: chunkSize, CacheSize: 8})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ChunkTimeout = 10 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := New(cfg, d, store, nil)
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))

	t.Cleanup(func() {
		_ = o.Stop(context.Background())
		_ = d.Stop(context.Background())
		_ = pool.Close()
		_ = tr.Close()
		_ = eng.Close()
	})
	return &testNode{dht: d, store: store, orch: o}
}

// buildNetwork 启动 n 个节点并完成引导
func buildNetwork(t *testing.T, n, chunkSize int, mutate func(*Config)) []*testNode {
	t.Helper()
	seed := startNode(t, chunkSize, mutate)
	nodes := []*testNode{seed}
	for i := 1; i < n; i++ {
		node := startNode(t, chunkSize, mutate, seed.dht.Self().Addr)
		require.NoError(t, node.dht.Bootstrap(testCtx(t)))
		nodes = append(nodes, node)
	}
	return nodes
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func randomBytes(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// TestPublishFetch_EndToEnd 测试 5 MiB 文件按 1 MiB 分块发布与拉取
func TestPublishFetch_EndToEnd(t *testing.T) {
	nodes := buildNetwork(t, 3, 1<<20, nil)
	publisher, fetcher := nodes[1], nodes[2]
	ctx := testCtx(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "input.bin")
	plain := randomBytes(t, 5<<20)
	require.NoError(t, os.WriteFile(src, plain, 0644))

	res, err := publisher.orch.Publish(ctx, src, false)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Descriptor.ChunkCount())
	assert.Positive(t, res.Acks)

	locator := res.Magnet
	decoded, err := crypto.DecodeLocator(locator)
	require.NoError(t, err)
	assert.Len(t, decoded.Hash.String(), 64)
	assert.Len(t, hex.EncodeToString(decoded.Key), 64)
	assert.FileExists(t, src, "非临时发布保留源文件")

	out := filepath.Join(dir, "out.bin")
	path, err := fetcher.orch.Fetch(ctx, locator, out, false)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plain, got), "拉取内容应与原文一致")

	t.Log("✅ 端到端发布拉取测试通过")
}

// TestFetch_NoProviders 测试未发布的内容
func TestFetch_NoProviders(t *testing.T) {
	nodes := buildNetwork(t, 2, 1024, nil)
	ctx := testCtx(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	loc := types.MagnetLocator{Hash: types.ContentHash(types.RandomNodeID()), Key: key}

	_, err = nodes[1].orch.FetchBytes(ctx, loc, true)
	assert.ErrorIs(t, err, types.ErrNoProvidersFound)
}

// TestFetch_WrongKey 测试密钥错误
func TestFetch_WrongKey(t *testing.T) {
	nodes := buildNetwork(t, 2, 1024, nil)
	ctx := testCtx(t)

	res, err := nodes[0].orch.PublishBytes(ctx, randomBytes(t, 4000))
	require.NoError(t, err)

	wrong, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = nodes[1].orch.FetchBytes(ctx, types.MagnetLocator{Hash: res.Locator.Hash, Key: wrong}, true)
	require.Error(t, err)

	var ce *types.CryptoError
	assert.True(t, errors.As(err, &ce))
	assert.ErrorIs(t, err, types.ErrAuthenticationFailed)
	assert.False(t, nodes[1].store.Has(res.Locator.Hash), "临时拉取不保留内容")
}

// TestFetch_Seed 测试拉取后做种
func TestFetch_Seed(t *testing.T) {
	nodes := buildNetwork(t, 3, 1024, func(c *Config) { c.Seed = true })
	ctx := testCtx(t)

	plain := randomBytes(t, 3000)
	res, err := nodes[0].orch.PublishBytes(ctx, plain)
	require.NoError(t, err)

	got, err := nodes[1].orch.FetchBytes(ctx, res.Locator, false)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
	assert.True(t, nodes[1].store.Has(res.Locator.Hash))

	// 原发布者删除后仍可从做种节点拉取
	require.NoError(t, nodes[0].orch.Remove(res.Locator.Hash))
	assert.False(t, nodes[0].store.Has(res.Locator.Hash))

	got, err = nodes[2].orch.FetchBytes(ctx, res.Locator, true)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

// tamperChunks 让节点对 GET_CHUNK 回复被篡改的分块
func tamperChunks(n *testNode) {
	n.dht.RegisterHandler(dht.MessageTypeGetChunk, func(ctx context.Context, req *dht.Message) *dht.Message {
		resp := n.orch.handleGetChunk(ctx, req)
		if len(resp.Payload) > 0 {
			bad := append([]byte(nil), resp.Payload...)
			bad[0] ^= 0xff
			resp.Payload = bad
		}
		return resp
	})
}

// refuseChunks 让节点对 GET_CHUNK 一律回复错误
func refuseChunks(n *testNode) {
	n.dht.RegisterHandler(dht.MessageTypeGetChunk, func(_ context.Context, req *dht.Message) *dht.Message {
		return req.ErrorReply(n.dht.Self(), types.ErrChunkUnavailable.Error())
	})
}

// TestFetchChunks_Failover 测试分块在不可达与篡改的提供者之后换到正常提供者
func TestFetchChunks_Failover(t *testing.T) {
	ctx := testCtx(t)
	bad := startNode(t, 1024, nil)
	good := startNode(t, 1024, nil)
	fetcher := startNode(t, 1024, nil)

	plain := randomBytes(t, 3000)
	res, err := bad.orch.PublishBytes(ctx, plain)
	require.NoError(t, err)
	desc, ciphertext, err := bad.store.ReadAll(res.Locator.Hash)
	require.NoError(t, err)
	require.Equal(t, 3, desc.ChunkCount())

	// 正常提供者持有同一份分块
	chunks := make([][]byte, desc.ChunkCount())
	for i := range chunks {
		chunks[i], err = bad.store.Chunk(desc.Hash, i)
		require.NoError(t, err)
	}
	require.NoError(t, good.store.Put(desc, chunks))
	tamperChunks(bad)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := types.RendezvousAddr(ln.Addr().String())
	require.NoError(t, ln.Close())

	providers := []types.ProviderRecord{
		{ID: types.RandomNodeID(), Addr: dead},
		{ID: bad.dht.Self().ID, Addr: bad.dht.Self().Addr},
		{ID: good.dht.Self().ID, Addr: good.dht.Self().Addr},
	}
	got, err := fetcher.orch.fetchChunks(ctx, desc, providers)
	require.NoError(t, err)
	assembled, err := content.Assemble(desc, got)
	require.NoError(t, err)
	assert.Equal(t, ciphertext, assembled)

	// 篡改的分块被识别为完整性错误
	_, err = fetcher.orch.requestChunk(ctx, desc, 0, bad.dht.Self().Addr)
	var ie *types.IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.ErrorIs(t, err, types.ErrHashMismatch)
}

// TestFetch_AllProvidersFail 测试所有提供者都无法给出分块
func TestFetch_AllProvidersFail(t *testing.T) {
	nodes := buildNetwork(t, 2, 1024, nil)
	ctx := testCtx(t)
	publisher, fetcher := nodes[0], nodes[1]

	res, err := publisher.orch.PublishBytes(ctx, randomBytes(t, 3000))
	require.NoError(t, err)
	refuseChunks(publisher)

	_, err = fetcher.orch.FetchBytes(ctx, res.Locator, true)
	require.Error(t, err)
	var cu *types.ChunkUnavailableError
	require.True(t, errors.As(err, &cu))
	assert.Equal(t, res.Locator.Hash, cu.ContentHash)
	assert.ErrorIs(t, err, types.ErrChunkUnavailable)
	assert.False(t, fetcher.store.Has(res.Locator.Hash))

	// 仅有的提供者篡改分块时同样不可用
	tamperChunks(publisher)
	_, err = fetcher.orch.FetchBytes(ctx, res.Locator, true)
	require.True(t, errors.As(err, &cu))
	assert.ErrorIs(t, err, types.ErrHashMismatch)
}

// TestFetch_LocalFastPath 测试本地已有内容
func TestFetch_LocalFastPath(t *testing.T) {
	node := startNode(t, 1024, nil)
	ctx := testCtx(t)

	plain := randomBytes(t, 2500)
	res, err := node.orch.PublishBytes(ctx, plain)
	require.NoError(t, err)
	assert.Zero(t, res.Acks)

	got, err := node.orch.FetchBytes(ctx, res.Locator, true)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	list, err := node.orch.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.Locator.Hash, list[0].Hash)
}

// TestPublish_Temp 测试临时发布删除源文件
func TestPublish_Temp(t *testing.T) {
	node := startNode(t, 1024, nil)
	src := filepath.Join(t.TempDir(), "temp.bin")
	require.NoError(t, os.WriteFile(src, randomBytes(t, 100), 0644))

	_, err := node.orch.Publish(testCtx(t), src, true)
	require.NoError(t, err)
	assert.NoFileExists(t, src)
}

// TestPublish_InsufficientFanout 测试确认数不足
func TestPublish_InsufficientFanout(t *testing.T) {
	node := startNode(t, 1024, func(c *Config) { c.MinFanout = 1 })

	res, err := node.orch.PublishBytes(testCtx(t), randomBytes(t, 100))
	assert.ErrorIs(t, err, ErrInsufficientFanout)
	require.NotNil(t, res)
	assert.True(t, node.store.Has(res.Locator.Hash), "确认不足时仍保留本地内容")
}

// TestPublish_InsufficientFanoutFile 测试按路径发布确认不足时仍交还定位符
func TestPublish_InsufficientFanoutFile(t *testing.T) {
	node := startNode(t, 1024, func(c *Config) { c.MinFanout = 1 })
	ctx := testCtx(t)
	src := filepath.Join(t.TempDir(), "lonely.bin")
	plain := randomBytes(t, 2000)
	require.NoError(t, os.WriteFile(src, plain, 0644))

	res, err := node.orch.Publish(ctx, src, true)
	assert.ErrorIs(t, err, ErrInsufficientFanout)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Magnet)
	assert.FileExists(t, src, "确认不足时保留源文件")

	// 交还的定位符可解密本地内容
	loc, err := crypto.DecodeLocator(res.Magnet)
	require.NoError(t, err)
	got, err := node.orch.FetchBytes(ctx, loc, true)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

// TestPublish_Errors 测试输入错误
func TestPublish_Errors(t *testing.T) {
	node := startNode(t, 1024, nil)
	ctx := testCtx(t)

	_, err := node.orch.PublishBytes(ctx, nil)
	assert.ErrorIs(t, err, types.ErrEmptyContent)

	_, err = node.orch.Publish(ctx, filepath.Join(t.TempDir(), "missing"), false)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = node.orch.Fetch(ctx, "not-a-locator", "", true)
	assert.ErrorIs(t, err, types.ErrMalformedLocator)
}

// TestServe_Handlers 测试分块服务对未知内容的回复
func TestServe_Handlers(t *testing.T) {
	nodes := buildNetwork(t, 2, 1024, nil)
	ctx := testCtx(t)
	server, client := nodes[0], nodes[1]

	plain := randomBytes(t, 1500)
	res, err := server.orch.PublishBytes(ctx, plain)
	require.NoError(t, err)
	key := res.Locator.Hash.Key()
	addr := server.dht.Self().Addr

	resp, err := client.dht.SendRequest(ctx, addr, dht.NewGetChunkRequest(client.dht.Self(), key, 1))
	require.NoError(t, err)
	require.NoError(t, content.VerifyChunk(res.Descriptor, 1, resp.Payload, addr))

	_, err = client.dht.SendRequest(ctx, addr, dht.NewGetChunkRequest(client.dht.Self(), key, 9))
	assert.ErrorIs(t, err, dht.ErrRemote)

	_, err = client.dht.SendRequest(ctx, addr, dht.NewGetDescriptorRequest(client.dht.Self(), types.RandomNodeID()))
	assert.ErrorIs(t, err, dht.ErrRemote)

	desc, err := client.orch.requestDescriptor(ctx, res.Locator.Hash, addr)
	require.NoError(t, err)
	assert.Equal(t, res.Descriptor.Chunks, desc.Chunks)
}

// TestNew_Validation 测试构造参数校验
func TestNew_Validation(t *testing.T) {
	node := startNode(t, 1024, nil)

	_, err := New(DefaultConfig(), nil, node.store, nil)
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.FetchConcurrency = 0
	_, err = New(bad, node.dht, node.store, nil)
	assert.Error(t, err)

	eng, err := storage.NewMemory()
	require.NoError(t, err)
	defer eng.Close()
	big, err := content.New(eng, content.Config{ChunkSize: 16 << 20})
	require.NoError(t, err)
	_, err = New(DefaultConfig(), node.dht, big, nil)
	assert.Error(t, err, "分块超过消息上限")

	idle, err := New(DefaultConfig(), node.dht, node.store, nil)
	require.NoError(t, err)
	_, err = idle.PublishBytes(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrNotStarted)
}
