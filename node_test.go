package firestrike

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-firestrike/pkg/interfaces"
	"github.com/dep2p/go-firestrike/pkg/types"
)

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// startTestNode 启动一个监听随机端口的节点
func startTestNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	base := []Option{
		WithListenAddr("127.0.0.1:0"),
		WithChunkSize(4096),
	}
	node, err := Start(testCtx(t), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node
}

// TestNode_PublishFetch 测试两个节点间的发布与拉取
func TestNode_PublishFetch(t *testing.T) {
	a := startTestNode(t, WithInMemory())
	b := startTestNode(t, WithInMemory(), WithBootstrapPeers(string(a.Addr())))
	ctx := testCtx(t)

	require.NoError(t, b.Bootstrap(ctx))
	peers := b.ListPeers()
	require.NotEmpty(t, peers)
	assert.Equal(t, a.ID(), peers[0].ID)

	dir := t.TempDir()
	src := filepath.Join(dir, "doc.bin")
	plain := make([]byte, 20000)
	_, err := rand.Read(plain)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(src, plain, 0644))

	res, err := a.Publish(ctx, src, false)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Descriptor.ChunkCount())

	out, err := b.Fetch(ctx, res.Magnet, filepath.Join(dir, "out.bin"), false)
	require.NoError(t, err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	// 非临时拉取后 b 做种
	list, err := b.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.Locator.Hash, list[0].Hash)

	t.Log("✅ 节点发布拉取测试通过")
}

// TestNode_Lifecycle 测试生命周期状态
func TestNode_Lifecycle(t *testing.T) {
	ctx := testCtx(t)
	node, err := New(ctx, WithInMemory(), WithListenAddr("127.0.0.1:0"))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, node.State())

	_, err = node.PublishBytes(ctx, []byte("x"))
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, node.Start(ctx))
	assert.Equal(t, StateRunning, node.State())
	assert.ErrorIs(t, node.Start(ctx), ErrAlreadyStarted)
	assert.False(t, node.ID().IsEmpty())
	assert.NotNil(t, node.MetricsRegistry())

	_, err = node.FetchBytes(ctx, "firestrike://zz#zz", true)
	assert.ErrorIs(t, err, types.ErrMalformedLocator)

	require.NoError(t, node.Close())
	require.NoError(t, node.Close())
	assert.Equal(t, StateStopped, node.State())
	assert.ErrorIs(t, node.Start(ctx), ErrNodeClosed)
	_, err = node.List()
	assert.ErrorIs(t, err, ErrNodeClosed)
}

// TestNode_CloseUnstarted 测试未启动即关闭
func TestNode_CloseUnstarted(t *testing.T) {
	node, err := New(context.Background(), WithInMemory(), WithListenAddr("127.0.0.1:0"))
	require.NoError(t, err)
	require.NoError(t, node.Close())
	assert.Equal(t, StateStopped, node.State())
}

// TestNode_InvalidOptions 测试无效选项
func TestNode_InvalidOptions(t *testing.T) {
	_, err := New(context.Background(), WithListenAddr(""))
	assert.Error(t, err)

	_, err = New(context.Background(), WithInMemory(), WithChunkSize(10))
	assert.Error(t, err)

	_, err = New(context.Background(), WithConfig(nil))
	assert.Error(t, err)
}

// TestNode_Restart 测试重启后身份、路由表与内容保留
func TestNode_Restart(t *testing.T) {
	seed := startTestNode(t, WithInMemory())
	dataDir := t.TempDir()
	ctx := testCtx(t)

	node, err := Start(ctx,
		WithDataDir(dataDir),
		WithListenAddr("127.0.0.1:0"),
		WithChunkSize(4096),
		WithBootstrapPeers(string(seed.Addr())))
	require.NoError(t, err)
	require.NoError(t, node.Bootstrap(ctx))
	res, err := node.PublishBytes(ctx, []byte("persisted content"))
	require.NoError(t, err)
	id := node.ID()
	require.NoError(t, node.Close())

	// 不再配置引导节点，路由表来自快照
	node, err = Start(ctx,
		WithDataDir(dataDir),
		WithListenAddr("127.0.0.1:0"),
		WithChunkSize(4096))
	require.NoError(t, err)
	defer node.Close()

	assert.Equal(t, id, node.ID())

	var found bool
	for _, p := range node.ListPeers() {
		if p.ID == seed.ID() {
			found = true
		}
	}
	assert.True(t, found, "重启后路由表应包含引导节点")

	got, err := node.FetchBytes(ctx, res.Magnet, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted content"), got)
}

// renewingTransport 记录电路更换次数
type renewingTransport struct {
	interfaces.Transport
	renewed int
	err     error
}

func (r *renewingTransport) RenewCircuits() error {
	r.renewed++
	return r.err
}

// TestBootstrapWithRenewal 测试引导失败时更换电路重试
func TestBootstrapWithRenewal(t *testing.T) {
	ctx := context.Background()
	errBoot := errors.New("no bootstrap peer answered")

	// 第二次引导成功
	calls := 0
	tr := &renewingTransport{}
	err := bootstrapWithRenewal(ctx, tr, func(context.Context) error {
		calls++
		if calls == 1 {
			return errBoot
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, tr.renewed)

	// 更换电路失败时不重试
	calls = 0
	tr = &renewingTransport{err: errors.New("no control connection")}
	err = bootstrapWithRenewal(ctx, tr, func(context.Context) error {
		calls++
		return errBoot
	})
	assert.ErrorIs(t, err, errBoot)
	assert.Equal(t, 1, calls)

	// 不支持更换电路的传输只引导一次
	calls = 0
	var plain interfaces.Transport
	err = bootstrapWithRenewal(ctx, plain, func(context.Context) error {
		calls++
		return errBoot
	})
	assert.ErrorIs(t, err, errBoot)
	assert.Equal(t, 1, calls)
}
