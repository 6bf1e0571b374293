package firestrike

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/internal/content"
	"github.com/dep2p/go-firestrike/internal/core/crypto"
	"github.com/dep2p/go-firestrike/internal/core/identity"
	"github.com/dep2p/go-firestrike/internal/core/metrics"
	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
	"github.com/dep2p/go-firestrike/internal/discovery/dht"
	"github.com/dep2p/go-firestrike/internal/transfer"
	"github.com/dep2p/go-firestrike/pkg/interfaces"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
	"github.com/dep2p/go-firestrike/pkg/types"
)

var logger = log.Logger("firestrike")

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota

	// StateStarting 启动中
	StateStarting

	// StateRunning 运行中
	StateRunning

	// StateStopped 已关闭
	StateStopped
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// startTimeout 启动超时，Tor 模式下包含 onion 服务申请
	startTimeout = 3 * time.Minute

	// stopTimeout 关闭超时
	stopTimeout = 30 * time.Second
)

// PublishResult 发布结果
type PublishResult = transfer.PublishResult

// Node Firestrike 节点
//
// Node 是用户与网络交互的主入口，聚合身份、匿名传输、DHT、
// 内容存储与传输编排。
//
//	node, err := firestrike.Start(ctx, firestrike.WithDataDir("./data"))
//	if err != nil {
//	    return err
//	}
//	defer node.Close()
//
//	res, err := node.Publish(ctx, "report.pdf", false)
//	fmt.Println(res.Magnet)
type Node struct {
	mu    sync.Mutex
	opts  *options
	app   *fx.App
	state NodeState

	// 由 Fx 注入
	identity  *identity.Identity
	transport interfaces.Transport
	engine    engine.Engine
	dht       *dht.DHT
	store     *content.Store
	transfer  *transfer.Orchestrator
	metrics   *metrics.Metrics
}

// New 创建节点
//
// 此时各组件已构造（Tor 模式下不申请 onion 服务前不会返回），
// 但尚未监听或引导；调用 Start 后才可使用。
func New(_ context.Context, opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	node := &Node{opts: o}
	app, err := buildFxApp(o, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	node.app = app
	return node, nil
}

// Start 创建并启动节点
//
// 等价于 New() + Start()。
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
//
// 开始监听、启动后台循环并在后台引导。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateStopped:
		return ErrNodeClosed
	case StateStarting, StateRunning:
		return ErrAlreadyStarted
	}

	n.state = StateStarting
	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	if err := n.app.Start(startCtx); err != nil {
		n.state = StateStopped
		logger.Error("节点启动失败", "error", err)
		return fmt.Errorf("initialize failed: %w", err)
	}
	n.state = StateRunning
	logger.Info("节点已启动",
		"id", n.dht.Self().ID.ShortString(),
		"addr", n.transport.MyAddress(),
		"version", Version)
	return nil
}

// Close 关闭节点
//
// 停止后台循环、保存路由表快照并关闭存储。可重复调用。
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateStopped {
		return nil
	}
	wasStarted := n.state == StateRunning
	n.state = StateStopped
	if !wasStarted {
		// 未启动时 OnStop 钩子不会执行，构造阶段打开的资源在此释放
		return multierr.Combine(n.transport.Close(), n.engine.Close())
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := n.app.Stop(ctx); err != nil {
		logger.Warn("节点关闭出错", "error", err)
		return err
	}
	logger.Info("节点已关闭")
	return nil
}

// State 返回节点状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Node) checkRunning() error {
	switch n.State() {
	case StateRunning:
		return nil
	case StateStopped:
		return ErrNodeClosed
	default:
		return ErrNotStarted
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点 ID
func (n *Node) ID() types.NodeID {
	return n.identity.NodeID()
}

// Addr 返回本节点的汇合地址
func (n *Node) Addr() types.RendezvousAddr {
	return n.transport.MyAddress()
}

// Config 返回节点使用的统一配置
func (n *Node) Config() *config.Config {
	return n.opts.config
}

// MetricsRegistry 返回节点的私有 Prometheus 注册表
func (n *Node) MetricsRegistry() *prometheus.Registry {
	return n.metrics.Registry()
}

// ════════════════════════════════════════════════════════════════════════════
//                              DHT
// ════════════════════════════════════════════════════════════════════════════

// Bootstrap 联系引导节点并查找自身以填充路由表
//
// Start 已在后台执行一次，此处供调用方同步等待。
func (n *Node) Bootstrap(ctx context.Context) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return bootstrapWithRenewal(ctx, n.transport, n.dht.Bootstrap)
}

// bootstrapWithRenewal 引导失败且传输支持更换电路时，换电路后重试一次
func bootstrapWithRenewal(ctx context.Context, tr interfaces.Transport, bootstrap func(context.Context) error) error {
	err := bootstrap(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	renewer, ok := tr.(interfaces.CircuitRenewer)
	if !ok {
		return err
	}
	if rerr := renewer.RenewCircuits(); rerr != nil {
		logger.Debug("更换电路失败", "error", rerr)
		return err
	}
	logger.Info("引导失败，已更换电路后重试", "error", err)
	return bootstrap(ctx)
}

// ListPeers 返回路由表中的全部节点
func (n *Node) ListPeers() []types.PeerRecord {
	if n.dht == nil {
		return nil
	}
	return n.dht.ListPeers()
}

// ════════════════════════════════════════════════════════════════════════════
//                              发布与拉取
// ════════════════════════════════════════════════════════════════════════════

// Publish 加密、分块并发布文件
//
// temp 为真时发布成功后删除源文件。返回结果中的 Magnet 包含解密密钥，
// 只应交给有权获取内容的一方。
func (n *Node) Publish(ctx context.Context, path string, temp bool) (*PublishResult, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.transfer.Publish(ctx, path, temp)
}

// PublishBytes 发布内存中的内容
func (n *Node) PublishBytes(ctx context.Context, data []byte) (*PublishResult, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.transfer.PublishBytes(ctx, data)
}

// Fetch 按磁力定位符拉取内容并写入 outputPath，返回写入路径
//
// outputPath 为空时写入当前目录下的 downloaded_<hash>。
// 定位符格式错误时立即返回 ErrMalformedLocator，不发起网络请求。
func (n *Node) Fetch(ctx context.Context, locator, outputPath string, temp bool) (string, error) {
	if err := n.checkRunning(); err != nil {
		return "", err
	}
	return n.transfer.Fetch(ctx, locator, outputPath, temp)
}

// FetchBytes 按磁力定位符拉取内容
func (n *Node) FetchBytes(ctx context.Context, locator string, temp bool) ([]byte, error) {
	loc, err := crypto.DecodeLocator(locator)
	if err != nil {
		return nil, err
	}
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.transfer.FetchBytes(ctx, loc, temp)
}

// ════════════════════════════════════════════════════════════════════════════
//                              本地内容
// ════════════════════════════════════════════════════════════════════════════

// List 返回本地保存的内容描述
func (n *Node) List() ([]*types.ContentDescriptor, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.transfer.List()
}

// Remove 删除本地内容并停止宣告
func (n *Node) Remove(hash types.ContentHash) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return n.transfer.Remove(hash)
}
