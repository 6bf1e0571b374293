package firestrike

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/internal/content"
	"github.com/dep2p/go-firestrike/internal/core/identity"
	"github.com/dep2p/go-firestrike/internal/core/metrics"
	"github.com/dep2p/go-firestrike/internal/core/muxer"
	"github.com/dep2p/go-firestrike/internal/core/storage"
	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
	"github.com/dep2p/go-firestrike/internal/core/transport"
	"github.com/dep2p/go-firestrike/internal/discovery/dht"
	"github.com/dep2p/go-firestrike/internal/transfer"
	"github.com/dep2p/go-firestrike/pkg/interfaces"
)

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. Identity → Storage → Metrics
//  2. Transport → Muxer
//  3. DHT → Content → Transfer
//
// OnStop 逆序执行：Transfer 与 DHT 先停止并保存路由表，存储引擎最后关闭。
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	cfg, err := config.ValidateAndFix(o.config)
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	o.config = cfg

	modules := []fx.Option{
		fx.Supply(o.config),

		identity.Module(),
		storage.Module(),
		metrics.Module(),

		transport.Module(),
		muxer.Module(),

		dht.Module(),
		content.Module(),
		transfer.Module(),
	}

	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	modules = append(modules,
		fx.Invoke(injectNodeComponents(node)),

		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Identity  *identity.Identity
	Transport interfaces.Transport
	Engine    engine.Engine
	DHT       *dht.DHT
	Store     *content.Store
	Transfer  *transfer.Orchestrator
	Metrics   *metrics.Metrics
}

// injectNodeComponents 将 Fx 构造的组件注入 Node
func injectNodeComponents(node *Node) func(nodeInjectParams) {
	return func(p nodeInjectParams) {
		node.identity = p.Identity
		node.transport = p.Transport
		node.engine = p.Engine
		node.dht = p.DHT
		node.store = p.Store
		node.transfer = p.Transfer
		node.metrics = p.Metrics
	}
}
