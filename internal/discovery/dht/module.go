package dht

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/internal/core/identity"
	"github.com/dep2p/go-firestrike/internal/core/metrics"
	"github.com/dep2p/go-firestrike/internal/core/muxer"
	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
	"github.com/dep2p/go-firestrike/pkg/interfaces"
)

// Params DHT 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Identity   *identity.Identity
	Transport  interfaces.Transport
	Pool       *muxer.Pool
	Engine     engine.Engine    `optional:"true"`
	Metrics    *metrics.Metrics `optional:"true"`
}

// Module 返回 DHT Fx 模块
//
// 提供 *DHT；OnStart 启动 DHT 并在后台执行 Bootstrap，OnStop 停止并保存路由表。
func Module() fx.Option {
	return fx.Module("discovery_dht",
		fx.Provide(NewFromParams),
		fx.Invoke(registerDHTLifecycle),
	)
}

// NewFromParams 从 Fx 参数创建 DHT
func NewFromParams(p Params) (*DHT, error) {
	return New(ConfigFromUnified(p.UnifiedCfg), p.Identity.NodeID(), p.Transport, p.Pool, p.Engine, p.Metrics)
}

// registerDHTLifecycle 注册 DHT 生命周期钩子
func registerDHTLifecycle(lc fx.Lifecycle, d *DHT) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Start(ctx); err != nil {
				logger.Error("DHT 启动失败", "error", err)
				return err
			}
			// 异步引导，不阻塞启动；Stop 时随生命周期上下文取消
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				if err := d.Bootstrap(d.ctx); err != nil {
					logger.Warn("DHT 自动 Bootstrap 失败", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := d.Stop(ctx); err != nil {
				logger.Error("DHT 停止失败", "error", err)
				return err
			}
			return nil
		},
	})
}
