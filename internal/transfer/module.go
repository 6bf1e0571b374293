package transfer

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/internal/content"
	"github.com/dep2p/go-firestrike/internal/core/metrics"
	"github.com/dep2p/go-firestrike/internal/discovery/dht"
)

// Params 传输编排器依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	DHT        *dht.DHT
	Store      *content.Store
	Metrics    *metrics.Metrics `optional:"true"`
}

// Module 返回传输编排器 Fx 模块
func Module() fx.Option {
	return fx.Module("transfer",
		fx.Provide(NewFromParams),
		fx.Invoke(registerLifecycle),
	)
}

// NewFromParams 从参数创建编排器
func NewFromParams(p Params) (*Orchestrator, error) {
	return New(ConfigFromUnified(p.UnifiedCfg), p.DHT, p.Store, p.Metrics)
}

func registerLifecycle(lc fx.Lifecycle, o *Orchestrator) {
	lc.Append(fx.Hook{
		OnStart: o.Start,
		OnStop: func(ctx context.Context) error {
			return o.Stop(ctx)
		},
	})
}
