package muxer

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/pkg/interfaces"
)

// Params Muxer 依赖参数
type Params struct {
	fx.In

	Transport  interfaces.Transport
	UnifiedCfg *config.Config `optional:"true"`
}

// Module 返回 muxer Fx 模块
//
// 提供 *Pool；OnStart 启动空闲回收，OnStop 关闭全部会话。
func Module() fx.Option {
	return fx.Module("muxer",
		fx.Provide(NewPoolFromParams),
		fx.Invoke(registerLifecycle),
	)
}

// NewPoolFromParams 从参数创建会话池
func NewPoolFromParams(p Params) (*Pool, error) {
	return NewPool(p.Transport, ConfigFromUnified(p.UnifiedCfg))
}

func registerLifecycle(lc fx.Lifecycle, p *Pool) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go p.Run(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return p.Close()
		},
	})
}
