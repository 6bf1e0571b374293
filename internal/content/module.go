package content

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
)

// Params 内容存储依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Engine     engine.Engine
}

// Module 返回内容存储 Fx 模块
func Module() fx.Option {
	return fx.Module("content",
		fx.Provide(NewFromParams),
	)
}

// NewFromParams 从参数创建内容存储
func NewFromParams(p Params) (*Store, error) {
	return New(p.Engine, ConfigFromUnified(p.UnifiedCfg))
}
