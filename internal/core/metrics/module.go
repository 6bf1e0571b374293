package metrics

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
)

// Params Metrics 依赖参数
type Params struct {
	fx.In

	Clock clock.Clock `optional:"true"`
}

// Module 返回 metrics Fx 模块
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(NewFromParams),
	)
}

// NewFromParams 从参数创建指标集合
func NewFromParams(p Params) *Metrics {
	return New(p.Clock)
}
