package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/internal/core/storage/engine"
	"github.com/dep2p/go-firestrike/internal/core/storage/engine/badger"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
)

var logger = log.Logger("core/storage")

// Params Storage 模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Module 返回 Storage Fx 模块
//
// 提供 engine.Engine；OnStart 启动 GC，OnStop 关闭引擎。
// 关闭排在依赖它的模块之后（fx 逆序执行 OnStop）。
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStorage),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideStorage 提供存储引擎
func ProvideStorage(p Params) (engine.Engine, error) {
	return NewEngine(ConfigFromUnified(p.UnifiedCfg))
}

func registerLifecycle(lc fx.Lifecycle, eng engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return eng.Start()
		},
		OnStop: func(_ context.Context) error {
			if err := eng.Close(); err != nil {
				logger.Warn("关闭存储引擎失败", "error", err)
				return err
			}
			logger.Debug("存储引擎已关闭")
			return nil
		},
	})
}

// NewEngine 根据配置创建存储引擎
func NewEngine(cfg *engine.Config) (engine.Engine, error) {
	logger.Debug("打开存储引擎", "path", cfg.Path, "in_memory", cfg.InMemory)
	return badger.New(cfg)
}

// NewMemory 创建内存存储引擎（测试用）
func NewMemory() (engine.Engine, error) {
	return NewEngine(ConfigFromUnified(nil))
}
