package identity

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
)

var logger = log.Logger("core/identity")

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config *config.Config
}

// ProvideIdentity 加载或创建节点身份
//
// 密钥路径优先级：Identity.KeyFile > ${DataDir}/identity.key；
// 仅内存存储时使用临时身份。
func ProvideIdentity(input ModuleInput) (*Identity, error) {
	cfg := input.Config
	path := cfg.Identity.KeyFile
	if path == "" && !cfg.Storage.InMemory {
		path = cfg.Storage.IdentityPath()
	}
	return LoadOrCreate(path, cfg.Identity.AutoGenerate)
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideIdentity),
	)
}
