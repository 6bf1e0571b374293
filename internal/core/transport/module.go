// Package transport 按配置选择匿名传输适配器
//
// 子包 tcp 与 tor 分别实现 interfaces.Transport；本包只负责依据
// 统一配置构造其一并挂到 fx 生命周期上。
package transport

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-firestrike/config"
	"github.com/dep2p/go-firestrike/internal/core/transport/tcp"
	"github.com/dep2p/go-firestrike/internal/core/transport/tor"
	"github.com/dep2p/go-firestrike/pkg/interfaces"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
)

var logger = log.Logger("core/transport")

// Params Transport 模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config
}

// Module 返回 Transport Fx 模块
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(ProvideTransport),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideTransport 提供传输适配器
func ProvideTransport(p Params) (interfaces.Transport, error) {
	return New(context.Background(), p.UnifiedCfg)
}

// New 依据统一配置创建适配器
//
// Tor 模式下会同步完成 onion 服务申请，受 ProvisionTimeout 约束。
func New(ctx context.Context, cfg *config.Config) (interfaces.Transport, error) {
	tc := cfg.Transport
	switch tc.Mode {
	case config.TransportTCP:
		return tcp.New(tc.ListenAddr, tc.AdvertiseAddr)
	case config.TransportTor:
		keyPath := ""
		if !cfg.Storage.InMemory {
			keyPath = cfg.Storage.OnionKeyPath()
		}
		return tor.New(ctx, tor.Config{
			ListenAddr:       tc.ListenAddr,
			SocksAddr:        tc.Tor.SocksAddr,
			ControlAddr:      tc.Tor.ControlAddr,
			ControlPassword:  tc.Tor.ControlPassword,
			OnionAddress:     tc.Tor.OnionAddress,
			VirtualPort:      tc.Tor.VirtualPort,
			KeyPath:          keyPath,
			ProvisionTimeout: tc.Tor.ProvisionTimeout.Duration(),
		})
	default:
		return nil, fmt.Errorf("transport: unknown mode %q", tc.Mode)
	}
}

func registerLifecycle(lc fx.Lifecycle, t interfaces.Transport) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("传输层已就绪", "addr", t.MyAddress())
			return nil
		},
		OnStop: func(_ context.Context) error {
			return t.Close()
		},
	})
}
