package firestrike

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-firestrike/config"
)

// Option 节点配置选项
type Option func(*options) error

// options 内部选项结构
type options struct {
	// config 统一配置，选项按顺序覆盖其中字段
	config *config.Config

	// userFxOptions 用户扩展的 Fx 选项
	userFxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{config: config.NewConfig()}
}

// ============================================================================
//                              配置来源
// ============================================================================

// WithConfig 使用完整的统一配置
//
// 替换此前选项设置的全部字段，应放在其它选项之前。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("配置不能为空")
		}
		o.config = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载统一配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// ============================================================================
//                              存储
// ============================================================================

// WithDataDir 设置数据目录
//
// 身份密钥、onion 私钥与 BadgerDB 都保存在该目录下。
func WithDataDir(dir string) Option {
	return func(o *options) error {
		if dir == "" {
			return fmt.Errorf("数据目录不能为空")
		}
		o.config.Storage.DataDir = dir
		o.config.Storage.InMemory = false
		return nil
	}
}

// WithInMemory 仅使用内存存储，身份为临时身份
func WithInMemory() Option {
	return func(o *options) error {
		o.config.Storage.InMemory = true
		return nil
	}
}

// ============================================================================
//                              传输
// ============================================================================

// WithListenAddr 设置本地监听地址
func WithListenAddr(addr string) Option {
	return func(o *options) error {
		if addr == "" {
			return fmt.Errorf("监听地址不能为空")
		}
		o.config.Transport.ListenAddr = addr
		return nil
	}
}

// WithAdvertiseAddr 设置 TCP 模式下对外宣告的地址
func WithAdvertiseAddr(addr string) Option {
	return func(o *options) error {
		o.config.Transport.AdvertiseAddr = addr
		return nil
	}
}

// WithTor 启用 Tor 传输
//
//	firestrike.New(ctx, firestrike.WithTor("127.0.0.1:9050", "127.0.0.1:9051"))
func WithTor(socksAddr, controlAddr string) Option {
	return func(o *options) error {
		if socksAddr == "" {
			return fmt.Errorf("SOCKS5 地址不能为空")
		}
		o.config.Transport.Mode = config.TransportTor
		o.config.Transport.Tor.SocksAddr = socksAddr
		if controlAddr != "" {
			o.config.Transport.Tor.ControlAddr = controlAddr
		}
		return nil
	}
}

// WithOnionAddress 使用外部托管的 onion 地址，不经控制端口申请
func WithOnionAddress(addr string) Option {
	return func(o *options) error {
		o.config.Transport.Tor.OnionAddress = addr
		return nil
	}
}

// ============================================================================
//                              DHT 与传输编排
// ============================================================================

// WithBootstrapPeers 设置引导节点汇合地址
func WithBootstrapPeers(addrs ...string) Option {
	return func(o *options) error {
		o.config.DHT.BootstrapPeers = append([]string(nil), addrs...)
		return nil
	}
}

// WithChunkSize 设置分块明文大小
func WithChunkSize(n int) Option {
	return func(o *options) error {
		o.config.Content.ChunkSize = n
		return nil
	}
}

// WithSeed 设置拉取后是否做种
func WithSeed(seed bool) Option {
	return func(o *options) error {
		o.config.Transfer.Seed = seed
		return nil
	}
}

// WithFxOptions 追加用户自定义的 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}
