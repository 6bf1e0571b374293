package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// 传输模式
const (
	// TransportTCP 明文 TCP，用于局域网与测试
	TransportTCP = "tcp"

	// TransportTor 经 Tor SOCKS5 拨号，经控制端口申请 onion 服务
	TransportTor = "tor"
)

// TransportConfig 传输层配置
//
// 节点只对外暴露一个汇合地址；DHT 层从不接触真实网络地址。
type TransportConfig struct {
	// Mode 传输模式: "tcp" 或 "tor"
	Mode string `json:"mode"`

	// ListenAddr 本地监听地址
	// Tor 模式下为 onion 服务转发的目标地址
	ListenAddr string `json:"listen_addr"`

	// AdvertiseAddr 对外宣告的汇合地址
	// TCP 模式为空时使用实际监听地址
	AdvertiseAddr string `json:"advertise_addr,omitempty"`

	// DialTimeout 拨号超时
	// 匿名网络建链远慢于 TCP，默认 45s
	DialTimeout Duration `json:"dial_timeout"`

	// Tor Tor 相关配置（仅 Mode="tor" 时使用）
	Tor TorConfig `json:"tor"`

	// Mux 多路复用配置
	Mux MuxConfig `json:"mux"`
}

// TorConfig Tor 配置
type TorConfig struct {
	// SocksAddr SOCKS5 代理地址
	SocksAddr string `json:"socks_addr"`

	// ControlAddr 控制端口地址
	ControlAddr string `json:"control_addr"`

	// ControlPassword 控制端口密码（HashedControlPassword）
	// 为空时尝试 NULL 认证
	ControlPassword string `json:"control_password,omitempty"`

	// OnionAddress 外部托管的 onion 地址
	// 设置后不再通过控制端口申请
	OnionAddress string `json:"onion_address,omitempty"`

	// VirtualPort onion 服务对外端口
	VirtualPort int `json:"virtual_port"`

	// ProvisionTimeout 申请 onion 服务的超时
	ProvisionTimeout Duration `json:"provision_timeout"`
}

// MuxConfig yamux 会话配置
type MuxConfig struct {
	// KeepAliveInterval 会话保活间隔
	KeepAliveInterval Duration `json:"keep_alive_interval"`

	// StreamOpenTimeout 打开流的超时
	StreamOpenTimeout Duration `json:"stream_open_timeout"`

	// MaxSessions 会话池上限
	MaxSessions int `json:"max_sessions"`

	// IdleTimeout 空闲会话回收时间
	IdleTimeout Duration `json:"idle_timeout"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Mode:        TransportTCP,
		ListenAddr:  "127.0.0.1:8789",
		DialTimeout: Duration(45 * time.Second),
		Tor: TorConfig{
			SocksAddr:        "127.0.0.1:9050",
			ControlAddr:      "127.0.0.1:9051",
			VirtualPort:      8789,
			ProvisionTimeout: Duration(2 * time.Minute),
		},
		Mux: MuxConfig{
			KeepAliveInterval: Duration(30 * time.Second),
			StreamOpenTimeout: Duration(75 * time.Second),
			MaxSessions:       128,
			IdleTimeout:       Duration(5 * time.Minute),
		},
	}
}

// Validate 验证传输配置
func (c *TransportConfig) Validate() error {
	switch c.Mode {
	case TransportTCP, TransportTor:
	default:
		return fmt.Errorf("transport: invalid mode %q: must be tcp or tor", c.Mode)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("transport: invalid listen_addr %q: %w", c.ListenAddr, err)
	}
	if c.DialTimeout <= 0 {
		return errors.New("transport: dial_timeout must be positive")
	}
	if c.Mode == TransportTor {
		if c.Tor.SocksAddr == "" {
			return errors.New("transport: tor.socks_addr cannot be empty")
		}
		if c.Tor.OnionAddress == "" && c.Tor.ControlAddr == "" {
			return errors.New("transport: tor needs control_addr or onion_address")
		}
		if c.Tor.VirtualPort <= 0 || c.Tor.VirtualPort > 65535 {
			return fmt.Errorf("transport: invalid tor.virtual_port %d", c.Tor.VirtualPort)
		}
	}
	if c.Mux.MaxSessions <= 0 {
		return errors.New("transport: mux.max_sessions must be positive")
	}
	return nil
}
