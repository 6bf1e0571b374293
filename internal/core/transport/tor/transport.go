// Package tor 提供基于 Tor 的匿名传输适配器
//
// 出站连接经 Tor SOCKS5 代理拨号；入站由 onion 服务转发到本地监听地址。
// onion 服务通过控制端口申请，私钥保存在数据目录下，重启后地址不变。
//
// 节点的汇合地址形如 "<56 字符服务 ID>.onion:<虚拟端口>"。
package tor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/net/proxy"

	"github.com/dep2p/go-firestrike/internal/util/fsutil"
	"github.com/dep2p/go-firestrike/pkg/interfaces"
	"github.com/dep2p/go-firestrike/pkg/lib/log"
	"github.com/dep2p/go-firestrike/pkg/types"
)

var logger = log.Logger("transport/tor")

// newKeySpec 让 Tor 生成新的 v3 服务密钥
const newKeySpec = "NEW:ED25519-V3"

// Config Tor 适配器配置
type Config struct {
	// ListenAddr onion 服务转发的本地地址
	ListenAddr string

	// SocksAddr SOCKS5 代理地址
	SocksAddr string

	// ControlAddr 控制端口地址
	ControlAddr string

	// ControlPassword 控制端口密码，为空时 NULL 认证
	ControlPassword string

	// OnionAddress 外部托管的 onion 地址，设置后跳过申请
	OnionAddress string

	// VirtualPort onion 服务对外端口
	VirtualPort int

	// KeyPath onion 私钥文件路径，为空时不持久化
	KeyPath string

	// ProvisionTimeout 申请超时
	ProvisionTimeout time.Duration
}

// Transport Tor 传输适配器
type Transport struct {
	cfg      Config
	listener net.Listener
	addr     types.RendezvousAddr
	dialer   proxy.ContextDialer

	ctrl      *controller
	serviceID string

	listenOnce sync.Once
	closed     atomic.Bool
}

var (
	_ interfaces.Transport      = (*Transport)(nil)
	_ interfaces.CircuitRenewer = (*Transport)(nil)
)

// New 绑定本地监听并申请 onion 服务
//
// 任何申请失败都返回 TransportError{ProvisioningFailed}。
func New(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.VirtualPort <= 0 {
		return nil, provisionErr(cfg.OnionAddress, fmt.Errorf("invalid virtual port %d", cfg.VirtualPort))
	}

	d, err := proxy.SOCKS5("tcp", cfg.SocksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, provisionErr("", fmt.Errorf("socks5 %s: %w", cfg.SocksAddr, err))
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, provisionErr("", errors.New("socks5 dialer does not support contexts"))
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, provisionErr("", fmt.Errorf("listen %s: %w", cfg.ListenAddr, err))
	}

	t := &Transport{
		cfg:      cfg,
		listener: ln,
		dialer:   cd,
	}

	if cfg.OnionAddress != "" {
		t.addr = withPort(cfg.OnionAddress, cfg.VirtualPort)
		logger.Info("使用外部 onion 地址", "addr", t.addr)
		return t, nil
	}

	if err := t.provision(ctx); err != nil {
		_ = ln.Close()
		return nil, err
	}
	return t, nil
}

// provision 经控制端口申请 onion 服务
func (t *Transport) provision(ctx context.Context) error {
	if t.cfg.ProvisionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ProvisionTimeout)
		defer cancel()
	}

	ctrl, err := dialController(ctx, t.cfg.ControlAddr)
	if err != nil {
		return provisionErr("", err)
	}
	fail := func(err error) error {
		_ = ctrl.close()
		return provisionErr("", err)
	}

	if err := ctrl.authenticate(t.cfg.ControlPassword); err != nil {
		return fail(fmt.Errorf("authenticate: %w", err))
	}

	keySpec, err := t.loadKey()
	if err != nil {
		return fail(err)
	}

	target := t.listener.Addr().String()
	serviceID, privKey, err := ctrl.addOnion(keySpec, t.cfg.VirtualPort, target)
	if err != nil {
		return fail(fmt.Errorf("add onion: %w", err))
	}
	if privKey != "" && t.cfg.KeyPath != "" {
		if err := fsutil.AtomicWriteFile(t.cfg.KeyPath, []byte(privKey+"\n"), 0600); err != nil {
			_ = ctrl.delOnion(serviceID)
			return fail(fmt.Errorf("save onion key: %w", err))
		}
	}
	ctrl.clearDeadline()

	t.ctrl = ctrl
	t.serviceID = serviceID
	t.addr = withPort(serviceID+".onion", t.cfg.VirtualPort)
	logger.Info("onion 服务已就绪", "addr", t.addr, "target", target, "newKey", privKey != "")
	return nil
}

// loadKey 读取已保存的 onion 私钥
//
// 文件不存在时返回 NEW 规格，让 Tor 生成新密钥。
func (t *Transport) loadKey() (string, error) {
	if t.cfg.KeyPath == "" {
		return newKeySpec, nil
	}
	data, err := os.ReadFile(t.cfg.KeyPath)
	if errors.Is(err, os.ErrNotExist) {
		return newKeySpec, nil
	}
	if err != nil {
		return "", fmt.Errorf("read onion key: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if !strings.HasPrefix(key, "ED25519-V3:") {
		return "", fmt.Errorf("onion key %s: unsupported key type", t.cfg.KeyPath)
	}
	return key, nil
}

// MyAddress 返回 onion 汇合地址
func (t *Transport) MyAddress() types.RendezvousAddr {
	return t.addr
}

// Listen 返回入站连接流
func (t *Transport) Listen() (net.Listener, error) {
	if t.closed.Load() {
		return nil, interfaces.ErrTransportClosed
	}
	var ln net.Listener
	t.listenOnce.Do(func() { ln = t.listener })
	if ln == nil {
		return nil, interfaces.ErrAlreadyListening
	}
	return ln, nil
}

// Dial 经 SOCKS5 拨号到 onion 地址
//
// 主机名原样交给 Tor 解析，本地不做 DNS 查询。
func (t *Transport) Dial(ctx context.Context, addr types.RendezvousAddr, timeout time.Duration) (net.Conn, error) {
	if t.closed.Load() {
		return nil, interfaces.ErrTransportClosed
	}
	if _, _, err := net.SplitHostPort(string(addr)); err != nil {
		return nil, types.NewTransportError("dial", addr, types.ErrUnreachable, fmt.Errorf("%w: %v", interfaces.ErrInvalidAddress, err))
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := t.dialer.DialContext(ctx, "tcp", string(addr))
	if err != nil {
		logger.Debug("tor 拨号失败", "addr", addr, "elapsed", time.Since(start), "error", err)
		return nil, types.ClassifyDialError(addr, err)
	}
	logger.Debug("tor 拨号成功", "addr", addr, "elapsed", time.Since(start))
	return conn, nil
}

// RenewCircuits 请求 Tor 为后续连接使用新电路
//
// 仅在经控制端口申请了服务时可用。
func (t *Transport) RenewCircuits() error {
	if t.ctrl == nil {
		return errors.New("tor: no control connection")
	}
	return t.ctrl.signal("NEWNYM")
}

// Close 撤销 onion 服务并关闭监听
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	var err error
	if t.ctrl != nil {
		if e := t.ctrl.delOnion(t.serviceID); e != nil {
			err = multierr.Append(err, fmt.Errorf("del onion: %w", e))
		}
		err = multierr.Append(err, t.ctrl.close())
	}
	if e := t.listener.Close(); e != nil && !errors.Is(e, net.ErrClosed) {
		err = multierr.Append(err, e)
	}
	return err
}

func provisionErr(addr string, err error) error {
	return types.NewTransportError("provision", types.RendezvousAddr(addr), types.ErrProvisioningFailed, err)
}

// withPort 为缺少端口的地址补上虚拟端口
func withPort(host string, port int) types.RendezvousAddr {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return types.RendezvousAddr(host)
	}
	return types.RendezvousAddr(net.JoinHostPort(host, strconv.Itoa(port)))
}
