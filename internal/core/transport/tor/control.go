package tor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"time"
)

// 控制协议状态码
const codeOK = 250

// errNoServiceID ADD_ONION 回复缺少 ServiceID
var errNoServiceID = errors.New("tor control: ADD_ONION reply has no ServiceID")

// controller Tor 控制端口客户端
//
// 只实现本包需要的命令子集：AUTHENTICATE、ADD_ONION、DEL_ONION、SIGNAL。
// 连接在 onion 服务生命周期内保持打开。
type controller struct {
	mu   sync.Mutex
	nc   net.Conn
	conn *textproto.Conn
}

// dialController 连接控制端口
func dialController(ctx context.Context, addr string) (*controller, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tor control: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	return &controller{nc: nc, conn: textproto.NewConn(nc)}, nil
}

// clearDeadline 申请完成后解除握手期限
func (c *controller) clearDeadline() {
	_ = c.nc.SetDeadline(time.Time{})
}

// command 发送一条命令并读取 250 回复
//
// 多行回复的各行以 "\n" 连接返回。
func (c *controller) command(format string, args ...any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.conn.Cmd(format, args...)
	if err != nil {
		return "", err
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)

	_, msg, err := c.conn.ReadResponse(codeOK)
	if err != nil {
		return "", err
	}
	return msg, nil
}

// authenticate 认证
//
// password 为空时发送无参数的 AUTHENTICATE（NULL 认证）。
func (c *controller) authenticate(password string) error {
	if password == "" {
		_, err := c.command("AUTHENTICATE")
		return err
	}
	_, err := c.command("AUTHENTICATE %s", quote(password))
	return err
}

// addOnion 申请 onion 服务
//
// keySpec 为 "NEW:ED25519-V3" 或已保存的 "ED25519-V3:<base64>"。
// 返回服务 ID（不含 .onion）与新生成的私钥（沿用旧密钥时为空）。
func (c *controller) addOnion(keySpec string, virtualPort int, target string) (serviceID, privateKey string, err error) {
	msg, err := c.command("ADD_ONION %s Port=%d,%s", keySpec, virtualPort, target)
	if err != nil {
		return "", "", err
	}
	for _, line := range strings.Split(msg, "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "ServiceID":
			serviceID = v
		case "PrivateKey":
			privateKey = v
		}
	}
	if serviceID == "" {
		return "", "", errNoServiceID
	}
	return serviceID, privateKey, nil
}

// delOnion 撤销 onion 服务
func (c *controller) delOnion(serviceID string) error {
	_, err := c.command("DEL_ONION %s", serviceID)
	return err
}

// signal 发送 SIGNAL 命令
func (c *controller) signal(name string) error {
	_, err := c.command("SIGNAL %s", name)
	return err
}

// close 关闭控制连接
func (c *controller) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// quote 按控制协议 QuotedString 规则转义
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
