// Package firestrike 提供经匿名网络发布与拉取加密内容的节点
//
// Firestrike 节点组成一个 Kademlia DHT，节点之间只通过 Tor onion
// 汇合地址互相拨号。发布者在本地整文件加密，按固定大小切分密文，
// 以内容哈希为键在 DHT 上宣告自己为 Provider；拉取者凭磁力定位符
// 找到 Provider，逐块拉取、校验、组装后解密。
//
// # 快速开始
//
//	node, err := firestrike.Start(ctx,
//	    firestrike.WithDataDir("./data"),
//	    firestrike.WithTor("127.0.0.1:9050", "127.0.0.1:9051"),
//	    firestrike.WithBootstrapPeers("abc...xyz.onion:8789"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	// 发布：Magnet 内含解密密钥
//	res, err := node.Publish(ctx, "report.pdf", false)
//	fmt.Println(res.Magnet)
//
//	// 拉取
//	path, err := node.Fetch(ctx, magnet, "", false)
//
// # 磁力定位符
//
//	firestrike://<64 位十六进制内容哈希>#<64 位十六进制密钥>
//
// 定位符是获取内容的唯一凭证，节点不会在日志或网络消息中泄露密钥部分。
//
// # 分层
//
//	┌──────────────────────────────────────────────────┐
//	│  Node                 firestrike.New / Start     │
//	├──────────────────────────────────────────────────┤
//	│  transfer   发布 / 拉取 / 分块服务                 │
//	│  content    内容描述与分块存储                      │
//	│  dht        路由表 / 迭代查找 / 记录                │
//	├──────────────────────────────────────────────────┤
//	│  muxer      yamux 会话池                          │
//	│  transport  tor / tcp                            │
//	│  storage    BadgerDB                             │
//	└──────────────────────────────────────────────────┘
//
// 各层以 Fx 模块组装，生命周期由 Node.Start / Node.Close 驱动。
package firestrike
