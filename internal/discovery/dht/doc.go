// Package dht 实现 Kademlia DHT
//
// # 模块概述
//
// dht 在匿名传输之上维护 Kademlia 路由表，处理 PING / FIND_NODE /
// FIND_VALUE / STORE 四种 RPC，驱动迭代查找，并持有带过期时间的记录。
// 分块传输等上层协议通过 RegisterHandler 注册扩展消息类型，复用同一套
// 帧格式、限速与路由表维护。
//
// # 核心功能
//
// 1. 路由表
//   - 256 位 NodeID，XOR 距离度量
//   - K-桶（K=20），只有覆盖本节点前缀的最后一个桶可以分裂
//   - 满桶拒绝新节点并放入替换缓存，不驱逐老节点
//   - 连续失败达到阈值才驱逐；任何一次成功通信都会清零失败计数
//
// 2. 迭代查找
//   - 每轮并发查询 Alpha=3 个最近的未查询候选
//   - 一轮没有更近节点时做最后一轮后结束
//   - 值查找命中后在未持有记录的最近节点上补存（Replication=3）
//
// 3. 记录存储
//   - 普通值：后写者胜，过期时间取较晚者
//   - Provider：按提供者合并
//   - 接收方将 TTL 截断到 MaxRecordTTL
//   - 持有者周期性以剩余 TTL 重新发布
//
// # 线协议
//
// 每帧为 uvarint 长度前缀 + protowire 编码的 Message。未知字段被跳过，
// 未知消息类型回复 ERROR，新增类型不影响旧节点。
//
// # 使用示例
//
//	d, err := dht.New(dht.DefaultConfig(), id.NodeID(), tr, pool, eng, nil)
//	if err != nil {
//	    return err
//	}
//	if err := d.Start(ctx); err != nil {
//	    return err
//	}
//	defer d.Stop(ctx)
//
//	_ = d.Bootstrap(ctx)
//	providers, err := d.FindProviders(ctx, hash.Key())
//
// # 持久化
//
// 路由表快照保存在 d/r/ 前缀下，在 Stop 和每次刷新后写入；记录保存在
// d/v/ 前缀下，写入即落盘，启动时丢弃已过期的记录。
package dht
