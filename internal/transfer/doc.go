// Package transfer 驱动发布与拉取流程
//
// 发布：读取明文 → 分段加密 → 切分并计算哈希 → 本地保存 → 在 DHT 上
// 宣告本节点为内容哈希的提供者 → 返回磁力定位符。密钥只出现在返回的
// 定位符中，从不写入日志或发往网络。
//
// 拉取：解析定位符 → 查找提供者 → 取得内容描述 → 并发拉取分块，每块
// 在提供者之间轮换直到校验通过 → 组装并校验整体哈希 → 解密。
// 非临时拉取在完成后保存分块并宣告本节点为新的提供者。
//
// 本包同时在 DHT 上注册 GET_DESCRIPTOR / GET_CHUNK 处理函数，为其他
// 节点提供本地内容。
package transfer
