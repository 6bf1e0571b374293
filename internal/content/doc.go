// Package content 实现内容存储
//
// 密文按密封段长切分为分块，每块计算加盐哈希；组装前逐块校验，任何一块
// 不符即返回 IntegrityError，不输出任何数据。描述与分块字节保存在
// BadgerDB 中（c/d/ 与 c/c/ 前缀），热分块经 LRU 缓存供上传使用。
//
// 以内容哈希 + 分块序号寻址，重复写入同一内容是幂等的。
package content
