// Package types 定义 Firestrike 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ids.go     - NodeID, ContentHash, RendezvousAddr
//   - peer.go    - PeerRecord, ProviderRecord
//   - content.go - ContentDescriptor, ChunkDescriptor, MagnetLocator
//   - errors.go  - 公共错误定义（传输、加密、完整性、DHT）
//
// # 错误分类
//
// 传输错误（ErrUnreachable、ErrTimeout）是瞬时的，在查找和拉取内部被吸收；
// 加密错误与定位符错误是终止性的，直接返回给调用方。
// 使用 IsTransient / IsTerminal 判断。
package types
