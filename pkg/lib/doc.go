// Package lib 包含与具体组件无关的基础设施工具库
//
//   - log: 基于 slog 的分级日志，底层写入 zap
//
// # 使用示例
//
//	import "github.com/dep2p/go-firestrike/pkg/lib/log"
//
//	var logger = log.Logger("transfer")
package lib
