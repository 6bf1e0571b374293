package transfer

import "errors"

var (
	// ErrDescriptorUnavailable 所有提供者都无法给出有效的内容描述
	ErrDescriptorUnavailable = errors.New("transfer: descriptor unavailable")

	// ErrInsufficientFanout 发布时确认的远端存储数少于要求
	ErrInsufficientFanout = errors.New("transfer: insufficient publish fan-out")

	// ErrNotStarted 编排器未启动
	ErrNotStarted = errors.New("transfer: not started")
)
