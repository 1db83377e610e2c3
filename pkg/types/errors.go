// Package types 定义 msgport 的公共数据结构
//
// 本文件定义所有公共错误类型。
package types

import (
	"errors"
	"fmt"
)

// ============================================================================
//                              端口生命周期错误
// ============================================================================

var (
	// ErrAllocationFailed 原生端点分配失败
	ErrAllocationFailed = errors.New("native endpoint allocation failed")

	// ErrNameInvalid 名字无法编码为有界字符串（含内嵌 NUL 或非法 UTF-8）
	ErrNameInvalid = errors.New("invalid port name")

	// ErrNameUnavailable 名字已被另一个仍有效的端口占用，或查找失败
	ErrNameUnavailable = errors.New("port name unavailable")

	// ErrPortIsInvalid 端口已失效
	ErrPortIsInvalid = errors.New("port is invalid")
)

// ============================================================================
//                              请求/回复错误
// ============================================================================

var (
	// ErrPayloadTooLarge 负载超过绝对上限
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrSendTimeout 发送超时
	ErrSendTimeout = errors.New("send timeout")

	// ErrReceiveTimeout 等待回复超时
	ErrReceiveTimeout = errors.New("receive timeout")

	// ErrTransport 传输层错误
	ErrTransport = errors.New("transport error")

	// ErrBecameInvalid 等待回复期间端口失效
	ErrBecameInvalid = errors.New("port became invalid while awaiting reply")
)

// ============================================================================
//                              帧错误
// ============================================================================

// ErrCorruptFrame 帧校验失败（所有 FrameError 均匹配此错误）
var ErrCorruptFrame = errors.New("corrupt frame")

// FrameCheck 帧校验项
type FrameCheck int

const (
	// CheckTruncated 缓冲区不足以容纳消息头或消息体前缀
	CheckTruncated FrameCheck = iota + 1
	// CheckMagic 魔数不匹配（两种字节序均不匹配）
	CheckMagic
	// CheckComplex 越界标志与描述符不一致
	CheckComplex
	// CheckTooSmall 声明大小小于最小消息
	CheckTooSmall
	// CheckTooBig 声明大小大于该类消息的最大值
	CheckTooBig
	// CheckWrongSize 负载长度为负、超限或与传输大小不一致
	CheckWrongSize
	// CheckConversation 会话 ID 不在该角色的取值范围内
	CheckConversation
)

// String 返回校验项名称
func (c FrameCheck) String() string {
	switch c {
	case CheckTruncated:
		return "truncated"
	case CheckMagic:
		return "invalid magic"
	case CheckComplex:
		return "invalid complex bit"
	case CheckTooSmall:
		return "way too small"
	case CheckTooBig:
		return "way too big"
	case CheckWrongSize:
		return "wrong size"
	case CheckConversation:
		return "invalid conversation id"
	default:
		return fmt.Sprintf("check(%d)", int(c))
	}
}

// FrameError 帧解码错误，标识失败的校验项
type FrameError struct {
	Check  FrameCheck
	Detail string
}

// NewFrameError 创建帧错误
func NewFrameError(check FrameCheck, format string, args ...any) *FrameError {
	return &FrameError{Check: check, Detail: fmt.Sprintf(format, args...)}
}

// Error 实现 error 接口
func (e *FrameError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("corrupt frame: %s", e.Check)
	}
	return fmt.Sprintf("corrupt frame: %s: %s", e.Check, e.Detail)
}

// Is 所有 FrameError 都匹配 ErrCorruptFrame
func (e *FrameError) Is(target error) bool {
	return target == ErrCorruptFrame
}
