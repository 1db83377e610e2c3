package types

import "fmt"

// ============================================================================
//                              Handle 原生句柄
// ============================================================================

// Handle 原生通信端点句柄
//
// 句柄是某个任务（进程）命名空间内的名字，只在该命名空间内有意义。
// 相等即同一端点。
type Handle uint32

// NullHandle 空句柄
const NullHandle Handle = 0

// IsNull 是否为空句柄
func (h Handle) IsNull() bool {
	return h == NullHandle
}

// String 返回句柄的十六进制表示
func (h Handle) String() string {
	return fmt.Sprintf("0x%x", uint32(h))
}

// ============================================================================
//                              RightKind 权限类型
// ============================================================================

// RightKind 句柄上持有的权限类型
type RightKind int

const (
	// RightSend 发送权限（可计数）
	RightSend RightKind = iota
	// RightReceive 接收权限（唯一）
	RightReceive
	// RightSendOnce 一次性发送权限（用于回复）
	RightSendOnce
	// RightDeadName 端点已死亡后残留的名字
	RightDeadName
)

// String 返回权限名称
func (k RightKind) String() string {
	switch k {
	case RightSend:
		return "send"
	case RightReceive:
		return "receive"
	case RightSendOnce:
		return "send-once"
	case RightDeadName:
		return "dead-name"
	default:
		return fmt.Sprintf("right(%d)", int(k))
	}
}

// ============================================================================
//                              Scope 命名范围
// ============================================================================

// Scope 名字在命名目录中的可见范围
type Scope struct {
	// PerProcess 为 true 时名字只在 PID 指定的进程范围内有效
	PerProcess bool

	// PID 进程标识（仅 PerProcess 时有效）
	PID int
}

// GlobalScope 全局范围
func GlobalScope() Scope {
	return Scope{}
}

// PerProcessScope 指定进程范围
func PerProcessScope(pid int) Scope {
	return Scope{PerProcess: true, PID: pid}
}

// String 返回范围描述
func (s Scope) String() string {
	if s.PerProcess {
		return fmt.Sprintf("pid:%d", s.PID)
	}
	return "global"
}

// ============================================================================
//                              Direction 方向
// ============================================================================

// Direction 命名消息端口的方向，构造后不可变
type Direction int

const (
	// DirectionLocal 本地（接收）端口
	DirectionLocal Direction = iota
	// DirectionRemote 远程（发送）端口
	DirectionRemote
)

// String 返回方向名称
func (d Direction) String() string {
	if d == DirectionRemote {
		return "remote"
	}
	return "local"
}
