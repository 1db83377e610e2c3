// Package interfaces 定义 msgport 的协作方接口
//
// 本文件定义原生传输原语接口。
package interfaces

import (
	"time"

	"github.com/dep2p/go-msgport/pkg/types"
)

// Transport 原生传输原语
//
// 每个 Transport 对应一个进程的句柄命名空间。
type Transport interface {
	// PID 返回所属进程标识
	PID() int

	// Allocate 分配新端点，调用方获得接收权限和一个发送权限
	Allocate() (types.Handle, error)

	// InsertSendRight 为持有接收权限的句柄增加一个发送权限
	InsertSendRight(h types.Handle) error

	// ReleaseRight 释放句柄上的一个权限
	ReleaseRight(h types.Handle, kind types.RightKind) error

	// Send 发送消息
	//
	// timeout < 0 表示一直等待；timeout == 0 在队列满时立即失败。
	Send(msg *types.Message, timeout time.Duration) error

	// Pending 句柄上是否有待接收的消息
	Pending(h types.Handle) bool

	// Receive 非阻塞地取出一条消息
	Receive(h types.Handle) (*types.Message, bool, error)

	// RequestDeathNotification 端点死亡时向 notify 投递死亡通知
	RequestDeathNotification(h, notify types.Handle) error

	// Watch 注册就绪回调（有消息入队或端点死亡时调用）
	Watch(h types.Handle, fn func()) (cancel func())

	// Alive 端点是否存活
	Alive(h types.Handle) bool

	// Destroy 销毁未投递的消息（释放其携带的区域和权限）
	Destroy(msg *types.Message)
}
