package kernel

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-msgport/pkg/types"
)

var (
	// ErrInvalidName 句柄名不在任务命名空间中
	ErrInvalidName = errors.New("kernel: invalid name")

	// ErrInvalidRight 句柄名上没有所需的权限
	ErrInvalidRight = errors.New("kernel: invalid right")

	// ErrInvalidDestination 目标端点不存在或已死亡
	ErrInvalidDestination = errors.New("kernel: invalid destination")

	// ErrInvalidReply 回复句柄无效
	ErrInvalidReply = errors.New("kernel: invalid reply port")

	// ErrInvalidHeader 消息头与消息内容不一致
	ErrInvalidHeader = errors.New("kernel: invalid message header")

	// ErrSendTimedOut 目标队列在超时内未腾出空间
	ErrSendTimedOut = fmt.Errorf("kernel: %w", types.ErrSendTimeout)

	// ErrTaskTerminated 任务已终止
	ErrTaskTerminated = errors.New("kernel: task terminated")
)
