package msgport

import "errors"

var (
	// ErrNotRemote 操作只适用于远程端口
	ErrNotRemote = errors.New("msgport: operation requires a remote port")

	// ErrNotLocal 操作只适用于本地端口
	ErrNotLocal = errors.New("msgport: operation requires a local port")

	// ErrAnonymous 匿名本地端口没有原生端点
	ErrAnonymous = errors.New("msgport: port has no name")

	// ErrDispatching 端口已挂接到工作队列
	ErrDispatching = errors.New("msgport: port is scheduled on a work queue")

	// ErrHasRunLoopSource 端口已创建运行循环事件源
	ErrHasRunLoopSource = errors.New("msgport: port already has a run loop source")
)
