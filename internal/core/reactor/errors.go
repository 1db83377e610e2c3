package reactor

import "errors"

var (
	// ErrQueueClosed 工作队列已关闭
	ErrQueueClosed = errors.New("reactor: work queue closed")

	// ErrSourceInvalid 事件源已失效
	ErrSourceInvalid = errors.New("reactor: source is invalid")
)
