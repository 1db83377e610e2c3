package msgport

import (
	"github.com/benbjohnson/clock"
)

// MachineOption 机器选项
type MachineOption func(*machineOptions)

type machineOptions struct {
	clock clock.Clock
}

// WithClock 设置内核与运行循环使用的时钟
func WithClock(c clock.Clock) MachineOption {
	return func(o *machineOptions) {
		o.clock = c
	}
}

// ProcessOption 进程选项
type ProcessOption func(*processOptions)

type processOptions struct {
	identity func() int
}

// WithIdentity 设置进程标识提供者
//
// 标识变化时 CheckFork 使进程内全部端口失效。默认使用任务的 PID。
func WithIdentity(fn func() int) ProcessOption {
	return func(o *processOptions) {
		o.identity = fn
	}
}
