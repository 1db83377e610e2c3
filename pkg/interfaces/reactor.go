package interfaces

import "time"

// ============================================================================
//                              Reactor 反应器
// ============================================================================

// CommonModes 公共模式：注册在此模式下的事件源参与所有模式的运行
const CommonModes = "kCommonModes"

// DefaultMode 默认运行模式
const DefaultMode = "kDefaultMode"

// RunResult 单次运行结果
type RunResult int

const (
	// RunFinished 模式下没有事件源
	RunFinished RunResult = iota + 1
	// RunStopped 被 Stop 中断
	RunStopped
	// RunTimedOut 等待时间耗尽
	RunTimedOut
	// RunHandledSource 处理了一个事件源后返回
	RunHandledSource
)

// String 返回运行结果名称
func (r RunResult) String() string {
	switch r {
	case RunFinished:
		return "finished"
	case RunStopped:
		return "stopped"
	case RunTimedOut:
		return "timed out"
	case RunHandledSource:
		return "handled source"
	default:
		return "unknown"
	}
}

// Source 可轮询的事件源
type Source interface {
	// Order 服务顺序，小者优先
	Order() int

	// Pending 是否有待处理的消息
	Pending() bool

	// Perform 处理一条消息
	Perform()

	// Watch 注册就绪唤醒回调
	Watch(wake func()) (cancel func())

	// IsValid 事件源是否仍有效；无效的事件源会被反应器移除
	IsValid() bool
}

// Reactor 协作式事件循环
type Reactor interface {
	// AddSource 在 mode 下注册事件源（重复注册无副作用）
	AddSource(src Source, mode string)

	// RemoveSource 在 mode 下注销事件源
	RemoveSource(src Source, mode string)

	// ContainsSource 事件源是否已在 mode 下注册
	ContainsSource(src Source, mode string) bool

	// RunInMode 运行一次有界迭代
	RunInMode(mode string, maxWait time.Duration, returnAfterSourceHandled bool) RunResult

	// Stop 中断当前运行
	Stop()

	// WakeUp 唤醒等待中的运行
	WakeUp()
}

// ============================================================================
//                              WorkQueue 工作队列
// ============================================================================

// WorkQueue 并发工作队列
type WorkQueue interface {
	// Submit 提交一个工作单元
	Submit(fn func()) error
}
