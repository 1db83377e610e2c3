package reactor

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-msgport/internal/util/logger"
	"github.com/dep2p/go-msgport/pkg/interfaces"
)

var log = logger.Logger("reactor")

var _ interfaces.Reactor = (*RunLoop)(nil)

// Option 运行循环选项
type Option func(*RunLoop)

// WithClock 设置运行循环时钟
func WithClock(c clock.Clock) Option {
	return func(l *RunLoop) {
		if c != nil {
			l.clock = c
		}
	}
}

// watch 一个事件源的就绪订阅，跨模式共享
type watch struct {
	modes  int
	cancel func()
}

// RunLoop 协作式事件循环
type RunLoop struct {
	clock clock.Clock
	wake  chan struct{}

	mu      sync.Mutex
	modes   map[string]map[interfaces.Source]struct{}
	watches map[interfaces.Source]*watch
	stopped bool
}

// New 创建运行循环
func New(opts ...Option) *RunLoop {
	l := &RunLoop{
		clock:   clock.New(),
		wake:    make(chan struct{}, 1),
		modes:   make(map[string]map[interfaces.Source]struct{}),
		watches: make(map[interfaces.Source]*watch),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Clock 返回运行循环时钟
func (l *RunLoop) Clock() clock.Clock {
	return l.clock
}

// ============================================================================
//                              事件源
// ============================================================================

// AddSource 在 mode 下注册事件源
func (l *RunLoop) AddSource(src interfaces.Source, mode string) {
	if src == nil || !src.IsValid() {
		return
	}
	l.mu.Lock()
	set, ok := l.modes[mode]
	if !ok {
		set = make(map[interfaces.Source]struct{})
		l.modes[mode] = set
	}
	if _, dup := set[src]; dup {
		l.mu.Unlock()
		return
	}
	set[src] = struct{}{}
	w, ok := l.watches[src]
	if !ok {
		w = &watch{}
		l.watches[src] = w
	}
	w.modes++
	first := w.modes == 1
	l.mu.Unlock()

	if first {
		cancel := src.Watch(l.WakeUp)
		l.mu.Lock()
		if cur, ok := l.watches[src]; ok && cur == w {
			w.cancel = cancel
			cancel = nil
		}
		l.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	l.WakeUp()
}

// RemoveSource 在 mode 下注销事件源
func (l *RunLoop) RemoveSource(src interfaces.Source, mode string) {
	l.mu.Lock()
	cancel := l.removeLocked(src, mode)
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// removeLocked 注销事件源，最后一个模式注销时返回订阅的取消函数
func (l *RunLoop) removeLocked(src interfaces.Source, mode string) func() {
	set, ok := l.modes[mode]
	if !ok {
		return nil
	}
	if _, ok := set[src]; !ok {
		return nil
	}
	delete(set, src)
	if len(set) == 0 {
		delete(l.modes, mode)
	}
	w := l.watches[src]
	if w == nil {
		return nil
	}
	w.modes--
	if w.modes > 0 {
		return nil
	}
	delete(l.watches, src)
	if w.cancel == nil {
		return func() {}
	}
	return w.cancel
}

// ContainsSource 事件源是否已在 mode 下注册
func (l *RunLoop) ContainsSource(src interfaces.Source, mode string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.modes[mode][src]
	return ok
}

// SourceCount 返回 mode 下可见的事件源数量（含公共模式）
func (l *RunLoop) SourceCount(mode string) int {
	return len(l.snapshot(mode))
}

// snapshot 收集 mode 下的有效事件源，移除无效事件源
func (l *RunLoop) snapshot(mode string) []interfaces.Source {
	var cancels []func()

	l.mu.Lock()
	seen := make(map[interfaces.Source]struct{})
	var out []interfaces.Source
	collect := func(m string) {
		for src := range l.modes[m] {
			if !src.IsValid() {
				if c := l.removeLocked(src, m); c != nil {
					cancels = append(cancels, c)
				}
				continue
			}
			if _, dup := seen[src]; dup {
				continue
			}
			seen[src] = struct{}{}
			out = append(out, src)
		}
	}
	collect(mode)
	if mode != interfaces.CommonModes {
		collect(interfaces.CommonModes)
	}
	l.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order() < out[j].Order()
	})
	return out
}

// ============================================================================
//                              运行
// ============================================================================

// RunInMode 运行一次有界迭代
//
// maxWait < 0 表示不限时。returnAfterSourceHandled 为 true 时处理完一个事件源即返回。
func (l *RunLoop) RunInMode(mode string, maxWait time.Duration, returnAfterSourceHandled bool) interfaces.RunResult {
	var deadline time.Time
	if maxWait >= 0 {
		deadline = l.clock.Now().Add(maxWait)
	}

	for {
		sources := l.snapshot(mode)
		if len(sources) == 0 {
			return interfaces.RunFinished
		}
		if l.takeStop() {
			return interfaces.RunStopped
		}

		handled := false
		for _, src := range sources {
			if !src.Pending() {
				continue
			}
			src.Perform()
			handled = true
			if l.takeStop() {
				return interfaces.RunStopped
			}
			if returnAfterSourceHandled {
				return interfaces.RunHandledSource
			}
		}
		if handled {
			continue
		}

		var timer <-chan time.Time
		if maxWait >= 0 {
			remaining := deadline.Sub(l.clock.Now())
			if remaining <= 0 {
				return interfaces.RunTimedOut
			}
			t := l.clock.Timer(remaining)
			timer = t.C
			select {
			case <-l.wake:
			case <-timer:
			}
			t.Stop()
			continue
		}
		<-l.wake
	}
}

// takeStop 读取并清除停止标志
func (l *RunLoop) takeStop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stopped
	l.stopped = false
	return s
}

// Stop 中断当前运行
//
// 未在运行时，停止标志保留到下一次运行检查。
func (l *RunLoop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.WakeUp()
}

// WakeUp 唤醒等待中的运行
func (l *RunLoop) WakeUp() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run 在 mode 下持续运行，直到 Stop 或没有事件源
func (l *RunLoop) Run(mode string) interfaces.RunResult {
	for {
		res := l.RunInMode(mode, -1, false)
		if res != interfaces.RunTimedOut && res != interfaces.RunHandledSource {
			log.Debug("运行循环退出", "mode", mode, "result", res)
			return res
		}
	}
}
