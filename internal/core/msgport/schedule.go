package msgport

import (
	"github.com/dep2p/go-msgport/internal/core/port"
	"github.com/dep2p/go-msgport/internal/core/reactor"
	"github.com/dep2p/go-msgport/pkg/interfaces"
	"github.com/dep2p/go-msgport/pkg/types"
)

// ============================================================================
//                              运行循环
// ============================================================================

// CreateRunLoopSource 返回本地端口的运行循环事件源
//
// 远程端口、已失效端口、已挂接工作队列的端口和匿名端口返回 nil。
// 同一端口只有一个事件源，order 只在首次创建时生效。
func (p *MessagePort) CreateRunLoopSource(order int) interfaces.Source {
	src, err := p.runLoopSource(order)
	if err != nil {
		log.Warn("无法创建运行循环事件源", "port", p, "err", err)
		return nil
	}
	return src
}

func (p *MessagePort) runLoopSource(order int) (*port.Source, error) {
	if p.remote {
		return nil, ErrNotLocal
	}
	p.f.registry().CheckFork()

	p.mu.Lock()
	switch {
	case !p.valid:
		p.mu.Unlock()
		return nil, types.ErrPortIsInvalid
	case p.dispatch != nil:
		p.mu.Unlock()
		return nil, ErrDispatching
	case p.port == nil:
		p.mu.Unlock()
		return nil, ErrAnonymous
	}
	w := p.port
	p.mu.Unlock()

	src := w.Source(order)
	if src == nil {
		return nil, types.ErrPortIsInvalid
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.valid || p.port != w:
		return nil, types.ErrPortIsInvalid
	case p.dispatch != nil:
		return nil, ErrDispatching
	}
	p.hasSource = true
	return src, nil
}

// ScheduleInRunLoop 把本地端口挂接到运行循环的 mode 下
//
// 改名后挂接自动迁移到新的原生端点。
func (p *MessagePort) ScheduleInRunLoop(loop interfaces.Reactor, mode string) error {
	src, err := p.runLoopSource(0)
	if err != nil {
		if err == ErrAnonymous {
			log.Warn("匿名本地端口挂接到运行循环不会收到任何消息", "port", p)
		}
		return err
	}
	p.mu.Lock()
	p.scheduled[schedule{loop: loop, mode: mode}] = struct{}{}
	p.mu.Unlock()

	loop.AddSource(src, mode)
	return nil
}

// UnscheduleFromRunLoop 从运行循环的 mode 下摘除本地端口
func (p *MessagePort) UnscheduleFromRunLoop(loop interfaces.Reactor, mode string) {
	p.mu.Lock()
	delete(p.scheduled, schedule{loop: loop, mode: mode})
	w := p.port
	has := p.hasSource
	p.mu.Unlock()

	if w == nil || !has {
		return
	}
	if src := w.Source(0); src != nil {
		loop.RemoveSource(src, mode)
	}
}

// ============================================================================
//                              工作队列
// ============================================================================

// SetDispatchQueue 把本地端口挂接到工作队列，q 为 nil 时取消挂接
//
// 已失效端口、远程端口和已创建运行循环事件源的端口被拒绝。
func (p *MessagePort) SetDispatchQueue(q interfaces.WorkQueue) error {
	if p.remote {
		log.Warn("远程端口不能挂接工作队列", "port", p)
		return ErrNotLocal
	}
	p.f.registry().CheckFork()

	p.mu.Lock()
	if !p.valid {
		p.mu.Unlock()
		log.Warn("已失效端口不能挂接工作队列", "port", p)
		return types.ErrPortIsInvalid
	}
	if p.hasSource {
		p.mu.Unlock()
		log.Warn("端口已有运行循环事件源，不能挂接工作队列", "port", p)
		return ErrHasRunLoopSource
	}
	old := p.dispatch
	w := p.port
	p.dispatch = nil
	p.queue = q
	p.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	if q == nil {
		return nil
	}
	if w == nil {
		log.Warn("匿名本地端口挂接到工作队列不会收到任何消息", "port", p)
		return nil
	}
	return p.startDispatch(w, q)
}

// startDispatch 为端点创建工作队列分派
func (p *MessagePort) startDispatch(w *port.Wrapper, q interfaces.WorkQueue) error {
	src := w.Source(0)
	if src == nil {
		return types.ErrPortIsInvalid
	}
	d, err := reactor.NewDispatchSource(src, q)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if !p.valid || p.port != w || p.queue != q {
		p.mu.Unlock()
		d.Cancel()
		return nil
	}
	p.dispatch = d
	p.mu.Unlock()
	return nil
}
