package reactor

import (
	"sync"

	"github.com/dep2p/go-msgport/pkg/interfaces"
)

// Drainable 可逐条取出消息的事件源
type Drainable interface {
	interfaces.Source

	// Next 取出一条消息，返回处理它的工作单元；没有消息时 ok 为 false
	Next() (work func(), ok bool)
}

// DispatchSource 把事件源的消息分派到工作队列
//
// 就绪时在单个取空循环中取出全部消息，每条消息作为独立工作单元提交，
// 同一事件源的多条消息可能并发处理。
type DispatchSource struct {
	src Drainable
	q   interfaces.WorkQueue

	mu       sync.Mutex
	cancel   func()
	draining bool
	again    bool
	closed   bool
}

// NewDispatchSource 创建并启动分派
func NewDispatchSource(src Drainable, q interfaces.WorkQueue) (*DispatchSource, error) {
	if !src.IsValid() {
		return nil, ErrSourceInvalid
	}
	d := &DispatchSource{src: src, q: q}
	cancel := src.Watch(d.signal)

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.signal()
	return d, nil
}

// Source 返回被分派的事件源
func (d *DispatchSource) Source() Drainable {
	return d.src
}

// signal 就绪通知：启动或续期取空循环
func (d *DispatchSource) signal() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.draining {
		d.again = true
		d.mu.Unlock()
		return
	}
	d.draining = true
	d.mu.Unlock()

	for {
		d.drain()

		d.mu.Lock()
		if !d.again || d.closed {
			d.draining = false
			d.mu.Unlock()
			break
		}
		d.again = false
		d.mu.Unlock()
	}

	if !d.src.IsValid() {
		d.Cancel()
	}
}

// drain 取出全部消息并提交
func (d *DispatchSource) drain() {
	for {
		work, ok := d.src.Next()
		if !ok {
			return
		}
		if err := d.q.Submit(work); err != nil {
			log.Warn("提交工作单元失败，在当前 goroutine 处理", "err", err)
			work()
		}
	}
}

// Cancel 停止分派（幂等）
func (d *DispatchSource) Cancel() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Cancelled 是否已停止
func (d *DispatchSource) Cancelled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
