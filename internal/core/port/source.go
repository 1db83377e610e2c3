package port

import (
	"fmt"
	"sync"

	"github.com/dep2p/go-msgport/pkg/interfaces"
	"github.com/dep2p/go-msgport/pkg/types"
)

var _ interfaces.Source = (*Source)(nil)

// Source 端口包装的反应器事件源
type Source struct {
	w     *Wrapper
	order int

	mu      sync.Mutex
	valid   bool
	wakes   map[uint64]func()
	nextID  uint64
	cancels map[uint64]func()
}

func newSource(w *Wrapper, order int) *Source {
	return &Source{
		w:       w,
		order:   order,
		valid:   true,
		wakes:   make(map[uint64]func()),
		cancels: make(map[uint64]func()),
	}
}

// Wrapper 返回所属包装
func (s *Source) Wrapper() *Wrapper {
	return s.w
}

// Order 服务顺序
func (s *Source) Order() int {
	return s.order
}

// IsValid 事件源是否有效
func (s *Source) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// Pending 是否有待处理的消息
func (s *Source) Pending() bool {
	if !s.IsValid() {
		return false
	}
	return s.w.m.transport.Pending(s.w.handle)
}

// Perform 取出一条消息，交给包装回调，并以零超时发送回复
func (s *Source) Perform() {
	if work, ok := s.Next(); ok {
		work()
	}
}

// Next 取出一条消息，返回处理它的工作单元
func (s *Source) Next() (work func(), ok bool) {
	if !s.IsValid() || !s.w.stillValid() {
		return nil, false
	}
	t := s.w.m.transport

	msg, ok, err := t.Receive(s.w.handle)
	if err != nil {
		log.Debug("接收消息失败", "port", s.w, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return func() { s.handle(msg) }, true
}

// handle 交付消息并发送回复
func (s *Source) handle(msg *types.Message) {
	t := s.w.m.transport
	reply := s.w.Deliver(msg)
	if reply != nil {
		if err := t.Send(reply, 0); err != nil {
			log.Debug("发送回复失败", "port", s.w, "err", err)
			t.Destroy(reply)
		}
	}
	// 未被消费的一次性回复权限和区域随消息一起销毁
	t.Destroy(msg)
}

// Watch 注册就绪唤醒回调
//
// 端点有消息入队或事件源失效时调用 wake。
func (s *Source) Watch(wake func()) (cancel func()) {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.wakes[id] = wake
	s.mu.Unlock()

	inner := s.w.m.transport.Watch(s.w.handle, wake)

	s.mu.Lock()
	s.cancels[id] = inner
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.wakes, id)
		c := s.cancels[id]
		delete(s.cancels, id)
		s.mu.Unlock()
		if c != nil {
			c()
		}
	}
}

// invalidate 使事件源失效并唤醒所有等待者，使反应器移除它
func (s *Source) invalidate() {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return
	}
	s.valid = false
	wakes := make([]func(), 0, len(s.wakes))
	for _, fn := range s.wakes {
		wakes = append(wakes, fn)
	}
	cancels := s.cancels
	s.wakes = make(map[uint64]func())
	s.cancels = make(map[uint64]func())
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	for _, fn := range wakes {
		fn()
	}
}

// String 返回事件源描述
func (s *Source) String() string {
	return fmt.Sprintf("<source order=%d %s>", s.order, s.w)
}
