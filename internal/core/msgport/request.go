package msgport

import (
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/go-msgport/internal/core/framing"
	"github.com/dep2p/go-msgport/internal/core/port"
	"github.com/dep2p/go-msgport/internal/core/reactor"
	"github.com/dep2p/go-msgport/pkg/interfaces"
	"github.com/dep2p/go-msgport/pkg/types"
)

const (
	// NoTimeout 不小于此值的发送超时视为一直等待
	NoTimeout = 10 * 24 * time.Hour

	// ReplySourceOrder 回复端点事件源的服务顺序
	ReplySourceOrder = -100
)

// SendOptions 请求发送选项
type SendOptions struct {
	// SendTimeout 等待目标队列空间的时间
	SendTimeout time.Duration

	// ReceiveTimeout 等待回复的时间
	ReceiveTimeout time.Duration

	// ReplyMode 等待回复时运行循环的模式，为空表示不需要回复
	ReplyMode string

	// Loop 等待回复时驱动的运行循环，为 nil 时使用一次性的私有运行循环
	Loop interfaces.Reactor
}

// transportTimeout 把发送超时换算为传输层超时（毫秒精度）
func transportTimeout(d time.Duration) time.Duration {
	if d >= NoTimeout {
		return -1
	}
	if d < time.Millisecond {
		return 0
	}
	return d.Truncate(time.Millisecond)
}

// SendRequest 发送请求，需要回复时阻塞等待
//
// 不需要回复时成功返回 nil, nil。回复为空时返回非 nil 的空切片。
// 错误可用 errors.Is 匹配 types.ErrPayloadTooLarge、ErrPortIsInvalid、ErrSendTimeout、
// ErrReceiveTimeout、ErrTransport 和 ErrBecameInvalid。
func (p *MessagePort) SendRequest(msgid int32, data []byte, opts SendOptions) ([]byte, error) {
	if err := framing.CheckPayloadSize(len(data)); err != nil {
		return nil, err
	}
	if !p.remote {
		return nil, ErrNotRemote
	}
	wantsReply := opts.ReplyMode != ""
	f := p.f
	f.registry().CheckFork()

	p.mu.Lock()
	if !p.valid {
		p.mu.Unlock()
		return nil, types.ErrPortIsInvalid
	}
	needReplyPort := wantsReply && p.replyPort == nil
	p.mu.Unlock()

	// 回复端点在端口锁外创建：创建会获取注册表锁
	var fresh *port.Wrapper
	if needReplyPort {
		rp, err := f.mgr.Create(p.replyCallback, port.Context{})
		if err != nil {
			return nil, err
		}
		fresh = rp
	}
	defer func() {
		if fresh != nil {
			fresh.Invalidate()
		}
	}()

	p.mu.Lock()
	if !p.valid {
		p.mu.Unlock()
		return nil, types.ErrPortIsInvalid
	}
	w := p.port.Retain()
	defer w.Release()

	var replyPort *port.Wrapper
	if wantsReply {
		if p.replyPort == nil && fresh != nil {
			p.replyPort, fresh = fresh, nil
		}
		replyPort = p.replyPort
	}

	p.counter++
	if p.counter <= 0 {
		p.counter = 1
	}
	conv := p.counter
	name := p.name

	replyTo := types.NullHandle
	if replyPort != nil {
		replyTo = replyPort.Handle()
	}
	msg, err := framing.Encode(framing.Request, w.Handle(), replyTo, conv, msgid, data)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	loop := opts.Loop
	if wantsReply {
		if loop == nil {
			loop = reactor.New(reactor.WithClock(f.clock))
		}
		p.replies[-conv] = &pending{loop: loop}
	}
	p.mu.Unlock()

	var undo []func()
	if wantsReply {
		undo = p.register(loop, opts.ReplyMode, replyPort)
	}
	cleanup := func() {
		for _, fn := range undo {
			fn()
		}
		p.mu.Lock()
		delete(p.replies, -conv)
		p.mu.Unlock()
	}

	t := f.mgr.Transport()
	if err := t.Send(msg, transportTimeout(opts.SendTimeout)); err != nil {
		t.Destroy(msg)
		cleanup()
		if errors.Is(err, types.ErrSendTimeout) {
			f.metrics.LogSendFailure(name, types.StatusSendTimeout.String())
			return nil, fmt.Errorf("%w: %q", types.ErrSendTimeout, name)
		}
		f.metrics.LogSendFailure(name, types.StatusTransportError.String())
		return nil, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	f.metrics.LogSentMessage(name, int64(len(data)))

	if !wantsReply {
		cleanup()
		return nil, nil
	}

	reply, arrived := p.awaitReply(loop, opts.ReplyMode, opts.ReceiveTimeout, -conv)
	cleanup()
	if arrived {
		if reply == nil {
			reply = []byte{}
		}
		return reply, nil
	}
	if p.IsValid() {
		f.metrics.LogSendFailure(name, types.StatusReceiveTimeout.String())
		return nil, fmt.Errorf("%w: %q after %s", types.ErrReceiveTimeout, name, opts.ReceiveTimeout)
	}
	f.metrics.LogSendFailure(name, types.StatusBecameInvalid.String())
	return nil, fmt.Errorf("%w: %q", types.ErrBecameInvalid, name)
}

// register 把回复端点和死亡通知事件源注册到运行循环的回复模式
//
// 已注册的事件源不重复注册；返回撤销本次注册的函数。
func (p *MessagePort) register(loop interfaces.Reactor, mode string, rp *port.Wrapper) []func() {
	var undo []func()
	add := func(src interfaces.Source) {
		if src == nil || loop.ContainsSource(src, mode) {
			return
		}
		loop.AddSource(src, mode)
		undo = append(undo, func() { loop.RemoveSource(src, mode) })
	}
	if src := rp.Source(ReplySourceOrder); src != nil {
		add(src)
	}
	if src := p.f.mgr.NotifySource(); src != nil {
		add(src)
	}
	return undo
}

// awaitReply 驱动运行循环直到回复到达、截止时间过去或端口失效
func (p *MessagePort) awaitReply(loop interfaces.Reactor, mode string, timeout time.Duration, key int32) ([]byte, bool) {
	clk := p.f.clock
	deadline := clk.Now().Add(timeout)
	for {
		if data, ok := p.takeReply(key); ok {
			return data, true
		}
		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 || !p.IsValid() {
			break
		}
		loop.RunInMode(mode, remaining, true)
	}
	return p.takeReply(key)
}

// takeReply 取出已到达的回复
func (p *MessagePort) takeReply(key int32) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pd, ok := p.replies[key]
	if !ok || !pd.arrived {
		return nil, false
	}
	delete(p.replies, key)
	return pd.data, true
}
