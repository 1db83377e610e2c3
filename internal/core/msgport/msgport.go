package msgport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dep2p/go-msgport/internal/core/framing"
	"github.com/dep2p/go-msgport/internal/core/port"
	"github.com/dep2p/go-msgport/internal/core/reactor"
	"github.com/dep2p/go-msgport/internal/core/registry"
	"github.com/dep2p/go-msgport/pkg/interfaces"
	"github.com/dep2p/go-msgport/pkg/types"
)

// Callback 本地端口的请求回调
//
// data 只在回调期间有效。返回值作为回复负载，nil 表示空回复；
// 请求方不需要回复时返回值被丢弃。
type Callback func(p *MessagePort, msgid int32, data []byte, info any) []byte

// InvalidationCallback 端口失效回调
type InvalidationCallback func(p *MessagePort, info any)

var _ registry.Named = (*MessagePort)(nil)

// schedule 一次运行循环挂接
type schedule struct {
	loop interfaces.Reactor
	mode string
}

// pending 等待中的回复
type pending struct {
	loop    interfaces.Reactor
	arrived bool
	data    []byte
}

// MessagePort 命名消息端口
//
// 方向在构造后不可变。失效后除名字外的可变字段全部清空，后续操作为空操作或返回 ErrPortIsInvalid。
type MessagePort struct {
	f      *Factory
	remote bool
	perPID bool

	mu        sync.Mutex
	valid     bool
	name      string
	port      *port.Wrapper
	ownsPort  bool
	callback  Callback
	ctx       port.Context
	onInvalid InvalidationCallback

	// 本地端口的交付
	hasSource bool
	scheduled map[schedule]struct{}
	dispatch  *reactor.DispatchSource
	queue     interfaces.WorkQueue

	// 远程端口的会话
	counter   int32
	replies   map[int32]*pending
	replyPort *port.Wrapper
}

func newMessagePort(f *Factory, name string, remote, perPID bool, cb Callback) *MessagePort {
	return &MessagePort{
		f:         f,
		remote:    remote,
		perPID:    perPID,
		valid:     true,
		name:      name,
		callback:  cb,
		scheduled: make(map[schedule]struct{}),
		replies:   make(map[int32]*pending),
	}
}

// attach 关联端口包装
//
// owned 为 true 时端口包装的失效会使本端口失效；包装已失效时立即失效。
func (p *MessagePort) attach(w *port.Wrapper, owned bool) {
	p.mu.Lock()
	p.port = w
	p.ownsPort = owned
	p.mu.Unlock()

	if owned {
		w.SetInvalidationCallback(p.portInvalidated)
	}
}

// portInvalidated 端口包装的失效回调
func (p *MessagePort) portInvalidated(w *port.Wrapper, _ any) {
	p.mu.Lock()
	current := p.port == w
	p.mu.Unlock()
	if current {
		p.Invalidate()
	}
}

// ============================================================================
//                              属性
// ============================================================================

// Name 返回端口名字，匿名端口为空
func (p *MessagePort) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// IsRemote 是否为远程端口
func (p *MessagePort) IsRemote() bool {
	return p.remote
}

// IsPerProcess 是否为进程范围的端口
func (p *MessagePort) IsPerProcess() bool {
	return p.perPID
}

// Context 返回用户上下文
func (p *MessagePort) Context() port.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

// InvalidationCallback 返回失效回调
func (p *MessagePort) InvalidationCallback() InvalidationCallback {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onInvalid
}

// Handle 返回原生句柄，没有原生端点时返回空句柄
func (p *MessagePort) Handle() types.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return types.NullHandle
	}
	return p.port.Handle()
}

// String 返回端口描述
func (p *MessagePort) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	dir := types.DirectionLocal
	if p.remote {
		dir = types.DirectionRemote
	}
	handle := types.NullHandle
	if p.port != nil {
		handle = p.port.Handle()
	}
	return fmt.Sprintf("<msgport %s name=%q handle=%s valid=%t per-process=%t %s>",
		dir, p.name, handle, p.valid, p.perPID, p.ctx.DescribeInfo())
}

// ============================================================================
//                              有效性
// ============================================================================

// IsValid 端口是否有效
//
// 探测原生端点和回复端点，发现任一已死亡或进程标识已变化时使端口失效。
func (p *MessagePort) IsValid() bool {
	p.f.registry().CheckFork()

	p.mu.Lock()
	valid, w, rp := p.valid, p.port, p.replyPort
	p.mu.Unlock()
	if !valid {
		return false
	}
	if (w != nil && !w.IsValid()) || (rp != nil && !rp.IsValid()) {
		p.Invalidate()
		return false
	}
	return true
}

// SetInvalidationCallback 设置失效回调
//
// 端口已失效时立即在调用方 goroutine 中调用回调。
func (p *MessagePort) SetInvalidationCallback(fn InvalidationCallback) {
	p.IsValid()

	p.mu.Lock()
	if !p.valid {
		info := p.ctx.Info
		p.mu.Unlock()
		if fn != nil {
			fn(p, info)
		}
		return
	}
	p.onInvalid = fn
	p.mu.Unlock()
}

// Invalidate 使端口失效（幂等，可重入）
//
// 顺序：移出名字表、取消工作队列分派、调用失效回调、释放上下文、
// 失效回复端点、释放原生端点，最后探测同进程的远程端口。
func (p *MessagePort) Invalidate() {
	reg := p.f.registry()
	reg.CheckFork()

	p.mu.Lock()
	if !p.valid {
		p.mu.Unlock()
		return
	}
	p.valid = false
	name := p.name
	w, owns := p.port, p.ownsPort
	onInvalid := p.onInvalid
	ctx := p.ctx
	dispatch := p.dispatch
	rp := p.replyPort
	waiters := make([]interfaces.Reactor, 0, len(p.replies))
	for _, pd := range p.replies {
		if pd.loop != nil {
			waiters = append(waiters, pd.loop)
		}
	}
	p.port = nil
	p.ownsPort = false
	p.onInvalid = nil
	p.callback = nil
	p.ctx = port.Context{Info: ctx.Info}
	p.dispatch = nil
	p.queue = nil
	p.scheduled = make(map[schedule]struct{})
	p.replyPort = nil
	p.replies = make(map[int32]*pending)
	p.mu.Unlock()

	if name != "" && !p.perPID {
		reg.RemoveName(p.direction(), name, p)
	}
	if dispatch != nil {
		dispatch.Cancel()
	}
	if onInvalid != nil {
		onInvalid(p, ctx.Info)
	}
	if !p.remote {
		ctx.ReleaseInfo()
	}
	if rp != nil {
		rp.Invalidate()
	}
	if w != nil {
		if owns {
			w.SetInvalidationCallback(nil)
			w.Invalidate()
		} else {
			w.Release()
		}
	}
	for _, l := range waiters {
		l.Stop()
	}
	log.Debug("命名消息端口失效", "name", name, "remote", p.remote)

	// 同进程中指向已死亡端点的远程端口随之失效
	for _, r := range reg.Remotes() {
		r.IsValid()
	}
}

func (p *MessagePort) direction() types.Direction {
	if p.remote {
		return types.DirectionRemote
	}
	return types.DirectionLocal
}

// ============================================================================
//                              改名
// ============================================================================

// SetName 为本地端口绑定新名字
//
// 远程端口、进程范围端口、已失效端口，以及新名字被另一个仍有效的本地端口占用时返回 false。
// 成功时换用新的原生端点，旧端点被释放，运行循环和工作队列挂接迁移到新端点。
func (p *MessagePort) SetName(name string) bool {
	f := p.f
	reg := f.registry()
	reg.CheckFork()

	name, err := sanitizeName(name)
	if err != nil || name == "" {
		log.Warn("名字无效，改名失败", "port", p, "err", err)
		return false
	}
	if p.remote || p.perPID {
		return false
	}

	f.createMu.Lock()
	defer f.createMu.Unlock()

	p.mu.Lock()
	if !p.valid {
		p.mu.Unlock()
		return false
	}
	old := p.name
	p.mu.Unlock()
	if old == name {
		return true
	}
	if existing, ok := f.lookupValid(types.DirectionLocal, name); ok && existing != p {
		return false
	}

	w, err := f.bind(name, types.GlobalScope(), p.perform)
	if err != nil {
		log.Warn("绑定新名字失败", "name", name, "err", err)
		return false
	}
	if _, won := f.claimName(types.DirectionLocal, name, p); !won {
		w.Invalidate()
		return false
	}

	p.mu.Lock()
	if !p.valid {
		p.mu.Unlock()
		reg.RemoveName(types.DirectionLocal, name, p)
		w.Invalidate()
		return false
	}
	oldW := p.port
	p.port = w
	p.ownsPort = true
	p.name = name
	schedules := make([]schedule, 0, len(p.scheduled))
	for s := range p.scheduled {
		schedules = append(schedules, s)
	}
	hasSource := p.hasSource
	oldDispatch, q := p.dispatch, p.queue
	p.dispatch = nil
	p.mu.Unlock()

	w.SetInvalidationCallback(p.portInvalidated)
	if old != "" {
		reg.RemoveName(types.DirectionLocal, old, p)
	}
	if oldDispatch != nil {
		oldDispatch.Cancel()
	}
	if oldW != nil {
		oldW.SetInvalidationCallback(nil)
		oldW.Invalidate()
	}

	if hasSource {
		if src := w.Source(0); src != nil {
			for _, s := range schedules {
				s.loop.AddSource(src, s.mode)
			}
		}
	}
	if q != nil {
		if err := p.startDispatch(w, q); err != nil {
			log.Warn("迁移工作队列分派失败", "port", p, "err", err)
		}
	}
	log.Debug("本地端口改名", "old", old, "new", name)
	return true
}

// ============================================================================
//                              交付
// ============================================================================

// perform 本地端口包装的消息回调：解码请求、调用用户回调、编码回复
func (p *MessagePort) perform(_ *port.Wrapper, msg *types.Message, _ any) *types.Message {
	env, err := framing.Decode(framing.Request, msg)
	if err != nil {
		p.dropFrame(framing.Request, err)
		return nil
	}

	p.mu.Lock()
	if !p.valid || p.callback == nil {
		p.mu.Unlock()
		return nil
	}
	cb := p.callback
	ctx := p.ctx.RetainInfo()
	name := p.name
	p.mu.Unlock()

	p.f.metrics.LogRecvMessage(name, int64(len(env.Payload)))
	out := cb(p, env.MessageID, env.Payload, ctx.Info)
	ctx.ReleaseInfo()

	if env.ReplyTo.IsNull() {
		return nil
	}
	if len(out) > framing.MaxDataSize {
		log.Warn("回复超过负载上限，改为空回复", "port", name, "size", len(out))
		out = nil
	}
	reply, err := framing.Encode(framing.Reply, env.ReplyTo, types.NullHandle, -env.ConversationID, env.MessageID, out)
	if err != nil {
		log.Warn("编码回复失败", "port", name, "err", err)
		p.f.metrics.LogSendFailure(name, types.StatusOf(err).String())
		return nil
	}
	p.f.metrics.LogSentMessage(name, int64(len(out)))
	return reply
}

// replyCallback 回复端点的消息回调：校验回复并登记到等待表
func (p *MessagePort) replyCallback(_ *port.Wrapper, msg *types.Message, _ any) *types.Message {
	env, err := framing.Decode(framing.Reply, msg)
	if err != nil {
		p.dropFrame(framing.Reply, err)
		return nil
	}

	p.mu.Lock()
	pd, ok := p.replies[env.ConversationID]
	if !ok || pd.arrived {
		p.mu.Unlock()
		log.Debug("丢弃无人等待的回复", "conversation", env.ConversationID)
		return nil
	}
	pd.arrived = true
	pd.data = env.CopyPayload()
	loop := pd.loop
	name := p.name
	p.mu.Unlock()

	p.f.metrics.LogRecvMessage(name, int64(len(pd.data)))
	if loop != nil {
		loop.Stop()
	}
	return nil
}

// dropFrame 记录被丢弃的损坏帧
func (p *MessagePort) dropFrame(role framing.Role, err error) {
	name := p.Name()
	reason := "corrupt"
	var fe *types.FrameError
	if errors.As(err, &fe) {
		reason = fe.Check.String()
	}
	p.f.metrics.LogDroppedFrame(name, reason)
	p.f.drops.Warn("丢弃损坏的消息", "port", name, "role", role, "err", err)
}
