package port

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dep2p/go-msgport/pkg/types"
)

// Callback 消息回调
//
// msg 及其区域只在回调期间有效；返回的回复由事件源发送，nil 表示不回复。
type Callback func(w *Wrapper, msg *types.Message, info any) *types.Message

// InvalidationCallback 失效回调
type InvalidationCallback func(w *Wrapper, info any)

// ============================================================================
//                              Wrapper
// ============================================================================

// Wrapper 端口包装
type Wrapper struct {
	m      *Manager
	handle types.Handle
	id     uuid.UUID

	mu          sync.Mutex
	valid       bool
	ownsReceive bool
	ownsSend    bool
	callback    Callback
	onInvalid   InvalidationCallback
	ctx         Context
	source      *Source

	refs atomic.Int32
}

// newWrapper 创建包装（在注册表锁内调用，不得回调用户代码）
func newWrapper(m *Manager, h types.Handle, rights Rights, cb Callback, ctx Context) *Wrapper {
	w := &Wrapper{
		m:           m,
		handle:      h,
		id:          uuid.New(),
		valid:       true,
		ownsReceive: rights&RightsReceive != 0,
		ownsSend:    rights&RightsSend != 0,
		callback:    cb,
		ctx:         ctx,
	}
	w.refs.Store(1)
	return w
}

// Handle 返回原生句柄
func (w *Wrapper) Handle() types.Handle {
	return w.handle
}

// ID 返回包装的唯一标识
func (w *Wrapper) ID() uuid.UUID {
	return w.id
}

// Info 返回用户上下文数据
func (w *Wrapper) Info() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx.Info
}

// OwnsReceive 包装是否持有接收权限
func (w *Wrapper) OwnsReceive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ownsReceive
}

// Retain 增加引用
func (w *Wrapper) Retain() *Wrapper {
	w.refs.Add(1)
	return w
}

// TryRetain 包装仍有效且引用未归零时增加引用
//
// 在注册表锁内调用，用于去重时跳过正在失效的包装。
func (w *Wrapper) TryRetain() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.valid {
		return false
	}
	for {
		n := w.refs.Load()
		if n <= 0 {
			return false
		}
		if w.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release 减少引用，最后一个引用释放时失效
func (w *Wrapper) Release() {
	if w.refs.Add(-1) == 0 {
		w.Invalidate()
	}
}

// ============================================================================
//                              有效性
// ============================================================================

// IsValid 包装是否有效
//
// 发现端点已死亡或进程标识已变化时自行失效。
func (w *Wrapper) IsValid() bool {
	w.m.reg.CheckFork()

	w.mu.Lock()
	valid := w.valid
	w.mu.Unlock()
	if !valid {
		return false
	}
	if !w.m.transport.Alive(w.handle) {
		w.Invalidate()
		return false
	}
	return true
}

// stillValid 不探测端点的有效性
func (w *Wrapper) stillValid() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.valid
}

// SetInvalidationCallback 设置失效回调
//
// 包装已失效时立即以当前上下文调用回调。
func (w *Wrapper) SetInvalidationCallback(fn InvalidationCallback) {
	w.m.reg.CheckFork()

	w.mu.Lock()
	if !w.valid {
		info := w.ctx.Info
		w.mu.Unlock()
		if fn != nil {
			fn(w, info)
		}
		return
	}
	w.onInvalid = fn
	w.mu.Unlock()
}

// Invalidate 使包装失效（幂等）
//
// 顺序：移出注册表、调用失效回调、释放上下文、销毁事件源、释放权限。
func (w *Wrapper) Invalidate() {
	w.m.reg.CheckFork()
	w.m.reg.Remove(w.handle, w)

	w.mu.Lock()
	if !w.valid {
		w.mu.Unlock()
		return
	}
	w.valid = false
	onInvalid := w.onInvalid
	ctx := w.ctx
	src := w.source
	ownsSend, ownsReceive := w.ownsSend, w.ownsReceive
	w.onInvalid = nil
	w.callback = nil
	w.source = nil
	w.ctx = Context{Info: ctx.Info}
	w.ownsSend, w.ownsReceive = false, false
	w.mu.Unlock()

	if onInvalid != nil {
		onInvalid(w, ctx.Info)
	}
	ctx.ReleaseInfo()

	if src != nil {
		src.invalidate()
	}

	if err := w.releaseRights(ownsSend, ownsReceive); err != nil {
		log.Warn("释放端点权限失败", "port", w, "err", err)
	}
	log.Debug("端口失效", "port", w)
}

// releaseRights 先释放发送权限再释放接收权限
func (w *Wrapper) releaseRights(send, receive bool) error {
	t := w.m.transport
	var err error
	if send {
		kind := types.RightSend
		if !t.Alive(w.handle) {
			kind = types.RightDeadName
		}
		err = multierr.Append(err, t.ReleaseRight(w.handle, kind))
	}
	if receive {
		err = multierr.Append(err, t.ReleaseRight(w.handle, types.RightReceive))
	}
	return err
}

// ============================================================================
//                              回调
// ============================================================================

// Deliver 把消息交给包装回调
//
// 回调期间持有一次上下文。包装无效或无回调时返回 nil。
func (w *Wrapper) Deliver(msg *types.Message) *types.Message {
	w.m.reg.CheckFork()

	w.mu.Lock()
	if !w.valid || w.callback == nil {
		w.mu.Unlock()
		return nil
	}
	cb := w.callback
	ctx := w.ctx.RetainInfo()
	w.mu.Unlock()

	defer ctx.ReleaseInfo()
	return cb(w, msg, ctx.Info)
}

// Source 返回包装的事件源（首次调用时创建）
//
// 包装无效时返回 nil。
func (w *Wrapper) Source(order int) *Source {
	w.m.reg.CheckFork()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.valid {
		return nil
	}
	if w.source == nil {
		w.source = newSource(w, order)
	}
	return w.source
}

// String 返回包装描述
func (w *Wrapper) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fmt.Sprintf("<port %s handle=%s valid=%t %s>", w.id.String()[:8], w.handle, w.valid, w.ctx.DescribeInfo())
}
