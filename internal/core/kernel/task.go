package kernel

import (
	"fmt"
	"time"

	"github.com/dep2p/go-msgport/internal/util/vmregion"
	"github.com/dep2p/go-msgport/pkg/interfaces"
	"github.com/dep2p/go-msgport/pkg/types"
)

var _ interfaces.Transport = (*Task)(nil)

// right 任务命名空间中一个句柄名上的权限
type right struct {
	port     *port
	receive  bool
	sendRefs int
	sendOnce bool
	deadRefs int
}

func (r *right) empty() bool {
	return !r.receive && r.sendRefs == 0 && !r.sendOnce && r.deadRefs == 0
}

// RightSet 句柄名上的权限快照
type RightSet struct {
	Receive  bool
	Send     int
	SendOnce bool
	Dead     int
}

// Task 一个进程的句柄命名空间
type Task struct {
	k          *Kernel
	pid        int
	nextName   types.Handle
	names      map[types.Handle]*right
	byPort     map[*port]types.Handle
	terminated bool
}

// PID 返回进程标识
func (t *Task) PID() int {
	return t.pid
}

// Kernel 返回所属内核
func (t *Task) Kernel() *Kernel {
	return t.k
}

// newName 分配新句柄名（需持有内核锁）；句柄名不复用
func (t *Task) newName() types.Handle {
	n := t.nextName
	t.nextName++
	return n
}

// drop 移除空权限（需持有内核锁）
func (t *Task) drop(name types.Handle, r *right) {
	if !r.empty() {
		return
	}
	delete(t.names, name)
	if t.byPort[r.port] == name {
		delete(t.byPort, r.port)
	}
}

// nameFor 返回任务中引用 p 的可合并句柄名，不存在则新建（需持有内核锁）
func (t *Task) nameFor(p *port) (types.Handle, *right) {
	if name, ok := t.byPort[p]; ok {
		return name, t.names[name]
	}
	name := t.newName()
	r := &right{port: p}
	t.names[name] = r
	t.byPort[p] = name
	return name, r
}

// ============================================================================
//                              权限管理
// ============================================================================

// Allocate 分配新端点，返回同时持有接收权限和一个发送权限的句柄名
func (t *Task) Allocate() (types.Handle, error) {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()

	if t.terminated {
		return types.NullHandle, ErrTaskTerminated
	}
	p := t.k.newPort(t)
	name, r := t.nameFor(p)
	r.receive = true
	r.sendRefs = 1
	return name, nil
}

// InsertSendRight 为持有接收权限的句柄增加一个发送权限
func (t *Task) InsertSendRight(h types.Handle) error {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()

	r, ok := t.names[h]
	if !ok {
		return ErrInvalidName
	}
	if !r.receive {
		return ErrInvalidRight
	}
	r.sendRefs++
	return nil
}

// ReleaseRight 释放句柄上的一个权限
//
// 释放接收权限会销毁端点；同一句柄名上剩余的发送权限随之变为死亡名，
// 之后只能按死亡名释放。
func (t *Task) ReleaseRight(h types.Handle, kind types.RightKind) error {
	var e effects

	t.k.mu.Lock()
	r, ok := t.names[h]
	if !ok {
		t.k.mu.Unlock()
		return ErrInvalidName
	}

	var err error
	switch kind {
	case types.RightSend:
		if r.sendRefs == 0 {
			err = ErrInvalidRight
			break
		}
		r.sendRefs--
	case types.RightReceive:
		if !r.receive {
			err = ErrInvalidRight
			break
		}
		r.receive = false
		t.k.destroyPort(r.port, &e)
	case types.RightSendOnce:
		if !r.sendOnce {
			err = ErrInvalidRight
			break
		}
		r.sendOnce = false
	case types.RightDeadName:
		if r.deadRefs == 0 {
			err = ErrInvalidRight
			break
		}
		r.deadRefs--
	default:
		err = ErrInvalidRight
	}
	if err == nil {
		t.drop(h, r)
	}
	t.k.mu.Unlock()

	e.run()
	if err != nil {
		return fmt.Errorf("release %s right %s: %w", kind, h, err)
	}
	return nil
}

// Rights 返回句柄名上的权限快照
func (t *Task) Rights(h types.Handle) (RightSet, bool) {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()

	r, ok := t.names[h]
	if !ok {
		return RightSet{}, false
	}
	return RightSet{Receive: r.receive, Send: r.sendRefs, SendOnce: r.sendOnce, Dead: r.deadRefs}, true
}

// NameCount 返回命名空间中的句柄名数量
func (t *Task) NameCount() int {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return len(t.names)
}

// Alive 端点是否存活
func (t *Task) Alive(h types.Handle) bool {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()

	r, ok := t.names[h]
	return ok && !r.port.dead
}

// ============================================================================
//                              发送
// ============================================================================

// resolveDest 解析目标端点（需持有内核锁）
func (t *Task) resolveDest(h types.Header) (*port, error) {
	r, ok := t.names[h.Remote]
	if !ok {
		return nil, ErrInvalidDestination
	}
	var has bool
	switch h.RemoteDisposition() {
	case types.DispositionCopySend, types.DispositionMoveSend:
		has = r.sendRefs > 0
	case types.DispositionMakeSend:
		has = r.receive
	case types.DispositionMoveSendOnce:
		has = r.sendOnce
	default:
		return nil, ErrInvalidHeader
	}
	if !has {
		if r.deadRefs > 0 {
			return nil, ErrInvalidDestination
		}
		return nil, ErrInvalidRight
	}
	if r.port.dead {
		return nil, ErrInvalidDestination
	}
	return r.port, nil
}

// resolveReply 解析回复端点（需持有内核锁）
func (t *Task) resolveReply(h types.Header) (*port, error) {
	switch h.LocalDisposition() {
	case types.DispositionNone:
		if h.Local != types.NullHandle {
			return nil, ErrInvalidReply
		}
		return nil, nil
	case types.DispositionMakeSendOnce:
		r, ok := t.names[h.Local]
		if !ok || !r.receive {
			return nil, ErrInvalidReply
		}
		return r.port, nil
	default:
		return nil, ErrInvalidReply
	}
}

// regionPlan 发送时的区域处理结果
type regionPlan struct {
	out    []*types.Region // 随消息入队
	copies []*types.Region // 内核拷贝，发送失败时释放
	kept   []*types.Region // 被拷贝的原区域，仍归发送方
}

// prepareRegions 按描述符移动或拷贝越界区域
func prepareRegions(msg *types.Message, h types.Header) (regionPlan, error) {
	var plan regionPlan
	if !h.Complex() {
		if h.DescriptorCount != 0 || len(msg.Regions) != 0 {
			return plan, ErrInvalidHeader
		}
		return plan, nil
	}
	n := int(h.DescriptorCount)
	if len(msg.Regions) != n || len(msg.Data) < types.HeaderSize+n*types.DescriptorSize {
		return plan, ErrInvalidHeader
	}

	plan.out = make([]*types.Region, 0, n)
	for i, r := range msg.Regions {
		d, _ := types.ParseDescriptor(msg.Data[types.HeaderSize+i*types.DescriptorSize:])
		if d.Type != types.DescriptorTypeOOL || r.Released() {
			releaseAll(plan.copies)
			return regionPlan{}, ErrInvalidHeader
		}
		if d.Deallocate {
			plan.out = append(plan.out, r)
			continue
		}
		c, err := vmregion.Allocate(r.Bytes())
		if err != nil {
			releaseAll(plan.copies)
			return regionPlan{}, fmt.Errorf("copy region: %w", err)
		}
		plan.copies = append(plan.copies, c)
		plan.kept = append(plan.kept, r)
		plan.out = append(plan.out, c)
	}
	return plan, nil
}

func releaseAll(rs []*types.Region) {
	for _, r := range rs {
		r.Release()
	}
}

// Send 发送消息
//
// timeout < 0 表示一直等待队列空间；timeout == 0 在队列满时立即返回 ErrSendTimedOut。
// 一次性发送权限的消息不受队列上限约束。成功时被移动的区域归内核所有；
// 失败时消息仍归调用方，由调用方 Destroy。
func (t *Task) Send(msg *types.Message, timeout time.Duration) error {
	h, ok := msg.Header()
	if !ok || int(h.Size) != len(msg.Data) {
		return ErrInvalidHeader
	}
	plan, err := prepareRegions(msg, h)
	if err != nil {
		return err
	}

	var timer <-chan time.Time
	k := t.k
	k.mu.Lock()
	for {
		if t.terminated {
			err = ErrTaskTerminated
			break
		}
		var dest, reply *port
		if dest, err = t.resolveDest(h); err != nil {
			break
		}
		if reply, err = t.resolveReply(h); err != nil {
			break
		}
		once := h.RemoteDisposition() == types.DispositionMoveSendOnce
		if once || len(dest.queue) < k.queueLimit {
			var e effects
			dest.enqueue(&envelope{
				data:     append([]byte(nil), msg.Data...),
				regions:  plan.out,
				reply:    reply,
				destOnce: once,
			}, &e)
			if once {
				r := t.names[h.Remote]
				r.sendOnce = false
				t.drop(h.Remote, r)
			}
			k.mu.Unlock()
			msg.Regions = plan.kept
			e.run()
			return nil
		}
		if timeout == 0 {
			err = ErrSendTimedOut
			break
		}
		space := dest.space
		k.mu.Unlock()

		if timer == nil && timeout > 0 {
			tm := k.clock.Timer(timeout)
			defer tm.Stop()
			timer = tm.C
		}
		select {
		case <-space:
		case <-timer:
			releaseAll(plan.copies)
			return ErrSendTimedOut
		}
		k.mu.Lock()
	}
	k.mu.Unlock()
	releaseAll(plan.copies)
	return err
}

// ============================================================================
//                              接收
// ============================================================================

// Pending 句柄上是否有待接收的消息
func (t *Task) Pending(h types.Handle) bool {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()

	r, ok := t.names[h]
	return ok && r.receive && len(r.port.queue) > 0
}

// Receive 非阻塞地取出一条消息
//
// 消息头被改写为接收方视角：Remote 为回复用的一次性发送权限句柄名，Local 为 h。
func (t *Task) Receive(h types.Handle) (*types.Message, bool, error) {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()

	r, ok := t.names[h]
	if !ok {
		return nil, false, ErrInvalidName
	}
	if !r.receive {
		return nil, false, ErrInvalidRight
	}
	p := r.port
	if len(p.queue) == 0 {
		return nil, false, nil
	}
	env := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.signalSpace()

	hdr, _ := types.ParseHeader(env.data)
	replyDisp := types.DispositionNone
	hdr.Remote = types.NullHandle
	if env.reply != nil && !env.reply.dead {
		name := t.newName()
		t.names[name] = &right{port: env.reply, sendOnce: true}
		hdr.Remote = name
		replyDisp = types.DispositionMoveSendOnce
	}
	localDisp := types.DispositionMoveSend
	if env.destOnce {
		localDisp = types.DispositionMoveSendOnce
	}
	hdr.Bits = types.MakeBits(replyDisp, localDisp) | (hdr.Bits & types.BitsComplex)
	hdr.Local = h
	hdr.Put(env.data)

	return &types.Message{Data: env.data, Regions: env.regions}, true, nil
}

// Destroy 销毁消息：释放区域，以及消息头中以 move-send-once 方式携带的一次性发送权限
func (t *Task) Destroy(msg *types.Message) {
	if msg == nil {
		return
	}
	msg.ReleaseRegions()

	h, ok := msg.Header()
	if !ok || h.RemoteDisposition() != types.DispositionMoveSendOnce || h.Remote.IsNull() {
		return
	}
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	if r, ok := t.names[h.Remote]; ok && r.sendOnce {
		r.sendOnce = false
		t.drop(h.Remote, r)
	}
}

// ============================================================================
//                              通知
// ============================================================================

// RequestDeathNotification 端点死亡时向 notify 投递死亡通知
//
// 端点已死亡时立即投递。
func (t *Task) RequestDeathNotification(h, notify types.Handle) error {
	var e effects

	t.k.mu.Lock()
	r, ok := t.names[h]
	if !ok {
		t.k.mu.Unlock()
		return ErrInvalidName
	}
	n, ok := t.names[notify]
	if !ok || !n.receive {
		t.k.mu.Unlock()
		return ErrInvalidRight
	}
	req := deathRequest{task: t, name: h, notify: n.port}
	if r.port.dead {
		t.k.notifyDeath(req, &e)
	} else {
		r.port.deaths = append(r.port.deaths, req)
	}
	t.k.mu.Unlock()

	e.run()
	return nil
}

// Watch 注册就绪回调
//
// 回调在消息入队或端点死亡时调用，调用时不持有内核锁。
func (t *Task) Watch(h types.Handle, fn func()) (cancel func()) {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()

	r, ok := t.names[h]
	if !ok {
		return func() {}
	}
	p := r.port
	id := p.nextWatch
	p.nextWatch++
	p.watchers[id] = fn
	return func() {
		t.k.mu.Lock()
		delete(p.watchers, id)
		t.k.mu.Unlock()
	}
}

// ============================================================================
//                              跨任务权限
// ============================================================================

// CopySendTo 把 h 的一个发送权限拷贝到 dst，返回 dst 中的句柄名
//
// h 上持有接收权限时按 make-send 处理。
func (t *Task) CopySendTo(dst *Task, h types.Handle) (types.Handle, error) {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()

	r, ok := t.names[h]
	if !ok {
		return types.NullHandle, ErrInvalidName
	}
	if r.sendRefs == 0 && !r.receive {
		return types.NullHandle, ErrInvalidRight
	}
	if r.port.dead {
		return types.NullHandle, ErrInvalidDestination
	}
	if dst.terminated {
		return types.NullHandle, ErrTaskTerminated
	}
	name, dr := dst.nameFor(r.port)
	dr.sendRefs++
	return name, nil
}

// MoveReceiveTo 把 h 的接收权限移动到 dst，返回 dst 中的句柄名
func (t *Task) MoveReceiveTo(dst *Task, h types.Handle) (types.Handle, error) {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()

	r, ok := t.names[h]
	if !ok {
		return types.NullHandle, ErrInvalidName
	}
	if !r.receive {
		return types.NullHandle, ErrInvalidRight
	}
	if dst.terminated {
		return types.NullHandle, ErrTaskTerminated
	}
	p := r.port
	r.receive = false
	t.drop(h, r)

	name, dr := dst.nameFor(p)
	dr.receive = true
	p.receiver = dst
	return name, nil
}

// ============================================================================
//                              任务终止
// ============================================================================

// Terminate 终止任务：释放全部权限，其接收的端点全部死亡
func (t *Task) Terminate() {
	var e effects

	t.k.mu.Lock()
	if t.terminated {
		t.k.mu.Unlock()
		return
	}
	t.terminated = true
	for _, r := range t.names {
		if r.receive {
			r.receive = false
			t.k.destroyPort(r.port, &e)
		}
	}
	t.names = make(map[types.Handle]*right)
	t.byPort = make(map[*port]types.Handle)
	delete(t.k.tasks, t.pid)
	t.k.mu.Unlock()

	e.run()
	log.Debug("任务终止", "pid", t.pid)
}
