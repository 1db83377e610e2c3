package kernel

import (
	"encoding/binary"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-msgport/internal/util/logger"
	"github.com/dep2p/go-msgport/pkg/types"
)

var log = logger.Logger("kernel")

// DefaultQueueLimit 默认端点队列上限
const DefaultQueueLimit = 5

// firstPID 第一个任务的进程标识
const firstPID = 100

// ============================================================================
//                              Kernel
// ============================================================================

// Option 内核选项
type Option func(*Kernel)

// WithQueueLimit 设置端点队列上限
func WithQueueLimit(n int) Option {
	return func(k *Kernel) {
		if n > 0 {
			k.queueLimit = n
		}
	}
}

// WithClock 设置发送超时使用的时钟
func WithClock(c clock.Clock) Option {
	return func(k *Kernel) {
		if c != nil {
			k.clock = c
		}
	}
}

// Kernel 模拟的机器
//
// 所有端点和任务状态由一把内核锁保护；就绪回调总是在释放内核锁之后调用。
type Kernel struct {
	mu         sync.Mutex
	clock      clock.Clock
	queueLimit int
	nextPID    int
	nextPort   uint64
	tasks      map[int]*Task
}

// New 创建内核
func New(opts ...Option) *Kernel {
	k := &Kernel{
		clock:      clock.New(),
		queueLimit: DefaultQueueLimit,
		nextPID:    firstPID,
		tasks:      make(map[int]*Task),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// NewTask 创建一个新任务（进程）
func (k *Kernel) NewTask() *Task {
	k.mu.Lock()
	defer k.mu.Unlock()

	t := &Task{
		k:        k,
		pid:      k.nextPID,
		nextName: 0x1003,
		names:    make(map[types.Handle]*right),
		byPort:   make(map[*port]types.Handle),
	}
	k.nextPID++
	k.tasks[t.pid] = t
	log.Debug("创建任务", "pid", t.pid)
	return t
}

// Task 按进程标识查找任务
func (k *Kernel) Task(pid int) (*Task, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, ok := k.tasks[pid]
	return t, ok
}

// QueueLimit 返回端点队列上限
func (k *Kernel) QueueLimit() int {
	return k.queueLimit
}

// Clock 返回内核时钟
func (k *Kernel) Clock() clock.Clock {
	return k.clock
}

// ============================================================================
//                              端点
// ============================================================================

// envelope 在队列中的消息
type envelope struct {
	data     []byte
	regions  []*types.Region
	reply    *port
	destOnce bool
}

// deathRequest 死亡通知登记
type deathRequest struct {
	task   *Task
	name   types.Handle
	notify *port
}

// port 内核端点
type port struct {
	id        uint64
	receiver  *Task
	queue     []*envelope
	dead      bool
	space     chan struct{}
	watchers  map[uint64]func()
	nextWatch uint64
	deaths    []deathRequest
}

// newPort 创建端点（需持有内核锁）
func (k *Kernel) newPort(receiver *Task) *port {
	k.nextPort++
	return &port{
		id:       k.nextPort,
		receiver: receiver,
		space:    make(chan struct{}),
		watchers: make(map[uint64]func()),
	}
}

// effects 释放内核锁后执行的副作用
type effects struct {
	wake    []func()
	regions []*types.Region
}

func (e *effects) run() {
	for _, r := range e.regions {
		if err := r.Release(); err != nil {
			log.Warn("释放区域失败", "err", err)
		}
	}
	for _, fn := range e.wake {
		fn()
	}
}

// watchersOf 快照端点的就绪回调
func (p *port) watchersOf(e *effects) {
	for _, fn := range p.watchers {
		e.wake = append(e.wake, fn)
	}
}

// enqueue 入队并收集就绪回调（需持有内核锁）
func (p *port) enqueue(env *envelope, e *effects) {
	p.queue = append(p.queue, env)
	p.watchersOf(e)
}

// signalSpace 通知等待队列空间的发送方（需持有内核锁）
func (p *port) signalSpace() {
	close(p.space)
	p.space = make(chan struct{})
}

// deadNameNotification 构造死亡通知
func deadNameNotification(name types.Handle) *envelope {
	data := make([]byte, types.HeaderSize+4)
	types.Header{
		Size: uint32(len(data)),
		ID:   types.NotifyDeadName,
	}.Put(data)
	binary.LittleEndian.PutUint32(data[types.HeaderSize:], uint32(name))
	return &envelope{data: data, destOnce: true}
}

// notifyDeath 向登记的通知端点投递死亡通知（需持有内核锁）
func (k *Kernel) notifyDeath(req deathRequest, e *effects) {
	if req.notify == nil || req.notify.dead || req.task.terminated {
		return
	}
	req.notify.enqueue(deadNameNotification(req.name), e)
}

// destroyPort 销毁端点（需持有内核锁）
//
// 队列中的消息被销毁；所有任务对该端点的发送权限和一次性发送权限变为死亡名；
// 登记的死亡通知被投递。
func (k *Kernel) destroyPort(p *port, e *effects) {
	if p.dead {
		return
	}
	p.dead = true
	p.receiver = nil

	for _, env := range p.queue {
		e.regions = append(e.regions, env.regions...)
	}
	p.queue = nil

	for _, t := range k.tasks {
		for _, r := range t.names {
			if r.port != p {
				continue
			}
			r.deadRefs += r.sendRefs
			r.sendRefs = 0
			if r.sendOnce {
				r.sendOnce = false
				r.deadRefs++
			}
		}
	}

	deaths := p.deaths
	p.deaths = nil
	for _, req := range deaths {
		if r, ok := req.task.names[req.name]; ok && r.port == p {
			k.notifyDeath(req, e)
		}
	}

	p.watchersOf(e)
	p.signalSpace()
	log.Debug("端点死亡", "port", p.id)
}
