package msgport

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/dep2p/go-msgport/internal/core/kernel"
	"github.com/dep2p/go-msgport/internal/core/msgport"
	"github.com/dep2p/go-msgport/internal/core/port"
	"github.com/dep2p/go-msgport/internal/core/reactor"
	"github.com/dep2p/go-msgport/internal/core/registry"
)

// Process 一个进程：独立的句柄空间、端点注册表和端口工厂
type Process struct {
	m       *Machine
	task    *kernel.Task
	reg     *registry.Registry
	mgr     *port.Manager
	factory *msgport.Factory

	mu     sync.Mutex
	loops  []*RunLoop
	queues []*WorkQueue
	closed bool
}

func newProcess(m *Machine, task *kernel.Task, opts ...ProcessOption) *Process {
	o := processOptions{identity: task.PID}
	for _, opt := range opts {
		opt(&o)
	}
	if o.identity == nil {
		o.identity = task.PID
	}

	reg := registry.New(registry.WithIdentity(o.identity))
	mgr := port.NewManager(task, reg)
	f := msgport.NewFactory(mgr, m.dir.Client(task),
		msgport.WithConfig(m.cfg.MessagePort),
		msgport.WithMetrics(m.reporter),
		msgport.WithClock(m.kernel.Clock()),
	)
	return &Process{
		m:       m,
		task:    task,
		reg:     reg,
		mgr:     mgr,
		factory: f,
	}
}

// PID 返回进程的任务标识
func (p *Process) PID() int {
	return p.task.PID()
}

// Machine 返回进程所在的机器
func (p *Process) Machine() *Machine {
	return p.m
}

// CheckFork 检查进程标识，变化时使进程内全部端口失效
func (p *Process) CheckFork() bool {
	return p.reg.CheckFork()
}

// DefaultSendOptions 返回按配置填充的发送选项
func (p *Process) DefaultSendOptions() SendOptions {
	return p.factory.DefaultSendOptions()
}

// ============================================================================
//                              端口
// ============================================================================

// CreateLocalPort 创建全局范围的本地端口
//
// 同名且仍有效的本地端口已存在时返回已有端口。name 为空时创建匿名端口。
func (p *Process) CreateLocalPort(name string, cb Callback, ctx Context) (*MessagePort, error) {
	if p.isClosed() {
		return nil, ErrProcessClosed
	}
	return p.factory.CreateLocal(name, cb, ctx)
}

// CreatePerProcessLocalPort 创建仅在本进程范围内可见的本地端口
func (p *Process) CreatePerProcessLocalPort(name string, cb Callback, ctx Context) (*MessagePort, error) {
	if p.isClosed() {
		return nil, ErrProcessClosed
	}
	return p.factory.CreatePerProcessLocal(name, cb, ctx)
}

// CreateRemotePort 查找全局范围的名字并创建远程端口
func (p *Process) CreateRemotePort(name string) (*MessagePort, error) {
	if p.isClosed() {
		return nil, ErrProcessClosed
	}
	return p.factory.CreateRemote(name)
}

// CreatePerProcessRemotePort 查找 pid 进程范围内的名字并创建远程端口
func (p *Process) CreatePerProcessRemotePort(name string, pid int) (*MessagePort, error) {
	if p.isClosed() {
		return nil, ErrProcessClosed
	}
	return p.factory.CreatePerProcessRemote(name, pid)
}

// ============================================================================
//                              运行循环与工作队列
// ============================================================================

// NewRunLoop 创建运行循环并安装进程的死亡通知事件源
//
// 死亡通知事件源注册在公共模式下，远程端点死亡时对应的远程端口随之失效。
func (p *Process) NewRunLoop() *RunLoop {
	loop := reactor.New(reactor.WithClock(p.m.kernel.Clock()))
	p.mgr.InstallNotifySource(loop)
	p.mu.Lock()
	p.loops = append(p.loops, loop)
	p.mu.Unlock()
	return loop
}

// NewWorkQueue 创建并发度为配置值的工作队列
func (p *Process) NewWorkQueue() *WorkQueue {
	q := reactor.NewQueue(p.m.cfg.MessagePort.DispatchConcurrency)
	p.mu.Lock()
	p.queues = append(p.queues, q)
	p.mu.Unlock()
	return q
}

// ============================================================================
//                              关闭
// ============================================================================

func (p *Process) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close 终止进程
//
// 进程接收的全部端点死亡，其他进程中指向它们的远程端口随之失效。
func (p *Process) Close() error {
	err := p.close()
	p.m.forget(p)
	return err
}

func (p *Process) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	loops := p.loops
	queues := p.queues
	p.loops, p.queues = nil, nil
	p.mu.Unlock()

	for _, l := range loops {
		p.mgr.DetachReactor(l)
		l.Stop()
	}
	p.task.Terminate()

	var err error
	for _, q := range queues {
		err = multierr.Append(err, q.Close())
	}
	log.Debug("进程关闭", "pid", p.task.PID())
	return err
}
