package msgport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-msgport/config"
	"github.com/dep2p/go-msgport/internal/core/port"
	"github.com/dep2p/go-msgport/internal/core/registry"
	"github.com/dep2p/go-msgport/internal/util/logger"
	"github.com/dep2p/go-msgport/pkg/interfaces"
	"github.com/dep2p/go-msgport/pkg/types"
)

var log = logger.Logger("msgport")

// Option 工厂选项
type Option func(*Factory)

// WithConfig 设置命名消息端口配置
func WithConfig(cfg config.MessagePortConfig) Option {
	return func(f *Factory) {
		f.cfg = cfg
	}
}

// WithMetrics 设置流量上报
func WithMetrics(r interfaces.MetricsReporter) Option {
	return func(f *Factory) {
		if r != nil {
			f.metrics = r
		}
	}
}

// WithClock 设置等待回复使用的时钟
func WithClock(c clock.Clock) Option {
	return func(f *Factory) {
		if c != nil {
			f.clock = c
		}
	}
}

// Factory 进程内的命名消息端口工厂
type Factory struct {
	mgr     *port.Manager
	dir     interfaces.Directory
	cfg     config.MessagePortConfig
	metrics interfaces.MetricsReporter
	clock   clock.Clock
	drops   *logger.Limited

	// createMu 串行化按名字去重的创建和改名
	createMu sync.Mutex
}

// NewFactory 创建命名消息端口工厂
func NewFactory(mgr *port.Manager, dir interfaces.Directory, opts ...Option) *Factory {
	f := &Factory{
		mgr:     mgr,
		dir:     dir,
		cfg:     config.DefaultMessagePortConfig(),
		metrics: nopMetrics{},
		clock:   clock.New(),
		drops:   logger.NewLimited(log, dropLogEvery, dropLogBurst),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Manager 返回端口包装工厂
func (f *Factory) Manager() *port.Manager {
	return f.mgr
}

// Config 返回命名消息端口配置
func (f *Factory) Config() config.MessagePortConfig {
	return f.cfg
}

// DefaultSendOptions 返回按配置填充的发送选项
func (f *Factory) DefaultSendOptions() SendOptions {
	return SendOptions{
		SendTimeout:    f.cfg.SendTimeout.Std(),
		ReceiveTimeout: f.cfg.ReceiveTimeout.Std(),
		ReplyMode:      f.cfg.ReplyMode,
	}
}

func (f *Factory) registry() *registry.Registry {
	return f.mgr.Registry()
}

// ============================================================================
//                              本地端口
// ============================================================================

// CreateLocal 创建全局范围的本地端口
//
// 同名且仍有效的本地端口已存在时返回已有端口，新的回调和上下文被忽略。
// name 为空时创建匿名端口，匿名端口在 SetName 之前没有原生端点。
func (f *Factory) CreateLocal(name string, cb Callback, ctx port.Context) (*MessagePort, error) {
	return f.createLocal(name, false, cb, ctx)
}

// CreatePerProcessLocal 创建进程范围的本地端口（不去重）
func (f *Factory) CreatePerProcessLocal(name string, cb Callback, ctx port.Context) (*MessagePort, error) {
	return f.createLocal(name, true, cb, ctx)
}

func (f *Factory) createLocal(name string, perPID bool, cb Callback, ctx port.Context) (*MessagePort, error) {
	f.registry().CheckFork()

	name, err := sanitizeName(name)
	if err != nil {
		return nil, err
	}
	if perPID && name == "" {
		return nil, fmt.Errorf("%w: per-process port requires a name", types.ErrNameInvalid)
	}
	shared := !perPID && name != ""
	if shared {
		f.createMu.Lock()
		defer f.createMu.Unlock()
		if existing, ok := f.lookupValid(types.DirectionLocal, name); ok {
			return existing, nil
		}
	}

	mp := newMessagePort(f, name, false, perPID, cb)
	if name != "" {
		scope := types.GlobalScope()
		if perPID {
			scope = types.PerProcessScope(f.mgr.Transport().PID())
		}
		w, err := f.bind(name, scope, mp.perform)
		if err != nil {
			if shared && errors.Is(err, types.ErrNameUnavailable) {
				if existing, ok := f.lookupValid(types.DirectionLocal, name); ok {
					return existing, nil
				}
			}
			return nil, err
		}
		mp.attach(w, true)
	}
	mp.ctx = ctx.RetainInfo()

	if shared {
		winner, won := f.claimName(types.DirectionLocal, name, mp)
		if !won {
			mp.Invalidate()
			return winner, nil
		}
	}
	log.Debug("创建本地端口", "port", mp)
	return mp, nil
}

// bind 为名字建立接收端点：先领取预声明服务，失败时分配新端点并注册
func (f *Factory) bind(name string, scope types.Scope, cb port.Callback) (*port.Wrapper, error) {
	t := f.mgr.Transport()
	if !scope.PerProcess {
		if h, err := f.dir.CheckIn(name); err == nil {
			if err := t.InsertSendRight(h); err != nil {
				if rerr := t.ReleaseRight(h, types.RightReceive); rerr != nil {
					log.Debug("释放领取的接收权限失败", "name", name, "err", rerr)
				}
				return nil, fmt.Errorf("%w: %v", types.ErrAllocationFailed, err)
			}
			w, _, err := f.mgr.CreateWithHandle(h, port.RightsSend|port.RightsReceive, cb, port.Context{})
			if err != nil {
				return nil, err
			}
			return w, nil
		}
	}

	w, err := f.mgr.Create(cb, port.Context{})
	if err != nil {
		return nil, err
	}
	if err := f.dir.Register(name, w.Handle(), scope); err != nil {
		w.Invalidate()
		return nil, fmt.Errorf("%w: %q: %v", types.ErrNameUnavailable, name, err)
	}
	return w, nil
}

// ============================================================================
//                              远程端口
// ============================================================================

// CreateRemote 查找全局范围的名字并创建远程端口
func (f *Factory) CreateRemote(name string) (*MessagePort, error) {
	return f.createRemote(name, types.GlobalScope())
}

// CreatePerProcessRemote 查找 pid 进程范围内的名字并创建远程端口（不去重）
func (f *Factory) CreatePerProcessRemote(name string, pid int) (*MessagePort, error) {
	return f.createRemote(name, types.PerProcessScope(pid))
}

func (f *Factory) createRemote(name string, scope types.Scope) (*MessagePort, error) {
	f.registry().CheckFork()

	name, err := sanitizeName(name)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: remote port requires a name", types.ErrNameInvalid)
	}
	if !scope.PerProcess {
		f.createMu.Lock()
		defer f.createMu.Unlock()
		if existing, ok := f.lookupValid(types.DirectionRemote, name); ok {
			return existing, nil
		}
	}

	h, err := f.dir.Lookup(name, scope)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %q: %v", types.ErrPortIsInvalid, name, err)
	}
	w, created, err := f.mgr.CreateWithHandle(h, port.RightsSend, nil, port.Context{})
	if err != nil {
		if rerr := f.mgr.Transport().ReleaseRight(h, types.RightSend); rerr != nil {
			log.Debug("释放查找到的发送权限失败", "name", name, "err", rerr)
		}
		return nil, err
	}

	mp := newMessagePort(f, name, true, scope.PerProcess, nil)
	mp.attach(w, created)
	if !mp.IsValid() {
		return nil, fmt.Errorf("%w: %q", types.ErrPortIsInvalid, name)
	}

	if !scope.PerProcess {
		winner, won := f.claimName(types.DirectionRemote, name, mp)
		if !won {
			mp.Invalidate()
			return winner, nil
		}
	}
	log.Debug("创建远程端口", "port", mp)
	return mp, nil
}

// ============================================================================
//                              名字表
// ============================================================================

// lookupValid 查找仍有效的同名端口
func (f *Factory) lookupValid(dir types.Direction, name string) (*MessagePort, bool) {
	n, ok := f.registry().LookupName(dir, name)
	if !ok {
		return nil, false
	}
	mp := n.(*MessagePort)
	if !mp.IsValid() {
		return nil, false
	}
	return mp, true
}

// claimName 把名字登记到 mp
//
// 名字被另一个仍有效的端口占用时返回该端口和 false；占用者已失效时替换之。
func (f *Factory) claimName(dir types.Direction, name string, mp *MessagePort) (*MessagePort, bool) {
	reg := f.registry()
	for {
		cur, ok := reg.InsertName(dir, name, mp)
		if ok {
			return mp, true
		}
		existing := cur.(*MessagePort)
		if existing == mp {
			return mp, true
		}
		if existing.IsValid() {
			return existing, false
		}
		if reg.ReplaceName(dir, name, cur, mp) {
			return mp, true
		}
	}
}
