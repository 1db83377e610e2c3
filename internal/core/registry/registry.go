package registry

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dep2p/go-msgport/internal/util/logger"
	"github.com/dep2p/go-msgport/pkg/types"
)

var log = logger.Logger("registry")

// Entry 句柄表中的端口包装
type Entry interface {
	// Invalidate 使包装失效（幂等）
	Invalidate()
	// TryRetain 增加一次引用；包装已失效或引用已归零时返回 false
	TryRetain() bool
}

// Named 名字表中的命名消息端口
type Named interface {
	// IsValid 是否仍有效
	IsValid() bool
}

// Option 注册表选项
type Option func(*Registry)

// WithIdentity 设置进程标识提供者
//
// 标识变化被视为发生了 fork。
func WithIdentity(fn func() int) Option {
	return func(r *Registry) {
		if fn != nil {
			r.identity = fn
		}
	}
}

// Registry 进程级端点注册表
type Registry struct {
	mu       sync.Mutex
	identity func() int
	pid      int

	handles map[types.Handle]Entry
	locals  map[string]Named
	remotes map[string]Named

	notify      types.Handle
	notifyEntry Entry
}

// New 创建注册表
func New(opts ...Option) *Registry {
	r := &Registry{
		identity: unix.Getpid,
		handles:  make(map[types.Handle]Entry),
		locals:   make(map[string]Named),
		remotes:  make(map[string]Named),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pid = r.identity()
	return r
}

// ============================================================================
//                              fork 检测
// ============================================================================

// CheckFork 检查进程标识
//
// 标识变化时记录新标识、清空句柄表和死亡通知端点，并在锁外使所有包装失效。
// 返回是否检测到 fork。
func (r *Registry) CheckFork() bool {
	pid := r.identity()

	r.mu.Lock()
	if pid == r.pid {
		r.mu.Unlock()
		return false
	}
	old := r.pid
	r.pid = pid
	entries := make([]Entry, 0, len(r.handles))
	for _, e := range r.handles {
		entries = append(entries, e)
	}
	r.handles = make(map[types.Handle]Entry)
	r.notify = types.NullHandle
	r.notifyEntry = nil
	r.mu.Unlock()

	log.Info("检测到进程标识变化，失效全部端口", "old", old, "new", pid, "ports", len(entries))
	for _, e := range entries {
		e.Invalidate()
	}
	return true
}

// PID 返回最近记录的进程标识
func (r *Registry) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}

// ============================================================================
//                              句柄表
// ============================================================================

// LookupOrInsert 查找句柄的包装，不存在时调用 factory 构造并插入
//
// 命中的包装已增加一次引用；正在失效的包装视为不存在并被新包装取代。
// factory 在全局锁内调用，不得回调注册表。返回包装以及是否新建。
func (r *Registry) LookupOrInsert(h types.Handle, factory func() (Entry, error)) (Entry, bool, error) {
	r.CheckFork()

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.handles[h]; ok {
		if e.TryRetain() {
			return e, false, nil
		}
		log.Debug("句柄的包装正在失效，重新创建", "handle", h)
	}
	e, err := factory()
	if err != nil {
		return nil, false, err
	}
	r.handles[h] = e
	return e, true, nil
}

// Lookup 查找句柄的包装
func (r *Registry) Lookup(h types.Handle) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.handles[h]
	return e, ok
}

// Remove 移除句柄表项（仅当仍指向 e），返回是否移除
func (r *Registry) Remove(h types.Handle, e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.handles[h]; !ok || cur != e {
		return false
	}
	delete(r.handles, h)
	return true
}

// Take 移除并返回句柄的包装
func (r *Registry) Take(h types.Handle) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.handles[h]
	if ok {
		delete(r.handles, h)
	}
	return e, ok
}

// Len 返回句柄表大小
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// ============================================================================
//                              死亡通知端点
// ============================================================================

// NotifyHandle 返回死亡通知端点，首次调用时在全局锁内用 alloc 分配
//
// created 为 true 时调用方负责为其创建包装并调用 SetNotifyEntry。
func (r *Registry) NotifyHandle(alloc func() (types.Handle, error)) (h types.Handle, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.notify.IsNull() {
		return r.notify, false, nil
	}
	h, err = alloc()
	if err != nil {
		return types.NullHandle, false, err
	}
	r.notify = h
	return h, true, nil
}

// IsNotify 句柄是否为死亡通知端点
func (r *Registry) IsNotify(h types.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !h.IsNull() && h == r.notify
}

// SetNotifyEntry 记录死亡通知端点的包装
func (r *Registry) SetNotifyEntry(h types.Handle, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == r.notify {
		r.notifyEntry = e
	}
}

// NotifyEntry 返回死亡通知端点的包装
func (r *Registry) NotifyEntry() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notifyEntry, r.notifyEntry != nil
}

// ============================================================================
//                              名字表
// ============================================================================

func (r *Registry) table(dir types.Direction) map[string]Named {
	if dir == types.DirectionRemote {
		return r.remotes
	}
	return r.locals
}

// LookupName 按名字查找命名消息端口
func (r *Registry) LookupName(dir types.Direction, name string) (Named, bool) {
	r.CheckFork()

	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.table(dir)[name]
	return n, ok
}

// InsertName 插入名字；名字已存在时返回已有项和 false（胜者通吃）
func (r *Registry) InsertName(dir types.Direction, name string, n Named) (Named, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.table(dir)
	if cur, ok := t[name]; ok {
		return cur, false
	}
	t[name] = n
	return n, true
}

// ReplaceName 仅当名字仍映射到 old（或未映射）时改为 n
func (r *Registry) ReplaceName(dir types.Direction, name string, old, n Named) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.table(dir)
	if cur, ok := t[name]; ok && cur != old {
		return false
	}
	t[name] = n
	return true
}

// RemoveName 仅当名字仍映射到 n 时移除
func (r *Registry) RemoveName(dir types.Direction, name string, n Named) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.table(dir)
	if cur, ok := t[name]; !ok || cur != n {
		return false
	}
	delete(t, name)
	return true
}

// Remotes 返回所有远程命名消息端口的快照
func (r *Registry) Remotes() []Named {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Named, 0, len(r.remotes))
	for _, n := range r.remotes {
		out = append(out, n)
	}
	return out
}
