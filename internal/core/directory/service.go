package directory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dep2p/go-msgport/internal/core/kernel"
	"github.com/dep2p/go-msgport/internal/util/logger"
	"github.com/dep2p/go-msgport/pkg/interfaces"
	"github.com/dep2p/go-msgport/pkg/types"
)

var log = logger.Logger("directory")

// DefaultMaxRegistrations 默认最大注册数
const DefaultMaxRegistrations = 4096

// declared 预声明的服务
type declared struct {
	handle  types.Handle
	claimed bool
}

// Service 命名目录服务
type Service struct {
	task  *kernel.Task
	store *Store

	mu       sync.Mutex
	declared map[string]*declared
	closed   bool
}

// NewService 创建目录服务
func NewService(k *kernel.Kernel, maxRegistrations int) *Service {
	if maxRegistrations <= 0 {
		maxRegistrations = DefaultMaxRegistrations
	}
	return &Service{
		task:     k.NewTask(),
		store:    NewStore(maxRegistrations),
		declared: make(map[string]*declared),
	}
}

// Store 返回注册存储
func (s *Service) Store() *Store {
	return s.store
}

// Task 返回目录任务
func (s *Service) Task() *kernel.Task {
	return s.task
}

// Declare 预声明服务
//
// 目录为 name 分配端点并以全局范围注册；进程随后可通过 CheckIn 领取接收权限。
func (s *Service) Declare(name string) error {
	if name == "" {
		return ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.declared[name]; ok {
		return nil
	}
	if reg, ok := s.store.Get(name, types.GlobalScope()); ok && s.task.Alive(reg.Handle) {
		return ErrNameInUse
	}

	h, err := s.task.Allocate()
	if err != nil {
		return fmt.Errorf("declare %q: %w", name, err)
	}
	if err := s.add(name, h, types.GlobalScope(), s.task.PID()); err != nil {
		s.task.ReleaseRight(h, types.RightSend)
		s.task.ReleaseRight(h, types.RightReceive)
		return err
	}
	s.declared[name] = &declared{handle: h}
	log.Debug("预声明服务", "name", name)
	return nil
}

// add 保存注册并释放被替换的旧注册（h 为目录任务中的发送权限）
func (s *Service) add(name string, h types.Handle, scope types.Scope, owner int) error {
	old, err := s.store.Add(&Registration{Name: name, Scope: scope, Handle: h, OwnerPID: owner})
	if errors.Is(err, ErrMaxRegistrationsExceeded) && s.Sweep() > 0 {
		old, err = s.store.Add(&Registration{Name: name, Scope: scope, Handle: h, OwnerPID: owner})
	}
	if err != nil {
		return err
	}
	if old != nil {
		s.release(old.Handle)
	}
	return nil
}

// release 释放目录任务中的一个发送权限或死亡名
func (s *Service) release(h types.Handle) {
	kind := types.RightSend
	if rs, ok := s.task.Rights(h); ok && rs.Send == 0 {
		kind = types.RightDeadName
	}
	if err := s.task.ReleaseRight(h, kind); err != nil {
		log.Debug("释放注册权限失败", "handle", h, "err", err)
	}
}

// Sweep 移除端点已死亡的注册，返回移除数量
func (s *Service) Sweep() int {
	removed := 0
	for _, reg := range s.store.All() {
		if s.task.Alive(reg.Handle) {
			continue
		}
		if _, ok := s.store.Remove(reg.Name, reg.Scope, reg); ok {
			s.release(reg.Handle)
			removed++
		}
	}
	if removed > 0 {
		log.Debug("清理死亡注册", "count", removed)
	}
	return removed
}

// Close 关闭目录，释放全部注册
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.task.Terminate()
	return nil
}

// Client 返回绑定到 task 的目录客户端
func (s *Service) Client(task *kernel.Task) interfaces.Directory {
	return &client{svc: s, task: task}
}

// ============================================================================
//                              客户端
// ============================================================================

var _ interfaces.Directory = (*client)(nil)

// client 某个任务的目录客户端
type client struct {
	svc  *Service
	task *kernel.Task
}

// CheckIn 领取预声明服务的接收权限
func (c *client) CheckIn(name string) (types.Handle, error) {
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.NullHandle, ErrClosed
	}
	d, ok := s.declared[name]
	if !ok {
		return types.NullHandle, ErrNotDeclared
	}
	if d.claimed {
		return types.NullHandle, ErrAlreadyCheckedIn
	}
	h, err := s.task.MoveReceiveTo(c.task, d.handle)
	if err != nil {
		return types.NullHandle, fmt.Errorf("check in %q: %w", name, err)
	}
	d.claimed = true
	log.Debug("领取服务", "name", name, "pid", c.task.PID())
	return h, nil
}

// Register 注册 name → h
func (c *client) Register(name string, h types.Handle, scope types.Scope) error {
	if name == "" {
		return ErrInvalidName
	}
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if reg, ok := s.store.Get(name, scope); ok && s.task.Alive(reg.Handle) {
		return ErrNameInUse
	}

	dh, err := c.task.CopySendTo(s.task, h)
	if err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	if err := s.add(name, dh, scope, c.task.PID()); err != nil {
		s.release(dh)
		return err
	}
	log.Debug("注册名字", "name", name, "scope", scope, "pid", c.task.PID())
	return nil
}

// Lookup 查找名字，把发送权限拷贝到调用方任务
func (c *client) Lookup(name string, scope types.Scope) (types.Handle, error) {
	s := c.svc
	reg, ok := s.store.Get(name, scope)
	if !ok {
		return types.NullHandle, ErrNotFound
	}
	h, err := s.task.CopySendTo(c.task, reg.Handle)
	if err != nil {
		if _, removed := s.store.Remove(name, scope, reg); removed {
			s.release(reg.Handle)
		}
		return types.NullHandle, ErrNotFound
	}
	return h, nil
}

// Unregister 注销名字
func (c *client) Unregister(name string, scope types.Scope) error {
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.store.Remove(name, scope, nil)
	if !ok {
		return ErrNotFound
	}
	s.release(reg.Handle)
	return nil
}
