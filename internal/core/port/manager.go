package port

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dep2p/go-msgport/internal/core/registry"
	"github.com/dep2p/go-msgport/internal/util/logger"
	"github.com/dep2p/go-msgport/pkg/interfaces"
	"github.com/dep2p/go-msgport/pkg/types"
)

var log = logger.Logger("port")

// NotifyOrder 死亡通知事件源的服务顺序（早于普通事件源）
const NotifyOrder = -1000

// Rights 调用方移交给包装的权限
type Rights uint8

const (
	// RightsNone 不移交权限
	RightsNone Rights = 0
	// RightsSend 移交一个发送权限
	RightsSend Rights = 1 << 0
	// RightsReceive 移交接收权限
	RightsReceive Rights = 1 << 1
)

// Manager 进程内的端口包装工厂
//
// 持有进程的传输原语和注册表，并把死亡通知事件源安装到关联的反应器。
type Manager struct {
	transport interfaces.Transport
	reg       *registry.Registry

	mu    sync.Mutex
	loops map[interfaces.Reactor]struct{}
}

// NewManager 创建端口包装工厂
func NewManager(t interfaces.Transport, reg *registry.Registry) *Manager {
	return &Manager{
		transport: t,
		reg:       reg,
		loops:     make(map[interfaces.Reactor]struct{}),
	}
}

// Transport 返回传输原语
func (m *Manager) Transport() interfaces.Transport {
	return m.transport
}

// Registry 返回注册表
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

// Lookup 查找句柄的包装
func (m *Manager) Lookup(h types.Handle) (*Wrapper, bool) {
	e, ok := m.reg.Lookup(h)
	if !ok {
		return nil, false
	}
	w, ok := e.(*Wrapper)
	return w, ok
}

// ============================================================================
//                              创建
// ============================================================================

// Create 分配新端点并包装，包装拥有其接收权限和发送权限
func (m *Manager) Create(cb Callback, ctx Context) (*Wrapper, error) {
	m.reg.CheckFork()

	h, err := m.transport.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAllocationFailed, err)
	}
	w, _, err := m.CreateWithHandle(h, RightsSend|RightsReceive, cb, ctx)
	if err != nil {
		m.releaseRaw(h, RightsSend|RightsReceive)
		return nil, err
	}
	return w, nil
}

// CreateWithHandle 包装调用方已持有权限的句柄
//
// 已有包装时返回已有包装（引用计数加一），调用方通过 rights 移交的发送权限被立即释放；
// 否则新包装拥有 rights 指定的权限。返回是否新建。
func (m *Manager) CreateWithHandle(h types.Handle, rights Rights, cb Callback, ctx Context) (*Wrapper, bool, error) {
	notify, notifyCreated, err := m.reg.NotifyHandle(m.allocNotify)
	if err != nil {
		return nil, false, fmt.Errorf("%w: notify port: %v", types.ErrAllocationFailed, err)
	}

	held := ctx.RetainInfo()
	e, created, err := m.reg.LookupOrInsert(h, func() (registry.Entry, error) {
		if h != notify {
			if err := m.transport.RequestDeathNotification(h, notify); err != nil {
				return nil, fmt.Errorf("request death notification: %w", err)
			}
		}
		return newWrapper(m, h, rights, cb, held), nil
	})
	if err != nil {
		held.ReleaseInfo()
		return nil, false, err
	}

	w := e.(*Wrapper)
	if !created {
		held.ReleaseInfo()
		if rights&RightsReceive != 0 {
			log.Warn("已包装的句柄移交了接收权限，忽略", "handle", h)
		}
		if rights&RightsSend != 0 {
			m.releaseRaw(h, RightsSend)
		}
	}

	if notifyCreated {
		nw, _, err := m.CreateWithHandle(notify, RightsReceive, m.handleDeadName, Context{})
		if err != nil {
			log.Warn("创建死亡通知端口失败", "err", err)
		} else {
			m.reg.SetNotifyEntry(notify, nw)
			m.installNotify(nw)
		}
	}
	return w, created, nil
}

// allocNotify 分配死亡通知端点（只保留接收权限）
func (m *Manager) allocNotify() (types.Handle, error) {
	h, err := m.transport.Allocate()
	if err != nil {
		return types.NullHandle, err
	}
	if err := m.transport.ReleaseRight(h, types.RightSend); err != nil {
		log.Debug("释放死亡通知端点的发送权限失败", "err", err)
	}
	return h, nil
}

// releaseRaw 释放未被任何包装跟踪的权限（先发送后接收）
func (m *Manager) releaseRaw(h types.Handle, rights Rights) {
	if rights&RightsSend != 0 {
		kind := types.RightSend
		if !m.transport.Alive(h) {
			kind = types.RightDeadName
		}
		if err := m.transport.ReleaseRight(h, kind); err != nil {
			log.Debug("释放发送权限失败", "handle", h, "err", err)
		}
	}
	if rights&RightsReceive != 0 {
		if err := m.transport.ReleaseRight(h, types.RightReceive); err != nil {
			log.Debug("释放接收权限失败", "handle", h, "err", err)
		}
	}
}

// ============================================================================
//                              死亡通知
// ============================================================================

// handleDeadName 死亡通知回调：使死亡句柄的包装失效
func (m *Manager) handleDeadName(_ *Wrapper, msg *types.Message, _ any) *types.Message {
	h, ok := msg.Header()
	if !ok || h.ID != types.NotifyDeadName || len(msg.Data) < types.HeaderSize+4 {
		return nil
	}
	dead := types.Handle(binary.LittleEndian.Uint32(msg.Data[types.HeaderSize:]))
	if e, ok := m.reg.Take(dead); ok {
		log.Debug("端点死亡，失效包装", "handle", dead)
		e.Invalidate()
	}
	return nil
}

// InstallNotifySource 把死亡通知事件源安装到反应器的公共模式
//
// 死亡通知端点尚未创建时记录反应器，创建后补装。
func (m *Manager) InstallNotifySource(loop interfaces.Reactor) {
	m.mu.Lock()
	m.loops[loop] = struct{}{}
	m.mu.Unlock()

	if e, ok := m.reg.NotifyEntry(); ok {
		if src := e.(*Wrapper).Source(NotifyOrder); src != nil {
			loop.AddSource(src, interfaces.CommonModes)
		}
	}
}

// NotifySource 返回死亡通知事件源，尚未创建时返回 nil
func (m *Manager) NotifySource() *Source {
	e, ok := m.reg.NotifyEntry()
	if !ok {
		return nil
	}
	return e.(*Wrapper).Source(NotifyOrder)
}

// DetachReactor 不再向反应器安装死亡通知事件源
func (m *Manager) DetachReactor(loop interfaces.Reactor) {
	m.mu.Lock()
	delete(m.loops, loop)
	m.mu.Unlock()
}

// installNotify 把新建的死亡通知事件源安装到所有已记录的反应器
func (m *Manager) installNotify(nw *Wrapper) {
	src := nw.Source(NotifyOrder)
	if src == nil {
		return
	}
	m.mu.Lock()
	loops := make([]interfaces.Reactor, 0, len(m.loops))
	for l := range m.loops {
		loops = append(loops, l)
	}
	m.mu.Unlock()

	for _, l := range loops {
		l.AddSource(src, interfaces.CommonModes)
	}
}
