package directory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-msgport/pkg/types"
)

// ============================================================================
//                              注册记录
// ============================================================================

// Registration 注册记录
type Registration struct {
	// Name 服务名
	Name string

	// Scope 可见范围
	Scope types.Scope

	// Handle 目录任务中的发送权限句柄名
	Handle types.Handle

	// OwnerPID 注册方进程标识
	OwnerPID int

	// RegisteredAt 注册时间
	RegisteredAt time.Time
}

// ============================================================================
//                              Store 存储
// ============================================================================

// Store 注册信息存储
type Store struct {
	maxRegistrations int

	// registrations: name -> scope -> Registration
	registrations map[string]map[types.Scope]*Registration

	// ownerNames: pid -> set of names
	ownerNames map[int]map[string]struct{}

	mu sync.RWMutex

	// 统计
	total    int
	replaced atomic.Uint64
}

// NewStore 创建存储
func NewStore(maxRegistrations int) *Store {
	return &Store{
		maxRegistrations: maxRegistrations,
		registrations:    make(map[string]map[types.Scope]*Registration),
		ownerNames:       make(map[int]map[string]struct{}),
	}
}

// Add 添加注册，返回被替换的旧注册（可能为 nil）
func (s *Store) Add(reg *Registration) (*Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scopes, exists := s.registrations[reg.Name]
	if !exists {
		scopes = make(map[types.Scope]*Registration)
	}
	old := scopes[reg.Scope]
	if old == nil && s.total >= s.maxRegistrations {
		return nil, ErrMaxRegistrationsExceeded
	}
	if !exists {
		s.registrations[reg.Name] = scopes
	}

	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now()
	}
	scopes[reg.Scope] = reg

	if old != nil {
		s.unindex(old)
		s.replaced.Add(1)
	} else {
		s.total++
	}
	if _, exists := s.ownerNames[reg.OwnerPID]; !exists {
		s.ownerNames[reg.OwnerPID] = make(map[string]struct{})
	}
	s.ownerNames[reg.OwnerPID][reg.Name] = struct{}{}

	return old, nil
}

// Get 查询注册
func (s *Store) Get(name string, scope types.Scope) (*Registration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.registrations[name][scope]
	return reg, ok
}

// Remove 移除注册；reg 非 nil 时仅当当前注册仍是 reg 才移除
func (s *Store) Remove(name string, scope types.Scope, reg *Registration) (*Registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scopes, exists := s.registrations[name]
	if !exists {
		return nil, false
	}
	cur, exists := scopes[scope]
	if !exists || (reg != nil && cur != reg) {
		return nil, false
	}

	delete(scopes, scope)
	if len(scopes) == 0 {
		delete(s.registrations, name)
	}
	s.total--
	s.unindex(cur)
	return cur, true
}

// unindex 更新 owner -> names 索引（需持有锁）
func (s *Store) unindex(reg *Registration) {
	names, exists := s.ownerNames[reg.OwnerPID]
	if !exists {
		return
	}
	for scope := range s.registrations[reg.Name] {
		if r := s.registrations[reg.Name][scope]; r != nil && r.OwnerPID == reg.OwnerPID {
			return
		}
	}
	delete(names, reg.Name)
	if len(names) == 0 {
		delete(s.ownerNames, reg.OwnerPID)
	}
}

// OwnerNames 获取进程注册的所有名字
func (s *Store) OwnerNames(pid int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, exists := s.ownerNames[pid]
	if !exists {
		return nil
	}
	result := make([]string, 0, len(names))
	for name := range names {
		result = append(result, name)
	}
	return result
}

// All 返回所有注册的快照
func (s *Store) All() []*Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Registration, 0, s.total)
	for _, scopes := range s.registrations {
		for _, reg := range scopes {
			result = append(result, reg)
		}
	}
	return result
}

// ============================================================================
//                              统计
// ============================================================================

// Stats 统计信息
type Stats struct {
	TotalRegistrations int
	TotalNames         int
	Replaced           uint64
}

// Stats 返回统计信息
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		TotalRegistrations: s.total,
		TotalNames:         len(s.registrations),
		Replaced:           s.replaced.Load(),
	}
}
