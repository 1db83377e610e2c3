package interfaces

import "github.com/dep2p/go-msgport/pkg/types"

// Directory 命名目录客户端
//
// 核心层把目录的所有失败视为名字不可用/未找到。
type Directory interface {
	// CheckIn 领取进程启动时预声明的服务端点（接收权限）
	CheckIn(name string) (types.Handle, error)

	// Register 以 scope 注册 name → h
	Register(name string, h types.Handle, scope types.Scope) error

	// Lookup 查找名字，返回调用方命名空间中的发送权限
	Lookup(name string, scope types.Scope) (types.Handle, error)

	// Unregister 注销名字
	Unregister(name string, scope types.Scope) error
}
